package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
)

// Build info, injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const usage = `wg-tunnels %s

Usage:
  wg-tunnels serve [--config=<path>] [--ephemeral] [options]
  wg-tunnels list [options]
  wg-tunnels show <name> [options]
  wg-tunnels import <file>... [options]
  wg-tunnels activate <name> [--show] [options]
  wg-tunnels deactivate <name> [options]
  wg-tunnels restart <name> [options]
  wg-tunnels remove <name>... [options]
  wg-tunnels rename <name> <newname> [options]
  wg-tunnels move <name> <index> [options]
  wg-tunnels on-demand <name> (on|off) [--rules=<option>] [--ssids=<list>] [--ssid-match=<match>] [options]
  wg-tunnels recents [--limit=<n>] [options]
  wg-tunnels quick-actions [options]
  wg-tunnels events [options]
  wg-tunnels logs [--tail=<n>] [--level=<level>] [--tag=<tag>] [options]
  wg-tunnels -h | --help
  wg-tunnels --version | version

Options:
  -a --api=<addr>       Daemon API address [default: 127.0.0.1:51900].
  --json                Print JSON instead of text.
  -v --verbose          Enable debug logging.
  -h --help             Show this screen.
  --config=<path>       Daemon configuration file [default: /etc/wg-tunnels/config.yaml].
  --ephemeral           Keep tunnels in memory and simulate the VPN layer.
  --show                Wait for the activation and print the tunnel.
  --rules=<option>      On-demand interfaces: any, wifi or non_wifi [default: any].
  --ssids=<list>        Comma-separated Wi-Fi networks for --ssid-match.
  --ssid-match=<match>  any, only or except [default: any].
  --limit=<n>           Number of entries [default: 10].
  --tail=<n>            Number of log lines [default: 200].
  --level=<level>       Minimum log level [default: info].
  --tag=<tag>           Only lines from this component.

Commands:
  serve           Runs the daemon: tunnel manager, on-demand, jobs and the API.
  list            Lists tunnels in order with their status.
  show            Prints one tunnel including its wg-quick configuration.
  import          Adds tunnels from wg-quick files, named after the file.
  activate        Activates a tunnel. With --show, waits and prints it.
  deactivate      Deactivates a tunnel.
  restart         Re-applies the configuration of an active tunnel.
  remove          Removes tunnels, deactivating them first.
  rename          Renames a tunnel.
  move            Moves a tunnel to a new position.
  on-demand       Turns on-demand activation on or off for a tunnel.
  recents         Lists recently activated tunnels.
  quick-actions   Prints the quick-action list.
  events          Streams manager events.
  logs            Prints recent daemon log lines.
`

func main() {
	arguments, err := docopt.ParseArgs(fmt.Sprintf(usage, version), os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if b, _ := arguments.Bool("version"); b {
		fmt.Printf("wg-tunnels %s (commit=%s, built=%s)\n", version, commit, buildDate)
		return
	}

	if b, _ := arguments.Bool("serve"); b {
		configPath, _ := arguments.String("--config")
		ephemeral, _ := arguments.Bool("--ephemeral")
		verbose, _ := arguments.Bool("--verbose")
		if err := serve(resolveRelativeToExe(configPath), ephemeral, verbose); err != nil {
			fmt.Fprintf(os.Stderr, "wg-tunnels: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runCommand(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "wg-tunnels: %v\n", err)
		os.Exit(1)
	}
}
