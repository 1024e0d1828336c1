package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"go.uber.org/multierr"

	"wg-tunnels/internal/client"
	"wg-tunnels/internal/core"
	"wg-tunnels/internal/service"
)

var commands = []string{
	"list", "show", "import", "activate", "deactivate", "restart", "remove",
	"rename", "move", "on-demand", "recents", "quick-actions", "events", "logs",
}

// cli runs one client subcommand against the daemon.
type cli struct {
	args docopt.Opts
	c    *client.Client
	json bool
}

func runCommand(arguments docopt.Opts) error {
	addr, _ := arguments.String("--api")
	asJSON, _ := arguments.Bool("--json")
	x := &cli{args: arguments, c: client.New(addr), json: asJSON}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, name := range commands {
		if b, _ := arguments.Bool(name); b {
			return x.run(ctx, name)
		}
	}
	return fmt.Errorf("no command given")
}

func (x *cli) run(ctx context.Context, cmd string) error {
	switch cmd {
	case "list":
		return x.list(ctx)
	case "show":
		tn, err := x.c.Get(ctx, x.name())
		if err != nil {
			return err
		}
		return x.show(tn)
	case "import":
		return x.importFiles(ctx)
	case "activate":
		wait, _ := x.args.Bool("--show")
		tn, err := x.c.Activate(ctx, x.name(), wait)
		if err != nil {
			return err
		}
		if !wait {
			fmt.Printf("Activation of %q requested\n", x.name())
			return nil
		}
		return x.show(tn)
	case "deactivate":
		return x.c.Deactivate(ctx, x.name())
	case "restart":
		return x.c.Restart(ctx, x.name())
	case "remove":
		return x.remove(ctx)
	case "rename":
		newName, _ := x.args.String("<newname>")
		tn, err := x.c.Modify(ctx, x.name(), service.TunnelRequest{Name: newName})
		if err != nil {
			return err
		}
		return x.print(tn, func() { fmt.Printf("Renamed %q to %q\n", x.name(), tn.Name) })
	case "move":
		to, err := x.args.Int("<index>")
		if err != nil {
			return fmt.Errorf("invalid index: %w", err)
		}
		order, err := x.c.Move(ctx, x.name(), to)
		if err != nil {
			return err
		}
		return x.print(order, func() {
			for i, n := range order {
				fmt.Printf("%3d  %s\n", i, n)
			}
		})
	case "on-demand":
		return x.onDemand(ctx)
	case "recents":
		limit, err := x.args.Int("--limit")
		if err != nil {
			return fmt.Errorf("invalid --limit: %w", err)
		}
		names, err := x.c.Recents(ctx, limit)
		if err != nil {
			return err
		}
		return x.print(names, func() {
			for _, n := range names {
				fmt.Println(n)
			}
		})
	case "quick-actions":
		items, err := x.c.QuickActions(ctx)
		if err != nil {
			return err
		}
		return x.print(items, func() {
			for _, it := range items {
				fmt.Printf("%-12s %s\n", it.Type, it.Title)
			}
		})
	case "events":
		return x.events(ctx)
	case "logs":
		return x.logs(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// values returns a positional argument that docopt may report as a list.
func (x *cli) values(key string) []string {
	switch v := x.args[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

func (x *cli) name() string {
	if names := x.values("<name>"); len(names) > 0 {
		return names[0]
	}
	return ""
}

func (x *cli) print(v any, text func()) error {
	if x.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func (x *cli) list(ctx context.Context) error {
	list, err := x.c.List(ctx)
	if err != nil {
		return err
	}
	return x.print(list, func() {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tSTATUS\tON-DEMAND")
		for i, tn := range list {
			od := "off"
			if tn.OnDemandEnabled {
				od = tn.OnDemand.Option.String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, tn.Name, tn.Status, od)
		}
		w.Flush()
	})
}

func (x *cli) show(tn service.TunnelView) error {
	return x.print(tn, func() {
		fmt.Printf("name:      %s\n", tn.Name)
		fmt.Printf("status:    %s\n", tn.Status)
		if tn.OnDemandEnabled {
			fmt.Printf("on-demand: %s", tn.OnDemand.Option)
			if len(tn.OnDemand.SSIDs) > 0 {
				fmt.Printf(" (ssid %s: %s)", tn.OnDemand.SSIDMatch, strings.Join(tn.OnDemand.SSIDs, ", "))
			}
			fmt.Println()
		} else {
			fmt.Println("on-demand: off")
		}
		if tn.Config != "" {
			fmt.Printf("\n%s", tn.Config)
		}
	})
}

// importFiles adds one tunnel per wg-quick file, named after the file.
func (x *cli) importFiles(ctx context.Context) error {
	var errs error
	for _, path := range x.values("<file>") {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		tn, err := x.c.Add(ctx, name, string(data), nil)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Printf("Imported %q\n", tn.Name)
	}
	return errs
}

func (x *cli) remove(ctx context.Context) error {
	names := x.values("<name>")
	if len(names) == 1 {
		return x.c.Remove(ctx, names[0])
	}
	res, err := x.c.RemoveMultiple(ctx, names)
	if err != nil {
		return err
	}
	if err := x.print(res, func() { fmt.Printf("Removed %d of %d tunnels\n", res.Removed, len(names)) }); err != nil {
		return err
	}
	var errs error
	for name, msg := range res.Errors {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", name, msg))
	}
	return errs
}

func (x *cli) onDemand(ctx context.Context) error {
	on, _ := x.args.Bool("on")
	req := service.OnDemandRequest{Enabled: &on}
	if on {
		optStr, _ := x.args.String("--rules")
		opt, err := core.ParseOnDemandOption(optStr)
		if err != nil {
			return err
		}
		matchStr, _ := x.args.String("--ssid-match")
		match, err := core.ParseSSIDMatch(matchStr)
		if err != nil {
			return err
		}
		rules := core.OnDemandRules{Option: opt, SSIDMatch: match}
		if list, _ := x.args.String("--ssids"); list != "" {
			for _, s := range strings.Split(list, ",") {
				if s = strings.TrimSpace(s); s != "" {
					rules.SSIDs = append(rules.SSIDs, s)
				}
			}
		}
		req.Rules = &rules
	}
	tn, err := x.c.SetOnDemand(ctx, x.name(), req)
	if err != nil {
		return err
	}
	return x.show(tn)
}

func (x *cli) events(ctx context.Context) error {
	events, err := x.c.Events(ctx)
	if err != nil {
		return err
	}
	for e := range events {
		if x.json {
			data, _ := json.Marshal(e)
			fmt.Println(string(data))
			continue
		}
		fmt.Printf("%s  %-22s %s\n", time.Now().Format(time.TimeOnly), e.Type, e.Payload)
	}
	return nil
}

func (x *cli) logs(ctx context.Context) error {
	tail, err := x.args.Int("--tail")
	if err != nil {
		return fmt.Errorf("invalid --tail: %w", err)
	}
	level, _ := x.args.String("--level")
	tag, _ := x.args.String("--tag")
	entries, err := x.c.Logs(ctx, tail, level, tag)
	if err != nil {
		return err
	}
	return x.print(entries, func() {
		for _, e := range entries {
			fmt.Printf("%s %-5s [%s] %s\n", e.Time.Format(time.DateTime), strings.ToUpper(e.Level.String()), e.Tag, e.Message)
		}
	})
}
