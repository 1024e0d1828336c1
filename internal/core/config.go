package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects the persisted tunnel store.
type StoreConfig struct {
	// Driver is "yaml" (default) or "sqlite".
	Driver string `yaml:"driver,omitempty"`
	// Path is the YAML document or SQLite database file.
	Path string `yaml:"path,omitempty"`
}

// DefaultsConfig configures the shared key-value namespace used for recents.
type DefaultsConfig struct {
	// Driver is "plist" (default) or "memory".
	Driver string `yaml:"driver,omitempty"`
	// Dir holds <namespace>.plist.
	Dir string `yaml:"dir,omitempty"`
	// Namespace is the app-group equivalent. Empty disables recents.
	Namespace string `yaml:"namespace,omitempty"`
}

// VPNConfig selects the OS VPN backend.
type VPNConfig struct {
	// Driver is "kernel" (default) or "memory".
	Driver string `yaml:"driver,omitempty"`
	// InterfacePrefix is prepended to generated interface names.
	InterfacePrefix string `yaml:"interface_prefix,omitempty"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// OnDemandConfig configures automatic activation.
type OnDemandConfig struct {
	Enabled          *bool  `yaml:"enabled,omitempty"`
	EvaluateInterval string `yaml:"evaluate_interval,omitempty"`
	RetryInterval    string `yaml:"retry_interval,omitempty"`
	MaxRetries       int    `yaml:"max_retries,omitempty"`
	// SSIDs lists the Wi-Fi networks considered "current" for SSID rules.
	// The kernel does not expose the associated SSID without a supplicant.
	CurrentSSIDs []string `yaml:"current_ssids,omitempty"`
}

// JobsConfig configures periodic jobs.
type JobsConfig struct {
	StatusRefresh string `yaml:"status_refresh,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Defaults DefaultsConfig `yaml:"defaults,omitempty"`
	VPN      VPNConfig      `yaml:"vpn,omitempty"`
	API      APIConfig      `yaml:"api,omitempty"`
	OnDemand OnDemandConfig `yaml:"on_demand,omitempty"`
	Jobs     JobsConfig     `yaml:"jobs,omitempty"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
}

const (
	DefaultAPIListen        = "127.0.0.1:51900"
	DefaultNamespace        = "group.com.wireguard.tunnels"
	DefaultInterfacePrefix  = "wg"
	defaultStatusRefresh    = 30 * time.Second
	defaultEvaluateInterval = 15 * time.Second
	defaultRetryInterval    = 10 * time.Second
)

// ConfigManager handles loading and saving configuration.
type ConfigManager struct {
	mu       sync.RWMutex
	config   Config
	filePath string
	bus      *EventBus
}

// NewConfigManager creates a config manager that reads from the given file.
func NewConfigManager(filePath string, bus *EventBus) *ConfigManager {
	return &ConfigManager{
		filePath: filePath,
		bus:      bus,
	}
}

// DefaultConfig returns a valid configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Version:  CurrentConfigVersion,
		Store:    StoreConfig{Driver: "yaml", Path: filepath.Join(dataDir, "tunnels.yaml")},
		Defaults: DefaultsConfig{Driver: "plist", Dir: dataDir, Namespace: DefaultNamespace},
		VPN:      VPNConfig{Driver: "kernel", InterfacePrefix: DefaultInterfacePrefix},
		API:      APIConfig{Listen: DefaultAPIListen},
	}
}

// Load reads and parses the configuration from disk.
// If the config file does not exist, it creates one with default values.
func (cm *ConfigManager) Load() error {
	data, err := os.ReadFile(cm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			Log.Infof("Core", "Config %s not found, creating default config", cm.filePath)
			cm.mu.Lock()
			cm.config = DefaultConfig(filepath.Dir(cm.filePath))
			cm.mu.Unlock()
			if saveErr := cm.Save(); saveErr != nil {
				return fmt.Errorf("[Core] failed to create default config: %w", saveErr)
			}
			return nil
		}
		return fmt.Errorf("[Core] failed to read config %s: %w", cm.filePath, err)
	}

	cfg, migrated, err := ParseConfig(data)
	if err != nil {
		return err
	}
	cfg.applyDefaults(filepath.Dir(cm.filePath))

	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()

	if migrated {
		Log.Infof("Core", "Config migrated to v%d, saving", cfg.Version)
		if err := cm.Save(); err != nil {
			Log.Warnf("Core", "Failed to save migrated config: %v", err)
		}
	}

	if cm.bus != nil {
		cm.bus.Publish(Event{Type: EventConfigReloaded})
	}

	return nil
}

// ParseConfig decodes YAML, running pending migrations on the raw document first.
func ParseConfig(data []byte) (Config, bool, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, false, fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	_, migrated, err := MigrateConfig(raw)
	if err != nil {
		return Config{}, false, fmt.Errorf("[Core] %w", err)
	}

	// Round-trip through YAML so custom unmarshalers run on the migrated map.
	out, err := yaml.Marshal(raw)
	if err != nil {
		return Config{}, false, fmt.Errorf("[Core] failed to re-encode config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	return cfg, migrated, nil
}

func (c *Config) applyDefaults(dataDir string) {
	def := DefaultConfig(dataDir)
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		if c.Store.Driver == "sqlite" {
			c.Store.Path = filepath.Join(dataDir, "tunnels.db")
		} else {
			c.Store.Path = def.Store.Path
		}
	}
	if c.Defaults.Driver == "" {
		c.Defaults.Driver = def.Defaults.Driver
	}
	if c.Defaults.Dir == "" {
		c.Defaults.Dir = def.Defaults.Dir
	}
	if c.VPN.Driver == "" {
		c.VPN.Driver = def.VPN.Driver
	}
	if c.VPN.InterfacePrefix == "" {
		c.VPN.InterfacePrefix = def.VPN.InterfacePrefix
	}
	if c.API.Listen == "" {
		c.API.Listen = def.API.Listen
	}
}

// Save writes the current configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	data, err := yaml.Marshal(&cm.config)
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("[Core] failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cm.filePath), 0755); err != nil {
		return fmt.Errorf("[Core] failed to create config dir: %w", err)
	}
	if err := os.WriteFile(cm.filePath, data, 0644); err != nil {
		return fmt.Errorf("[Core] failed to write config %s: %w", cm.filePath, err)
	}

	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// StatusRefreshInterval returns the parsed jobs.status_refresh duration.
func (c Config) StatusRefreshInterval() time.Duration {
	return parseDurationOr(c.Jobs.StatusRefresh, defaultStatusRefresh)
}

// EvaluateIntervalOrDefault returns the parsed on_demand.evaluate_interval duration.
func (c OnDemandConfig) EvaluateIntervalOrDefault() time.Duration {
	return parseDurationOr(c.EvaluateInterval, defaultEvaluateInterval)
}

// RetryIntervalOrDefault returns the parsed on_demand.retry_interval duration.
func (c OnDemandConfig) RetryIntervalOrDefault() time.Duration {
	return parseDurationOr(c.RetryInterval, defaultRetryInterval)
}

// IsEnabled reports whether on-demand is enabled (default true).
func (c OnDemandConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}
