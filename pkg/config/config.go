package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 5000

	// TransportJournal stores forwarded events in a bbolt file
	TransportJournal = "journal"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the on-disk configuration of one hook
type Config struct {
	Name        string            `yaml:"name" toml:"name" json:"name"`
	Type        string            `yaml:"type" toml:"type" json:"type"`
	Host        string            `yaml:"host" toml:"host" json:"host"`
	Port        int               `yaml:"port" toml:"port" json:"port"`
	Debug       bool              `yaml:"debug" toml:"debug" json:"debug"`
	Local       bool              `yaml:"local" toml:"local" json:"local"`
	CallTimeout Duration          `yaml:"call_timeout" toml:"call_timeout" json:"call_timeout"`
	Children    []Child           `yaml:"children" toml:"children" json:"children"`
	Transports  []TransportConfig `yaml:"transports" toml:"transports" json:"transports"`
	Resolver    ResolverConfig    `yaml:"resolver" toml:"resolver" json:"resolver"`
	Log         LogConfig         `yaml:"log" toml:"log" json:"log"`
	MetricsAddr string            `yaml:"metrics_addr" toml:"metrics_addr" json:"metrics_addr"`
}

// TransportConfig selects a side-channel transport and its options
type TransportConfig struct {
	Type    string         `yaml:"type" toml:"type" json:"type"`
	Options map[string]any `yaml:"options" toml:"options" json:"options"`
}

// Path returns the string option "path"
func (t TransportConfig) Path() string {
	p, _ := t.Options["path"].(string)
	return p
}

// ResolverConfig configures host resolution
type ResolverConfig struct {
	Servers  []string `yaml:"servers" toml:"servers" json:"servers"`
	CacheTTL Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	JSON  bool   `yaml:"json" toml:"json" json:"json"`
}

// Default returns the configuration used for absent keys
func Default() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Resolver: ResolverConfig{
			CacheTTL: Duration(dns.DefaultCacheTTL),
		},
		Log: LogConfig{Level: string(log.InfoLevel)},
	}
}

// Load reads a config file, picking the decoder by extension, on top of
// the defaults
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a hook cannot start without
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.Children))
	for _, child := range c.Children {
		spec := child.Spec()
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return fmt.Errorf("child %q listed twice", spec.Name)
		}
		seen[spec.Name] = true
	}

	for i, t := range c.Transports {
		switch t.Type {
		case TransportJournal:
			if t.Path() == "" {
				return fmt.Errorf("transport %d: journal needs a path option", i)
			}
		default:
			return fmt.Errorf("transport %d: unknown type %q", i, t.Type)
		}
	}
	return nil
}

// Specs returns the children as spawn specs
func (c Config) Specs() []types.SpawnSpec {
	specs := make([]types.SpawnSpec, 0, len(c.Children))
	for _, child := range c.Children {
		specs = append(specs, child.Spec())
	}
	return specs
}

// DNS returns the resolver configuration
func (c Config) DNS() dns.Config {
	cfg := dns.DefaultConfig()
	cfg.Servers = c.Resolver.Servers
	if c.Resolver.CacheTTL > 0 {
		cfg.CacheTTL = c.Resolver.CacheTTL.Std()
	}
	return cfg
}

// Logging returns the logger configuration; debug forces the debug level
func (c Config) Logging() log.Config {
	level := log.ParseLevel(c.Log.Level)
	if c.Debug {
		level = log.DebugLevel
	}
	return log.Config{Level: level, JSONOutput: c.Log.JSON}
}

// Duration is a time.Duration written as a string such as "5s"
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText accepts duration strings; JSON and TOML use it
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders d as a duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
