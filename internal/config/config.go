// Package config loads the escrowd daemon configuration from YAML or TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fentz26/escrowd/internal/keeper"
	"github.com/fentz26/escrowd/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration.
type Config struct {
	// Listen is the API server address.
	Listen string `yaml:"listen" toml:"listen"`
	// DBPath is the SQLite ledger file.
	DBPath string         `yaml:"db_path" toml:"db_path"`
	Log    logging.Config `yaml:"log" toml:"log"`
	Faucet FaucetConfig   `yaml:"faucet" toml:"faucet"`
	Keeper keeper.Config  `yaml:"keeper" toml:"keeper"`
	Auth   AuthConfig     `yaml:"auth" toml:"auth"`
}

// FaucetConfig controls the devnet faucet endpoint.
type FaucetConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// MaxAmount caps a single faucet request.
	MaxAmount uint64 `yaml:"max_amount" toml:"max_amount"`
}

// AuthConfig controls request signature checks.
type AuthConfig struct {
	// MaxSkew is how far a signed timestamp may drift from the server clock.
	MaxSkew time.Duration `yaml:"max_skew" toml:"max_skew"`
}

// Dir returns ~/.escrowd, or the working directory when home is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".escrowd"
	}
	return filepath.Join(home, ".escrowd")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir := Dir()
	return &Config{
		Listen: "127.0.0.1:7466",
		DBPath: filepath.Join(dir, "escrowd.db"),
		Log:    logging.DefaultConfig(),
		Faucet: FaucetConfig{Enabled: false, MaxAmount: 1_000_000_000},
		Keeper: keeper.Config{
			Enabled:   true,
			Interval:  30 * time.Second,
			GlobalMax: 4,
			KeyPath:   filepath.Join(dir, "keeper.key"),
		},
		Auth: AuthConfig{MaxSkew: 5 * time.Minute},
	}
}

// DefaultPath is ~/.escrowd/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path, choosing the decoder by extension. A missing file
// yields Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be: text or json", c.Log.Format)
	}
	if c.Keeper.Enabled {
		if c.Keeper.Interval <= 0 {
			return fmt.Errorf("keeper.interval must be positive")
		}
		if c.Keeper.GlobalMax < 1 {
			return fmt.Errorf("keeper.global_max must be at least 1")
		}
		if c.Keeper.KeyPath == "" {
			return fmt.Errorf("keeper.key_path is required when the keeper is enabled")
		}
	}
	if c.Faucet.Enabled && c.Faucet.MaxAmount == 0 {
		return fmt.Errorf("faucet.max_amount must be positive")
	}
	if c.Auth.MaxSkew <= 0 {
		return fmt.Errorf("auth.max_skew must be positive")
	}
	return nil
}
