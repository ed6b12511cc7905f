package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config carries the runtime settings for the escrow service. The
// auto-release window is deliberately configuration rather than a constant:
// how long a shipped order may sit unconfirmed before funds release is a
// business policy owned by the integrating system.
type Config struct {
	ListenAddress    string   `toml:"ListenAddress"`
	DatabaseURL      string   `toml:"DatabaseURL"`
	JWTSecret        string   `toml:"JWTSecret"`
	FeeBps           int      `toml:"FeeBps"`
	AutoReleaseAfter duration `toml:"AutoReleaseAfter"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads the configuration file at path and applies environment
// overrides. A missing file is not an error; defaults plus environment are
// enough for local runs.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:    ":8080",
		FeeBps:           250,
		AutoReleaseAfter: duration{7 * 24 * time.Hour},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: DatabaseURL is required (set DATABASE_URL or the config file)")
	}
	if c.FeeBps < 0 || c.FeeBps > 10000 {
		return fmt.Errorf("config: FeeBps %d out of range [0, 10000]", c.FeeBps)
	}
	if c.AutoReleaseAfter.Duration <= 0 {
		return fmt.Errorf("config: AutoReleaseAfter must be positive")
	}
	return nil
}

// ReleaseWindow returns how long after shipment an unconfirmed, undisputed
// escrow becomes eligible for auto-release.
func (c *Config) ReleaseWindow() time.Duration {
	return c.AutoReleaseAfter.Duration
}
