// Package vault holds the pipeline configuration and the on-disk layout of
// the data vault. Every component receives a Config at construction instead
// of reading globals, so components are testable in isolation against a
// temporary directory.
package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ErrUnknownInstrument indicates an instrument outside the configured
// allow-list.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Config is the explicit configuration object passed to each component.
type Config struct {
	// Root is the vault base directory.
	Root string `mapstructure:"root"`

	// Instruments is the allow-list of instrument ids this deployment
	// captures and processes.
	Instruments []string `mapstructure:"instruments"`

	// WSURL is the public WebSocket endpoint.
	WSURL string `mapstructure:"ws_url"`

	// RESTURL is the public REST endpoint for metadata lookups.
	RESTURL string `mapstructure:"rest_url"`

	// SnapshotCadence is how often the exporter samples each order book.
	SnapshotCadence time.Duration `mapstructure:"snapshot_cadence"`

	// DepthLevels is the per-side depth of emitted book snapshots.
	DepthLevels int `mapstructure:"depth_levels"`

	// WickExpiry is how long a wick may stay untouched before expiring,
	// measured in event time.
	WickExpiry time.Duration `mapstructure:"wick_expiry"`

	// Retention policy for the book snapshot logs.
	UncompressedHours int `mapstructure:"uncompressed_hours"`
	RetentionDays     int `mapstructure:"retention_days"`
}

// Load reads vault.yaml from dir (if present) over the built-in defaults.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("vault")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("root", "vault")
	v.SetDefault("instruments", []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"})
	v.SetDefault("ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("rest_url", "https://www.okx.com")
	v.SetDefault("snapshot_cadence", 2*time.Second)
	v.SetDefault("depth_levels", 400)
	v.SetDefault("wick_expiry", 168*time.Hour)
	v.SetDefault("uncompressed_hours", 6)
	v.SetDefault("retention_days", 5)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		// Defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// ValidateInstrument checks an instrument id against the allow-list.
func (c Config) ValidateInstrument(instID string) error {
	if instID == "" {
		return fmt.Errorf("%w: empty instrument id", ErrUnknownInstrument)
	}
	for _, id := range c.Instruments {
		if id == instID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed: %v)", ErrUnknownInstrument, instID, c.Instruments)
}
