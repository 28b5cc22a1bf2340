// Package config loads daemon configuration: defaults, then an optional
// TOML file, then MSGD_* environment overrides, validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Duration is a time.Duration that unmarshals from strings like "60s" in
// both TOML and environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the messaging daemon.
type Config struct {
	DataDir    string `toml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	SocketPath string `toml:"socket_path" envconfig:"SOCKET_PATH"`

	// Presence: a user is offline once their last heartbeat is older
	// than the staleness window. The window must exceed the heartbeat
	// interval so a single missed heartbeat is tolerated.
	PresenceStaleness Duration `toml:"presence_staleness" envconfig:"PRESENCE_STALENESS" validate:"gt=0"`
	HeartbeatInterval Duration `toml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`

	TypingDebounce Duration `toml:"typing_debounce" envconfig:"TYPING_DEBOUNCE" validate:"gt=0"`
	TypingExpiry   Duration `toml:"typing_expiry" envconfig:"TYPING_EXPIRY" validate:"gt=0"`

	MessageMaxLength int `toml:"message_max_length" envconfig:"MESSAGE_MAX_LENGTH" validate:"min=1"`
	MessagePageSize  int `toml:"message_page_size" envconfig:"MESSAGE_PAGE_SIZE" validate:"min=1"`
}

// Default returns the daemon defaults.
func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		PresenceStaleness: Duration(60 * time.Second),
		HeartbeatInterval: Duration(30 * time.Second),
		TypingDebounce:    Duration(300 * time.Millisecond),
		TypingExpiry:      Duration(3 * time.Second),
		MessageMaxLength:  1000,
		MessagePageSize:   50,
	}
}

// Load builds the effective config. path may be empty (no file); a named
// file that is missing is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := envconfig.Process("msgd", &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints plus the cross-field presence rule.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PresenceStaleness <= c.HeartbeatInterval {
		return fmt.Errorf("invalid config: presence_staleness (%s) must exceed heartbeat_interval (%s)",
			c.PresenceStaleness.Std(), c.HeartbeatInterval.Std())
	}
	return nil
}

// DBPath is the sqlite database file inside the data dir.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "msgd.db") }

// LogPath is the daemon's JSON log file inside the data dir.
func (c *Config) LogPath() string { return filepath.Join(c.DataDir, "msgd.log") }

// ResolvedSocketPath is the unix socket the daemon serves on. Defaults to
// a socket file inside the data dir.
func (c *Config) ResolvedSocketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.DataDir, "msgd.sock")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgd"
	}
	return filepath.Join(home, ".msgd")
}
