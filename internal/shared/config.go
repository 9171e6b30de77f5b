package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Client      ClientConfig      `toml:"client"`
	Geolocation GeolocationConfig `toml:"geolocation"`
	Database    DatabaseConfig    `toml:"database"`
}

// ServerConfig contains ride server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	MapAPIKey      string   `toml:"map_api_key"`
	APIToken       string   `toml:"api_token"`
	ResyncInterval Duration `toml:"resync_interval"`
	LocationRate   float64  `toml:"location_rate"`
	LocationBurst  int      `toml:"location_burst"`
	Persist        bool     `toml:"persist"`
}

// ClientConfig contains settings for the ride client (CLI and TUI).
type ClientConfig struct {
	BaseURL         string   `toml:"base_url"`
	Username        string   `toml:"username"`
	MapProvider     string   `toml:"map_provider"`
	AccessToken     string   `toml:"access_token"`
	ReconnectDelay  Duration `toml:"reconnect_delay"`
	MapReadyTimeout Duration `toml:"map_ready_timeout"`
	LogFile         string   `toml:"log_file"`
}

// GeolocationConfig selects the location source and its watch policy.
type GeolocationConfig struct {
	Source       string   `toml:"source"` // static, replay or walk
	TrackFile    string   `toml:"track_file"`
	Interval     Duration `toml:"interval"`
	StartLat     float64  `toml:"start_lat"`
	StartLng     float64  `toml:"start_lng"`
	HighAccuracy bool     `toml:"high_accuracy"`
	MaximumAge   Duration `toml:"maximum_age"`
	Timeout      Duration `toml:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// Duration is a [time.Duration] that decodes from TOML strings like "3s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Addr returns the host:port listen address for the server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] otherwise.
func LoadConfigOrDefault(path string) *Config {
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig()
	}
	config, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return config
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
