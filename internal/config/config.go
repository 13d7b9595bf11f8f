package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Security   SecurityConfig    `toml:"security"`
	Polling    PollingConfig     `toml:"polling"`
	SSH        SSHConfig         `toml:"ssh"`
	Display    DisplayConfig     `toml:"display"`
	Exclusions []ExclusionConfig `toml:"exclusions"`
	Styles     []StyleConfig     `toml:"styles"`
}

// SecurityConfig bounds what local paths may be opened
type SecurityConfig struct {
	// AllowedRoot confines local sources to a directory tree.
	// Empty means no confinement.
	AllowedRoot   string `toml:"allowed_root"`
	MaxFileSizeMB int64  `toml:"max_file_size_mb"`
}

// PollingConfig tunes change detection
type PollingConfig struct {
	BaseIntervalSeconds int `toml:"base_interval_seconds"`
	MaxIntervalSeconds  int `toml:"max_interval_seconds"`
	ErrorThreshold      int `toml:"error_threshold"`
	DebounceMillis      int `toml:"debounce_ms"`
}

// SSHConfig tunes remote sources
type SSHConfig struct {
	KnownHostsPath        string `toml:"known_hosts"`
	AcceptNewHostKeys     bool   `toml:"accept_new_host_keys"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	CommandTimeoutSeconds int    `toml:"command_timeout_seconds"`
	IdleTimeoutSeconds    int    `toml:"idle_timeout_seconds"`
	MaxIdleConnections    int    `toml:"max_idle_connections"`
}

// DisplayConfig holds display options
type DisplayConfig struct {
	ShowLineNumbers bool `toml:"show_line_numbers"`
	TailLines       int  `toml:"tail_lines"`
	LevelStyles     bool `toml:"level_styles"`
	SyntaxFallback  bool `toml:"syntax_fallback"`
}

// ExclusionConfig is a line filter loaded at startup
type ExclusionConfig struct {
	Pattern       string `toml:"pattern"`
	Regex         bool   `toml:"regex"`
	CaseSensitive bool   `toml:"case_sensitive"`
}

// StyleConfig is a named highlight rule loaded at startup
type StyleConfig struct {
	Name       string `toml:"name"`
	Pattern    string `toml:"pattern"`
	Foreground string `toml:"foreground"`
	Background string `toml:"background"`
	Bold       bool   `toml:"bold"`
	Underline  bool   `toml:"underline"`
	Italic     bool   `toml:"italic"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Security: SecurityConfig{
			MaxFileSizeMB: 100,
		},
		Polling: PollingConfig{
			BaseIntervalSeconds: 2,
			MaxIntervalSeconds:  30,
			ErrorThreshold:      5,
			DebounceMillis:      100,
		},
		SSH: SSHConfig{
			ConnectTimeoutSeconds: 30,
			CommandTimeoutSeconds: 30,
			IdleTimeoutSeconds:    300,
			MaxIdleConnections:    4,
		},
		Display: DisplayConfig{
			ShowLineNumbers: true,
			TailLines:       1000,
			LevelStyles:     true,
			SyntaxFallback:  false,
		},
	}
}

// BaseInterval returns the poll base interval as a duration
func (p PollingConfig) BaseInterval() time.Duration {
	return time.Duration(p.BaseIntervalSeconds) * time.Second
}

// MaxInterval returns the poll backoff cap as a duration
func (p PollingConfig) MaxInterval() time.Duration {
	return time.Duration(p.MaxIntervalSeconds) * time.Second
}

// Debounce returns the local event collapse window as a duration
func (p PollingConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMillis) * time.Millisecond
}

// Load loads config from file, falling back to defaults
func Load() (*Config, error) {
	return LoadFrom(getConfigPath())
}

// LoadFrom loads config from an explicit path, falling back to defaults
// when the path is empty or the file does not exist
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := getConfigPath()
	if configPath == "" {
		return nil
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// getConfigPath returns the config file path
func getConfigPath() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dalog", "config.toml")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "dalog", "config.toml")
}

// GetConfigPath exports the config path for user reference
func GetConfigPath() string {
	return getConfigPath()
}
