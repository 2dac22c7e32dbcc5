// Package config handles configuration loading and validation for slotd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"slotd/internal/overlay"
	"slotd/internal/store"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete agent configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version"`

	// Overlay configuration for the chooser process link.
	Overlay OverlayConfig `toml:"overlay"`

	// Timing constants for the selection window and clipboard handling.
	Timing TimingConfig `toml:"timing"`

	// Storage configuration for slot persistence.
	Storage StorageConfig `toml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// OverlayConfig holds the datagram link configuration.
type OverlayConfig struct {
	// OverlayPort is the loopback port the overlay process listens on.
	OverlayPort int `toml:"overlay_port"`

	// AgentPort is the loopback port the agent listens on for chosen/cancel.
	AgentPort int `toml:"agent_port"`
}

// TimingConfig holds the session timing constants, in milliseconds.
type TimingConfig struct {
	// SelectWindowMs is the selection-window duration.
	SelectWindowMs int `toml:"select_window_ms"`

	// ClipboardRetryMs is the total clipboard-read retry budget after a copy.
	ClipboardRetryMs int `toml:"clipboard_retry_ms"`

	// RestoreDelayMs is the grace delay before restoring the prior clipboard
	// contents after a slot paste.
	RestoreDelayMs int `toml:"restore_delay_ms"`
}

// SelectWindow returns the selection-window duration.
func (t TimingConfig) SelectWindow() time.Duration {
	return time.Duration(t.SelectWindowMs) * time.Millisecond
}

// ClipboardRetry returns the clipboard-read retry budget.
func (t TimingConfig) ClipboardRetry() time.Duration {
	return time.Duration(t.ClipboardRetryMs) * time.Millisecond
}

// RestoreDelay returns the clipboard-restore grace delay.
func (t TimingConfig) RestoreDelay() time.Duration {
	return time.Duration(t.RestoreDelayMs) * time.Millisecond
}

// StorageConfig holds slot persistence configuration.
type StorageConfig struct {
	// Path is the path to the slot database.
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format"`

	// Output is where logs go: stdout, stderr, file, both.
	Output string `toml:"output"`

	// FilePath is the log file path when Output includes file.
	FilePath string `toml:"file_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Overlay: OverlayConfig{
			OverlayPort: overlay.DefaultOverlayPort,
			AgentPort:   overlay.DefaultAgentPort,
		},
		Timing: TimingConfig{
			SelectWindowMs:   800,
			ClipboardRetryMs: 300,
			RestoreDelayMs:   250,
		},
		Storage: StorageConfig{
			Path: store.DefaultPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// DefaultPath returns the platform-specific config file path.
func DefaultPath() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "slotd", "config.toml")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "slotd", "config.toml")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "slotd", "config.toml")
	}
}

// Load reads the configuration from path. A missing file yields the defaults;
// present keys override defaults field by field.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Overlay.OverlayPort < 1 || c.Overlay.OverlayPort > 65535 {
		return fmt.Errorf("overlay_port out of range: %d", c.Overlay.OverlayPort)
	}
	if c.Overlay.AgentPort < 1 || c.Overlay.AgentPort > 65535 {
		return fmt.Errorf("agent_port out of range: %d", c.Overlay.AgentPort)
	}
	if c.Overlay.OverlayPort == c.Overlay.AgentPort {
		return fmt.Errorf("overlay_port and agent_port must differ")
	}
	if c.Timing.SelectWindowMs <= 0 {
		return fmt.Errorf("select_window_ms must be positive: %d", c.Timing.SelectWindowMs)
	}
	if c.Timing.ClipboardRetryMs < 0 {
		return fmt.Errorf("clipboard_retry_ms must not be negative: %d", c.Timing.ClipboardRetryMs)
	}
	if c.Timing.RestoreDelayMs < 0 {
		return fmt.Errorf("restore_delay_ms must not be negative: %d", c.Timing.RestoreDelayMs)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must not be empty")
	}
	if _, err := parseLevelName(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func parseLevelName(s string) (string, error) {
	switch s {
	case "", "debug", "info", "warn", "warning", "error":
		return s, nil
	default:
		return "", fmt.Errorf("unknown log level: %s", s)
	}
}
