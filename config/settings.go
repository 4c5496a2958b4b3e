package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds daemon-level configuration, separate from the hardware
// configuration document that syncs over BLE.
type Settings struct {
	ListenAddr    string        `yaml:"listen_addr"`
	DatabasePath  string        `yaml:"database_path"`
	DocumentPath  string        `yaml:"document_path"`
	Adapter       string        `yaml:"adapter"`
	AutoConnect   bool          `yaml:"auto_connect"`
	MinConfidence float64       `yaml:"min_confidence"`
	Alerts        AlertSettings `yaml:"alerts"`
}

// AlertSettings gates the optional side-effect sinks independently.
type AlertSettings struct {
	Log bool `yaml:"log"`
	UI  bool `yaml:"ui"`
}

// DefaultSettingsDir returns the default config directory path.
func DefaultSettingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "flockfinder")
}

// DefaultSettingsPath returns the default settings file path.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultSettingsDir(), "flockfinderd.yaml")
}

// DefaultSettings returns a Settings with sensible default values.
func DefaultSettings() *Settings {
	dir := DefaultSettingsDir()
	return &Settings{
		ListenAddr:    ":8090",
		DatabasePath:  filepath.Join(dir, "detections.db"),
		DocumentPath:  filepath.Join(dir, "scanner-config.json"),
		Adapter:       "hci0",
		AutoConnect:   true,
		MinConfidence: 0.5,
		Alerts: AlertSettings{
			Log: true,
			UI:  true,
		},
	}
}

// LoadSettings reads and parses a YAML settings file. Missing fields are
// filled with defaults; a missing file yields the defaults outright.
func LoadSettings(path string) (*Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings for invalid values.
func (s *Settings) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if s.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if s.DocumentPath == "" {
		return fmt.Errorf("document_path must not be empty")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", s.MinConfidence)
	}
	return nil
}
