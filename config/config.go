package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "linknet"
	// DefaultListeningPort is the TCP port used when no override exists.
	DefaultListeningPort = 8080
	// DefaultDownloadsDirName is where accepted incoming files land,
	// relative to the working directory.
	DefaultDownloadsDirName = "downloads"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// NodeConfig contains persistent local-node settings. Peer identities are
// ephemeral per connection, so only presentation and transport settings are
// kept here.
type NodeConfig struct {
	DeviceName    string `json:"device_name"`
	ListeningPort int    `json:"listening_port"`
	DownloadsDir  string `json:"downloads_dir"`
	AutoConnect   bool   `json:"auto_connect"`
	UseMDNS       bool   `json:"use_mdns"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LINKNET_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("LINKNET_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NodeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *NodeConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns the
// config and its path.
func LoadOrCreate() (*NodeConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}
	return cfg, cfgPath, nil
}

func defaultConfig() *NodeConfig {
	return &NodeConfig{
		DeviceName:    defaultDeviceName(),
		ListeningPort: DefaultListeningPort,
		DownloadsDir:  "./" + DefaultDownloadsDirName,
		AutoConnect:   false,
		UseMDNS:       false,
	}
}

func normalizeDefaults(cfg *NodeConfig) bool {
	updated := false

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}
	if cfg.ListeningPort <= 0 || cfg.ListeningPort > 65535 {
		cfg.ListeningPort = DefaultListeningPort
		updated = true
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = "./" + DefaultDownloadsDirName
		updated = true
	}
	return updated
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "linknet-" + uuid.NewString()[:8]
}
