package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LINKNET_DATA_DIR", dataDir)

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfgPath != filepath.Join(dataDir, "config.json") {
		t.Fatalf("config path = %q", cfgPath)
	}
	if cfg.DeviceName == "" {
		t.Fatalf("default device name is empty")
	}
	if cfg.ListeningPort != DefaultListeningPort {
		t.Fatalf("listening port = %d, want %d", cfg.ListeningPort, DefaultListeningPort)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestLoadOrCreateRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LINKNET_DATA_DIR", dataDir)

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	cfg.DeviceName = "workbench"
	cfg.ListeningPort = 9191
	cfg.AutoConnect = true
	if err := Save(cfgPath, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if reloaded.DeviceName != "workbench" || reloaded.ListeningPort != 9191 || !reloaded.AutoConnect {
		t.Fatalf("unexpected reloaded config %#v", reloaded)
	}
}

func TestNormalizeRepairsInvalidValues(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LINKNET_DATA_DIR", dataDir)

	cfgPath := ConfigPath(dataDir)
	if err := os.WriteFile(cfgPath, []byte(`{"device_name":"","listening_port":-1,"downloads_dir":""}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.DeviceName == "" {
		t.Fatalf("device name not repaired")
	}
	if cfg.ListeningPort != DefaultListeningPort {
		t.Fatalf("listening port not repaired: %d", cfg.ListeningPort)
	}
	if cfg.DownloadsDir == "" {
		t.Fatalf("downloads dir not repaired")
	}
}
