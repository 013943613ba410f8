package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.IMDB.BlockSize != 1024 {
		t.Fatalf("want block size 1024, got %d", d.IMDB.BlockSize)
	}
	if d.UDPCTL.Port != 3901 || d.UDPCTL.MaxClients != 4 {
		t.Fatalf("unexpected udpctl defaults: %+v", d.UDPCTL)
	}
	if len(d.NTP.Servers) != 2 {
		t.Fatalf("want 2 NTP servers, got %v", d.NTP.Servers)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPCTL.Port != 3901 {
		t.Fatalf("want default port, got %d", cfg.UDPCTL.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	doc := "udpctl:\n  port: 9999\n  max_clients: 2\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPCTL.Port != 9999 || cfg.UDPCTL.MaxClients != 2 {
		t.Fatalf("overrides not applied: %+v", cfg.UDPCTL)
	}
	if cfg.UDPCTL.IdleTimeout != 60*time.Second {
		t.Fatalf("untouched field should keep default, got %v", cfg.UDPCTL.IdleTimeout)
	}
}
