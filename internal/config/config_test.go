package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:1080"
sources:
  - ip: "10.0.0.1"
    weight: 2
  - interface: "eth0"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:1080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[1].Weight != 1 {
		t.Errorf("default weight = %d, want 1", cfg.Sources[1].Weight)
	}

	addrs, err := cfg.WeightedSourceAddresses()
	if err != nil {
		t.Fatalf("WeightedSourceAddresses: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("len(addrs) = %d, want 2", len(addrs))
	}
}

func TestLoadRejectsMissingListen(t *testing.T) {
	path := writeConfig(t, `
sources:
  - ip: "10.0.0.1"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing listen")
	}
}

func TestLoadRejectsEmptySources(t *testing.T) {
	path := writeConfig(t, `listen: "127.0.0.1:1080"`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for empty sources")
	}
}

func TestLoadRejectsBothInterfaceAndIP(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:1080"
sources:
  - ip: "10.0.0.1"
    interface: "eth0"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for both interface and ip set")
	}
}

func TestLoadRejectsDuplicate(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:1080"
sources:
  - ip: "10.0.0.1"
  - ip: "10.0.0.1"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for duplicate source")
	}
}
