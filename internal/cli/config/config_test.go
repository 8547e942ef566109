package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procsh.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
launcher:
  read_chunk: 512
maintenance:
  - name: job_probe
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Prompt != DefaultPrompt || cfg.HistoryFile != DefaultHistoryFile {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Launcher.ReadChunk != 512 {
		t.Fatalf("expected read chunk 512, got %d", cfg.Launcher.ReadChunk)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.OutputPath != "stderr" {
		t.Fatalf("logger defaults not applied: %+v", cfg.Logger)
	}
	if len(cfg.Maintenance) != 1 || cfg.Maintenance[0].Interval != DefaultMaintenanceTick {
		t.Fatalf("maintenance defaults not applied: %+v", cfg.Maintenance)
	}
}

func TestLoadSpawnDefaults(t *testing.T) {
	path := writeConfig(t, `
launcher:
  poll_interval: 20ms
spawn:
  umask: 0o022
  env:
    - key: LC_ALL
      value: C
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Launcher.PollInterval != 20*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.Launcher.PollInterval)
	}
	sc, err := cfg.Spawn.Config()
	if err != nil {
		t.Fatalf("spawn config: %v", err)
	}
	if mask, ok := sc.Umask(); !ok || mask != 0o022 {
		t.Fatalf("unexpected umask %#o", mask)
	}
}

func TestLoadRejectsInvalidSpawnDefaults(t *testing.T) {
	path := writeConfig(t, `
spawn:
  umask: 4096
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid spawn defaults to fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
