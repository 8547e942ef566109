package config

import (
	"fmt"
	"os"
	"time"

	"vmproc/internal/process/launcher"
	"vmproc/internal/process/spawn"
	"vmproc/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPrompt          = "procsh> "
	DefaultHistoryFile     = "/tmp/procsh.history"
	DefaultMaintenanceTick = time.Second
)

// MaintenanceThread enables one of the shell's built-in background threads.
type MaintenanceThread struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
}

// Config holds procsh configuration.
type Config struct {
	Prompt      string              `yaml:"prompt"`
	HistoryFile string              `yaml:"historyFile"`
	Logger      logger.Config       `yaml:"logger"`
	Launcher    launcher.Config     `yaml:"launcher"`
	Spawn       spawn.Options       `yaml:"spawn"`
	Maintenance []MaintenanceThread `yaml:"maintenance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	if _, err := cfg.Spawn.Config(); err != nil {
		return cfg, fmt.Errorf("invalid spawn defaults: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Logger.ErrorPath == "" {
		cfg.Logger.ErrorPath = "stderr"
	}
	for i := range cfg.Maintenance {
		if cfg.Maintenance[i].Interval <= 0 {
			cfg.Maintenance[i].Interval = DefaultMaintenanceTick
		}
	}
}
