package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"vmproc/internal/cli/config"
	"vmproc/internal/cli/repl"
	"vmproc/internal/cli/state"
	"vmproc/internal/process/launcher"
	"vmproc/internal/vm/phase"
	"vmproc/internal/vm/threads"
	pkgerrors "vmproc/pkg/errors"
	"vmproc/pkg/utils/contextkey"
	"vmproc/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	prompt := flag.String("prompt", "", "Override prompt")
	logLevel := flag.String("log-level", "", "Override log level")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *prompt != "" {
		cfg.Prompt = *prompt
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg config.Config) int {
	ctx := context.WithValue(context.Background(), contextkey.SessionID, uuid.NewString())
	coord := phase.NewCoordinator()
	worker := coord.NewWorker("main")
	defer worker.Release()

	registry := threads.NewRegistry()
	l, err := launcher.NewLauncher(cfg.Launcher, registry)
	if err != nil {
		logger.Error(ctx, "create launcher failed", zap.Error(err))
		return 1
	}

	jobs := state.NewJobs()
	for _, mt := range cfg.Maintenance {
		w := coord.NewWorker(mt.Name)
		defer w.Release()
		task, err := repl.MaintenanceTask(mt.Name, l, w, jobs)
		if err != nil {
			logger.Error(ctx, "invalid maintenance thread", zap.Error(err))
			return 1
		}
		registry.Register(mt.Name, mt.Interval, task)
	}
	registry.Start()
	defer registry.Stop()

	logger.Info(ctx, "procsh started",
		zap.Int("pid", os.Getpid()),
		zap.Strings("threads", registry.Names()))

	session := repl.New(l, worker, cfg.Spawn, jobs, os.Stdout)
	if err := session.Run(ctx, cfg.Prompt, cfg.HistoryFile); err != nil {
		logger.Error(ctx, "session failed", zap.Error(err))
		return pkgerrors.GetCode(err).ExitStatus()
	}
	return 0
}
