package repl

import (
	"context"
	"fmt"

	"vmproc/internal/cli/state"
	"vmproc/internal/process/launcher"
	"vmproc/internal/vm/phase"
	"vmproc/internal/vm/threads"
	"vmproc/pkg/utils/logger"

	"go.uber.org/zap"
)

// Maintenance thread names accepted in the config file.
const (
	ThreadLogSync  = "log_sync"
	ThreadJobProbe = "job_probe"
)

// MaintenanceTask builds the task for a named maintenance thread. job_probe
// reaps finished jobs with no-hang waits on its own worker w.
func MaintenanceTask(name string, l launcher.Launcher, w *phase.Worker, jobs *state.Jobs) (threads.Task, error) {
	switch name {
	case ThreadLogSync:
		return func(context.Context) {
			_ = logger.Sync()
		}, nil
	case ThreadJobProbe:
		return func(ctx context.Context) {
			probeJobs(ctx, l, w, jobs)
		}, nil
	default:
		return nil, fmt.Errorf("unknown maintenance thread %q", name)
	}
}

func probeJobs(ctx context.Context, l launcher.Launcher, w *phase.Worker, jobs *state.Jobs) {
	for _, job := range jobs.List() {
		status, err := l.WaitPid(ctx, w, job.Pid, true)
		if err != nil {
			logger.Warn(ctx, "job probe failed", zap.Int("pid", job.Pid), zap.Error(err))
			continue
		}
		switch status.Outcome {
		case launcher.Reaped, launcher.NoChild:
			jobs.Remove(job.Pid)
			logger.Info(ctx, "job finished",
				zap.Int("pid", job.Pid),
				zap.String("command", job.Command),
				zap.Stringer("status", status))
		}
	}
}
