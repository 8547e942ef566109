// Package launcher creates, replaces and reaps child processes on behalf of
// VM workers.
package launcher

import (
	"context"
	"time"

	"vmproc/internal/process/spawn"
	"vmproc/internal/vm/phase"
)

const (
	defaultReadChunk    = 1023
	defaultPollInterval = 50 * time.Millisecond
)

// Config controls launcher behavior.
type Config struct {
	// ShellPath runs commands that contain shell metacharacters.
	ShellPath string `yaml:"shell_path"`
	// ReadChunk is the largest single read of backtick output.
	ReadChunk int `yaml:"read_chunk"`
	// PollInterval bounds how long a backtick read waits before checking for
	// cancellation.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxDescriptors bounds the close_others sweep. Zero uses the soft
	// RLIMIT_NOFILE.
	MaxDescriptors int `yaml:"max_descriptors"`
}

// ForkResult tells the two sides of Fork apart.
type ForkResult struct {
	// Pid is the child's pid in the parent and 0 in the child.
	Pid int
	// Child is set only in the forked child.
	Child bool
}

// Launcher runs the process operations. Every call is made by a worker and
// may block; blocking happens in the worker's Unmanaged phase.
type Launcher interface {
	// Spawn starts command in a child configured by cfg and returns its pid.
	Spawn(ctx context.Context, w *phase.Worker, cfg *spawn.Config, command string, args []string) (int, error)
	// Exec replaces the current process image. It returns only on failure.
	Exec(ctx context.Context, w *phase.Worker, command string, args []string) error
	// Fork duplicates the process without exec.
	Fork(ctx context.Context, w *phase.Worker) (ForkResult, error)
	// Backtick runs command and collects its standard output. When the read
	// is interrupted the child's pid is still returned with the error.
	Backtick(ctx context.Context, w *phase.Worker, command string) (int, []byte, error)
	// WaitPid reaps pid, or reports why it could not.
	WaitPid(ctx context.Context, w *phase.Worker, pid int, noHang bool) (ExitStatus, error)
}
