//go:build !(linux && (amd64 || arm64))

package launcher

import (
	"context"

	"vmproc/internal/process/spawn"
	"vmproc/internal/vm/phase"
	"vmproc/internal/vm/threads"
	pkgerrors "vmproc/pkg/errors"
)

type stubLauncher struct{}

// NewLauncher returns a launcher whose operations all fail with Unsupported.
func NewLauncher(cfg Config, hooks threads.Hooks) (Launcher, error) {
	return &stubLauncher{}, nil
}

func (s *stubLauncher) Spawn(ctx context.Context, w *phase.Worker, cfg *spawn.Config, command string, args []string) (int, error) {
	return 0, pkgerrors.UnsupportedError("spawn")
}

func (s *stubLauncher) Exec(ctx context.Context, w *phase.Worker, command string, args []string) error {
	return pkgerrors.UnsupportedError("exec")
}

func (s *stubLauncher) Fork(ctx context.Context, w *phase.Worker) (ForkResult, error) {
	return ForkResult{}, pkgerrors.UnsupportedError("fork")
}

func (s *stubLauncher) Backtick(ctx context.Context, w *phase.Worker, command string) (int, []byte, error) {
	return 0, nil, pkgerrors.UnsupportedError("backtick")
}

func (s *stubLauncher) WaitPid(ctx context.Context, w *phase.Worker, pid int, noHang bool) (ExitStatus, error) {
	return ExitStatus{}, pkgerrors.UnsupportedError("wait_pid")
}
