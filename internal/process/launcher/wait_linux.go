//go:build linux && (amd64 || arm64)

package launcher

import (
	"context"

	"vmproc/internal/process/forkexec"
	"vmproc/internal/vm/phase"
	pkgerrors "vmproc/pkg/errors"
	"vmproc/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// waitSignals are ignored while any worker is reaping, so a terminal
// interrupt aimed at the process group does not kill the waiter.
var waitSignals = forkexec.NewIgnoreWindow(unix.SIGHUP, unix.SIGQUIT, unix.SIGINT)

// wait4 is replaced in tests. Go installs its handlers with SA_RESTART, so
// the real call only sees EINTR for signals handled outside the runtime.
var wait4 = unix.Wait4

func (l *linuxLauncher) WaitPid(ctx context.Context, w *phase.Worker, pid int, noHang bool) (ExitStatus, error) {
	if err := waitSignals.Enter(); err != nil {
		logger.Warn(ctx, "wait_pid: ignoring interrupt signals", zap.Error(err))
	}
	defer func() {
		if err := waitSignals.Leave(); err != nil {
			logger.Warn(ctx, "wait_pid: restoring interrupt signals", zap.Error(err))
		}
	}()

	options := 0
	if noHang {
		options = unix.WNOHANG
	}
	for {
		var (
			ws  unix.WaitStatus
			got int
			err error
		)
		_ = w.RunUnmanaged(func() error {
			got, err = wait4(pid, &ws, options, nil)
			return nil
		})
		switch err {
		case nil:
			if got == 0 {
				return ExitStatus{Pid: pid, Outcome: WouldBlock}, nil
			}
			return statusFromWait(got, ws), nil
		case unix.ECHILD:
			return ExitStatus{Pid: pid, Outcome: NoChild}, nil
		case unix.EINTR:
			if w.CheckInterrupts(ctx, "wait_pid") != nil {
				return ExitStatus{Pid: pid, Outcome: Interrupted}, nil
			}
		default:
			// Reported as no child so callers stop tracking the pid.
			logger.Warn(ctx, "wait_pid failed",
				zap.Int("pid", pid),
				zap.Error(pkgerrors.ErrnoError(pkgerrors.WaitFailed, "wait4(2)", pkgerrors.Errno(err))))
			return ExitStatus{Pid: pid, Outcome: NoChild}, nil
		}
	}
}

func statusFromWait(pid int, ws unix.WaitStatus) ExitStatus {
	st := ExitStatus{Pid: pid, Outcome: Reaped}
	switch {
	case ws.Exited():
		st.ExitCode = intPtr(ws.ExitStatus())
	case ws.Signaled():
		st.TermSig = intPtr(int(ws.Signal()))
	case ws.Stopped():
		st.StopSig = intPtr(int(ws.StopSignal()))
	}
	return st
}
