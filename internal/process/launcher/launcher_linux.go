//go:build linux && (amd64 || arm64)

package launcher

import (
	"bytes"
	"context"
	"os"
	"runtime"
	"syscall"

	"vmproc/internal/process/command"
	"vmproc/internal/process/forkexec"
	"vmproc/internal/process/spawn"
	"vmproc/internal/vm/phase"
	"vmproc/internal/vm/threads"
	pkgerrors "vmproc/pkg/errors"
	"vmproc/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type linuxLauncher struct {
	cfg   Config
	hooks threads.Hooks
}

// NewLauncher creates a Linux launcher. A nil hooks disables the
// maintenance-thread notifications.
func NewLauncher(cfg Config, hooks threads.Hooks) (Launcher, error) {
	if cfg.ShellPath == "" {
		cfg.ShellPath = command.DefaultShell
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = defaultReadChunk
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxDescriptors <= 0 {
		var lim unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
			return nil, pkgerrors.ErrnoError(pkgerrors.InternalServerError, "getrlimit(2)", pkgerrors.Errno(err))
		}
		cfg.MaxDescriptors = int(lim.Cur)
	}
	if hooks == nil {
		hooks = threads.Nop{}
	}
	return &linuxLauncher{cfg: cfg, hooks: hooks}, nil
}

func (l *linuxLauncher) Spawn(ctx context.Context, w *phase.Worker, cfg *spawn.Config, cmd string, args []string) (int, error) {
	spec, err := command.New(cmd, args)
	if err != nil {
		return 0, err
	}
	plan := spawn.Compile(cfg, os.Environ(), l.cfg.MaxDescriptors)
	img, err := spec.Resolve(plan.Env, l.cfg.ShellPath)
	if err != nil {
		return 0, err
	}
	native := command.NewNative(img, plan.Env)

	errs, err := forkexec.NewPipe()
	if err != nil {
		return 0, err
	}
	defer errs.Close()

	pid, errno := l.forkExec(ctx, w, &forkexec.Attr{
		Paths:   native.Paths,
		Argv:    native.Argv,
		Envv:    native.Envv,
		Plan:    plan,
		ErrorFD: errs.WriteFD(),
	})
	if errno != 0 {
		return 0, pkgerrors.ErrnoError(pkgerrors.ForkFailed, "fork(2)", errno)
	}
	errs.CloseWrite()

	logger.Info(ctx, "spawn",
		zap.Int("pid", pid),
		zap.String("command", spec.String()),
		zap.String("worker", w.Name()),
		zap.Stringer("config", cfg))

	if err := l.awaitExec(ctx, w, errs, pid, "spawn", spec.String()); err != nil {
		return 0, err
	}
	return pid, nil
}

func (l *linuxLauncher) Backtick(ctx context.Context, w *phase.Worker, cmd string) (int, []byte, error) {
	spec, err := command.New(cmd, nil)
	if err != nil {
		return 0, nil, err
	}
	env := os.Environ()
	img, err := spec.Resolve(env, l.cfg.ShellPath)
	if err != nil {
		return 0, nil, err
	}
	native := command.NewNative(img, env)

	errs, err := forkexec.NewPipe()
	if err != nil {
		return 0, nil, err
	}
	defer errs.Close()
	out, err := forkexec.NewPipe()
	if err != nil {
		return 0, nil, err
	}
	defer out.Close()

	pid, errno := l.forkExec(ctx, w, &forkexec.Attr{
		Paths:     native.Paths,
		Argv:      native.Argv,
		Envv:      native.Envv,
		ErrorFD:   errs.WriteFD(),
		Output:    out.WriteFD(),
		HasOutput: true,
	})
	if errno != 0 {
		return 0, nil, pkgerrors.ErrnoError(pkgerrors.ForkFailed, "fork(2)", errno)
	}
	errs.CloseWrite()
	out.CloseWrite()

	logger.Info(ctx, "backtick",
		zap.Int("pid", pid),
		zap.String("command", cmd),
		zap.String("worker", w.Name()))

	if err := l.awaitExec(ctx, w, errs, pid, "backtick", cmd); err != nil {
		return 0, nil, err
	}
	data, err := l.readOutput(ctx, w, out.ReadFD())
	if err != nil {
		// The child keeps running and is reaped by the caller.
		return pid, nil, pkgerrors.GetError(err).WithDetail("pid", pid)
	}
	return pid, data, nil
}

// forkExec runs the fork inside the fork/exec lock with maintenance threads
// quiesced. The worker stays Unmanaged for the whole section.
func (l *linuxLauncher) forkExec(ctx context.Context, w *phase.Worker, attr *forkexec.Attr) (pid int, errno syscall.Errno) {
	_ = w.RunUnmanaged(func() error {
		unlock := w.Coordinator().LockForkExec()
		defer unlock()
		l.hooks.BeforeForkExec(ctx)
		defer l.hooks.AfterForkExecParent(ctx)
		pid, errno = forkexec.StartProcess(attr)
		return nil
	})
	return pid, errno
}

// awaitExec reads the error channel. A child that failed to exec is reaped
// and reported as a launch error.
func (l *linuxLauncher) awaitExec(ctx context.Context, w *phase.Worker, errs *forkexec.Pipe, pid int, op, cmd string) error {
	var (
		status syscall.Errno
		err    error
	)
	_ = w.RunUnmanaged(func() error {
		status, err = errs.ReadStatus()
		return nil
	})
	errs.CloseRead()
	if err != nil {
		logger.Warn(ctx, op+": reading error status", zap.Int("pid", pid), zap.Error(err))
		return nil
	}
	if status == 0 {
		return nil
	}
	logger.Error(ctx, op+": exec failed",
		zap.Int("pid", pid),
		zap.String("command", cmd),
		zap.Error(status))
	l.reap(w, pid)
	return pkgerrors.ErrnoError(pkgerrors.LaunchFailed, "execvp(2)", status).
		WithDetail("command", cmd).
		WithDetail("pid", pid)
}

// reap collects a child that is known to be exiting.
func (l *linuxLauncher) reap(w *phase.Worker, pid int) {
	_ = w.RunUnmanaged(func() error {
		var ws unix.WaitStatus
		for {
			if _, err := unix.Wait4(pid, &ws, 0, nil); err != unix.EINTR {
				return nil
			}
		}
	})
}

// readOutput drains fd until EOF, checking for cancellation between reads.
// On cancellation the child is left running for its caller to reap.
func (l *linuxLauncher) readOutput(ctx context.Context, w *phase.Worker, fd int) ([]byte, error) {
	var (
		output  bytes.Buffer
		chunk   = make([]byte, l.cfg.ReadChunk)
		timeout = int(l.cfg.PollInterval.Milliseconds())
	)
	if timeout <= 0 {
		timeout = 1
	}
	for {
		if err := w.CheckInterrupts(ctx, "backtick"); err != nil {
			return nil, err
		}
		var (
			n     int
			ready bool
			err   error
		)
		_ = w.RunUnmanaged(func() error {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
			var k int
			if k, err = unix.Poll(fds, timeout); err != nil || k == 0 {
				return nil
			}
			ready = true
			n, err = unix.Read(fd, chunk)
			return nil
		})
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return nil, pkgerrors.ErrnoError(pkgerrors.OutputReadFailed, "read(2)", pkgerrors.Errno(err))
		}
		if !ready {
			continue
		}
		if n == 0 {
			return output.Bytes(), nil
		}
		output.Write(chunk[:n])
	}
}

func (l *linuxLauncher) Exec(ctx context.Context, w *phase.Worker, cmd string, args []string) error {
	spec, err := command.New(cmd, args)
	if err != nil {
		return err
	}
	env := os.Environ()
	img, err := spec.Resolve(env, l.cfg.ShellPath)
	if err != nil {
		return err
	}

	unlock := w.Coordinator().LockForkExec()
	defer unlock()
	l.hooks.BeforeExec(ctx)
	defer l.hooks.AfterExec(ctx)

	logger.Info(ctx, "exec",
		zap.String("command", spec.String()),
		zap.String("worker", w.Name()))
	_ = logger.Sync()

	var errno syscall.Errno
	_ = w.RunUnmanaged(func() error {
		table := forkexec.SaveAndResetSignals()
		errno = forkexec.Exec(img.Candidates, img.Argv, env)
		if err := table.Restore(); err != nil {
			logger.Warn(ctx, "exec: restoring signal dispositions", zap.Error(err))
		}
		return nil
	})
	return pkgerrors.ErrnoError(pkgerrors.LaunchFailed, "execvp(2)", errno).
		WithDetail("command", spec.String())
}

func (l *linuxLauncher) Fork(ctx context.Context, w *phase.Worker) (ForkResult, error) {
	coord := w.Coordinator()

	// The child only has the thread that called fork.
	runtime.LockOSThread()
	restore := w.Unmanaged()
	unlock := coord.LockForkExec()
	l.hooks.BeforeFork(ctx)

	pid, errno := forkexec.Fork()
	if errno == 0 && pid == 0 {
		coord.AfterForkChild(w)
		l.hooks.AfterForkChild(ctx)
		unlock()
		restore()
		return ForkResult{Child: true}, nil
	}

	l.hooks.AfterForkParent(ctx)
	unlock()
	restore()
	runtime.UnlockOSThread()
	if errno != 0 {
		return ForkResult{}, pkgerrors.ErrnoError(pkgerrors.ForkFailed, "fork(2)", errno)
	}
	logger.Info(ctx, "fork", zap.Int("pid", pid), zap.String("worker", w.Name()))
	return ForkResult{Pid: pid}, nil
}
