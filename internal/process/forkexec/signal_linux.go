//go:build linux && (amd64 || arm64)

package forkexec

import (
	"sync"
	"syscall"
	"unsafe"

	pkgerrors "vmproc/pkg/errors"

	"golang.org/x/sys/unix"
)

// NSig is one past the highest signal number the kernel accepts.
const NSig = 65

const (
	sigDfl = 0
	sigIgn = 1

	sigsetSize = 8
)

// sigaction is the kernel's struct sigaction on amd64 and arm64.
type sigaction struct {
	handler  uintptr
	flags    uint64
	restorer uintptr
	mask     uint64
}

//go:nosplit
func rtSigaction(sig uintptr, act, old *sigaction) syscall.Errno {
	_, _, e := syscall.RawSyscall6(unix.SYS_RT_SIGACTION, sig,
		uintptr(unsafe.Pointer(act)), uintptr(unsafe.Pointer(old)), sigsetSize, 0, 0)
	return e
}

// SignalTable is a verbatim copy of the process's signal dispositions.
type SignalTable struct {
	actions [NSig]sigaction
	saved   [NSig]bool
}

// SaveAndResetSignals records every disposition and sets each signal to its
// default action. Signals the kernel refuses to change are skipped.
func SaveAndResetSignals() *SignalTable {
	t := &SignalTable{}
	dfl := sigaction{handler: sigDfl, mask: ^uint64(0)}
	for sig := 1; sig < NSig; sig++ {
		if rtSigaction(uintptr(sig), nil, &t.actions[sig]) != 0 {
			continue
		}
		if sig == int(unix.SIGKILL) || sig == int(unix.SIGSTOP) {
			continue
		}
		if rtSigaction(uintptr(sig), &dfl, nil) == 0 {
			t.saved[sig] = true
		}
	}
	return t
}

// Restore reinstalls the saved dispositions exactly as they were read.
func (t *SignalTable) Restore() error {
	var failed []int
	for sig := 1; sig < NSig; sig++ {
		if !t.saved[sig] {
			continue
		}
		if rtSigaction(uintptr(sig), &t.actions[sig], nil) != 0 {
			failed = append(failed, sig)
		}
	}
	if len(failed) > 0 {
		return pkgerrors.New(pkgerrors.SignalSetFailed).WithDetail("signals", failed)
	}
	return nil
}

// Handler reports the saved handler for sig, for diagnostics and tests.
func (t *SignalTable) Handler(sig int) (uintptr, bool) {
	if sig <= 0 || sig >= NSig || !t.saved[sig] {
		return 0, false
	}
	return t.actions[sig].handler, true
}

// IgnoreWindow sets a fixed set of signals to SIG_IGN while at least one
// caller is inside the window. The first caller to enter saves the current
// dispositions and the last one to leave restores them.
type IgnoreWindow struct {
	mu      sync.Mutex
	signals []int
	refs    int
	saved   []sigaction
}

// NewIgnoreWindow creates a window over signals.
func NewIgnoreWindow(signals ...syscall.Signal) *IgnoreWindow {
	w := &IgnoreWindow{saved: make([]sigaction, len(signals))}
	for _, s := range signals {
		w.signals = append(w.signals, int(s))
	}
	return w
}

// Enter joins the window.
func (w *IgnoreWindow) Enter() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs++
	if w.refs > 1 {
		return nil
	}
	ign := sigaction{handler: sigIgn}
	for i, sig := range w.signals {
		if e := rtSigaction(uintptr(sig), &ign, &w.saved[i]); e != 0 {
			return pkgerrors.ErrnoError(pkgerrors.SignalSetFailed, "rt_sigaction(2)", e).
				WithDetail("signal", sig)
		}
	}
	return nil
}

// Leave exits the window, restoring the saved dispositions when the last
// caller leaves.
func (w *IgnoreWindow) Leave() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refs == 0 {
		return nil
	}
	w.refs--
	if w.refs > 0 {
		return nil
	}
	var err error
	for i, sig := range w.signals {
		if e := rtSigaction(uintptr(sig), &w.saved[i], nil); e != 0 && err == nil {
			err = pkgerrors.ErrnoError(pkgerrors.SignalSetFailed, "rt_sigaction(2)", e).
				WithDetail("signal", sig)
		}
	}
	return err
}

// Depth returns how many callers are inside the window.
func (w *IgnoreWindow) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refs
}

// CurrentHandler reads the installed handler for sig.
func CurrentHandler(sig syscall.Signal) (uintptr, error) {
	var old sigaction
	if e := rtSigaction(uintptr(sig), nil, &old); e != 0 {
		return 0, pkgerrors.ErrnoError(pkgerrors.SignalSetFailed, "rt_sigaction(2)", e)
	}
	return old.handler, nil
}

// HandlerIgnore and HandlerDefault are the special handler values.
const (
	HandlerDefault uintptr = sigDfl
	HandlerIgnore  uintptr = sigIgn
)
