//go:build linux && (amd64 || arm64)

package launcher

import (
	"context"
	"strings"
	"testing"

	pkgerrors "vmproc/pkg/errors"
	"vmproc/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"
)

func stubWait4(t *testing.T, fn func(pid int, ws *unix.WaitStatus, options int, ru *unix.Rusage) (int, error)) {
	t.Helper()
	saved := wait4
	wait4 = fn
	t.Cleanup(func() { wait4 = saved })
}

func TestWaitPidRetriesEINTR(t *testing.T) {
	l, w := newTestLauncher(t, nil)
	calls := 0
	stubWait4(t, func(pid int, ws *unix.WaitStatus, _ int, _ *unix.Rusage) (int, error) {
		calls++
		if calls < 3 {
			return 0, unix.EINTR
		}
		*ws = 3 << 8
		return pid, nil
	})

	st, err := l.WaitPid(context.Background(), w, 4242, false)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 wait4 calls, got %d", calls)
	}
	if st.Outcome != Reaped || st.ExitCode == nil || *st.ExitCode != 3 {
		t.Fatalf("unexpected status %s", st)
	}
}

func TestWaitPidInterruptedOnEINTR(t *testing.T) {
	l, w := newTestLauncher(t, nil)
	calls := 0
	stubWait4(t, func(int, *unix.WaitStatus, int, *unix.Rusage) (int, error) {
		calls++
		w.Interrupt()
		return 0, unix.EINTR
	})

	st, err := l.WaitPid(context.Background(), w, 4242, false)
	if err != nil {
		t.Fatalf("interrupted wait must not fail: %v", err)
	}
	if st.Outcome != Interrupted || st.Pid != 4242 || calls != 1 {
		t.Fatalf("expected interrupted after one call, got %s (%d calls)", st, calls)
	}
	if waitSignals.Depth() != 0 {
		t.Fatalf("interrupted wait left the ignore window open")
	}
}

func TestWaitPidUnexpectedErrnoIsNoChild(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger.Use(zap.New(core))
	defer logger.Use(nil)

	l, w := newTestLauncher(t, nil)
	stubWait4(t, func(int, *unix.WaitStatus, int, *unix.Rusage) (int, error) {
		return 0, unix.EINVAL
	})

	st, err := l.WaitPid(context.Background(), w, 4242, true)
	if err != nil || st.Outcome != NoChild {
		t.Fatalf("expected no child, got %s %v", st, err)
	}
	entries := logs.FilterMessage("wait_pid failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure entry, got %d", len(entries))
	}
	logged, ok := entries[0].ContextMap()["error"].(string)
	if !ok || !strings.HasPrefix(logged, pkgerrors.WaitFailed.Message()+": wait4(2)") {
		t.Fatalf("unexpected logged error %v", entries[0].ContextMap())
	}
}
