// Package threads manages the VM's background maintenance threads and the
// hooks that quiesce them around fork and exec.
package threads

import (
	"context"
	"sync"
	"time"

	"vmproc/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// Hooks is notified by the launcher around every fork and exec.
type Hooks interface {
	BeforeFork(ctx context.Context)
	AfterForkParent(ctx context.Context)
	AfterForkChild(ctx context.Context)
	BeforeForkExec(ctx context.Context)
	AfterForkExecParent(ctx context.Context)
	BeforeExec(ctx context.Context)
	AfterExec(ctx context.Context)
}

// Task is one iteration of a maintenance thread.
type Task func(ctx context.Context)

type thread struct {
	name     string
	interval time.Duration
	task     Task
}

// Registry runs maintenance threads and implements Hooks.
type Registry struct {
	mu      sync.Mutex
	threads []thread
	running bool
	stopCtx context.Context
	cancel  context.CancelFunc
	group   *threading.RoutineGroup
	// quiesced counts nested Before* calls that are still waiting for their After* pair.
	quiesced int
}

// NewRegistry creates an empty, stopped registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a maintenance thread that runs task every interval. Threads
// registered while the registry runs start immediately.
func (r *Registry) Register(name string, interval time.Duration, task Task) {
	if interval <= 0 {
		interval = time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := thread{name: name, interval: interval, task: task}
	r.threads = append(r.threads, t)
	if r.running {
		stopCtx := r.stopCtx
		r.group.RunSafe(func() {
			runThread(context.Background(), stopCtx, t)
		})
	}
}

// Start launches every registered thread.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked()
}

// Stop cancels every thread and waits for them to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Running reports whether maintenance threads are active.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Names returns the registered thread names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.threads))
	for _, t := range r.threads {
		names = append(names, t.name)
	}
	return names
}

func (r *Registry) startLocked() {
	if r.running {
		return
	}
	stopCtx, cancel := context.WithCancel(context.Background())
	r.stopCtx = stopCtx
	r.cancel = cancel
	r.group = threading.NewRoutineGroup()
	r.running = true
	for _, t := range r.threads {
		t := t
		r.group.RunSafe(func() {
			runThread(context.Background(), stopCtx, t)
		})
	}
}

func (r *Registry) stopLocked() {
	if !r.running {
		return
	}
	r.cancel()
	r.group.Wait()
	r.running = false
	r.stopCtx = nil
	r.cancel = nil
	r.group = nil
}

func runThread(ctx, stopCtx context.Context, t thread) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCtx.Done():
			return
		case <-ticker.C:
			t.task(ctx)
		}
	}
}

// quiesce stops running threads and remembers whether they must be resumed.
func (r *Registry) quiesce(ctx context.Context, hook string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.stopLocked()
		r.quiesced++
		logger.Debug(ctx, "maintenance threads quiesced", zap.String("hook", hook))
		return
	}
	if r.quiesced > 0 {
		r.quiesced++
	}
}

func (r *Registry) resume(ctx context.Context, hook string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiesced == 0 {
		return
	}
	r.quiesced--
	if r.quiesced == 0 {
		r.startLocked()
		logger.Debug(ctx, "maintenance threads resumed", zap.String("hook", hook))
	}
}

// BeforeFork quiesces maintenance threads so none runs inside the child.
func (r *Registry) BeforeFork(ctx context.Context) { r.quiesce(ctx, "before_fork") }

// AfterForkParent resumes threads quiesced by BeforeFork.
func (r *Registry) AfterForkParent(ctx context.Context) { r.resume(ctx, "after_fork_parent") }

// AfterForkChild force-resets registry state in a forked child. The thread
// goroutines do not exist there, so the lock is replaced rather than taken.
func (r *Registry) AfterForkChild(ctx context.Context) {
	r.mu = sync.Mutex{}
	r.running = false
	r.stopCtx = nil
	r.cancel = nil
	r.group = nil
	r.quiesced = 0
}

// BeforeForkExec quiesces threads before a fork that is followed by exec.
func (r *Registry) BeforeForkExec(ctx context.Context) { r.quiesce(ctx, "before_fork_exec") }

// AfterForkExecParent resumes threads after the spawn handshake.
func (r *Registry) AfterForkExecParent(ctx context.Context) {
	r.resume(ctx, "after_fork_exec_parent")
}

// BeforeExec quiesces threads before the current image is replaced.
func (r *Registry) BeforeExec(ctx context.Context) { r.quiesce(ctx, "before_exec") }

// AfterExec resumes threads after a failed exec.
func (r *Registry) AfterExec(ctx context.Context) { r.resume(ctx, "after_exec") }

// Nop is a Hooks implementation that does nothing.
type Nop struct{}

func (Nop) BeforeFork(context.Context)          {}
func (Nop) AfterForkParent(context.Context)     {}
func (Nop) AfterForkChild(context.Context)      {}
func (Nop) BeforeForkExec(context.Context)      {}
func (Nop) AfterForkExecParent(context.Context) {}
func (Nop) BeforeExec(context.Context)          {}
func (Nop) AfterExec(context.Context)           {}
