// Package phase tracks which VM workers may be stopped by the collector and
// owns the process-wide fork/exec lock.
package phase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pkgerrors "vmproc/pkg/errors"
)

// Phase is the collector-visible state of a worker.
type Phase int32

const (
	// Managed workers may hold heap references and must stop for a pause.
	Managed Phase = iota
	// Unmanaged workers are parked outside the heap and excluded from pauses.
	Unmanaged
)

func (p Phase) String() string {
	switch p {
	case Managed:
		return "managed"
	case Unmanaged:
		return "unmanaged"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Coordinator implements stop-the-world pauses over a set of workers.
type Coordinator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pausing  bool
	managed  int
	parked   int
	nextID   uint64
	workers  map[uint64]*Worker
	forkExec sync.Mutex
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{workers: make(map[uint64]*Worker)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// NewWorker registers a worker in the Managed phase. Registration waits for
// an in-progress pause to finish.
func (c *Coordinator) NewWorker(name string) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pausing {
		c.cond.Wait()
	}
	c.nextID++
	w := &Worker{id: c.nextID, name: name, coord: c}
	c.workers[w.id] = w
	c.managed++
	return w
}

// Workers returns the number of registered workers and how many are Managed.
func (c *Coordinator) Workers() (total, managed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers), c.managed
}

// StopTheWorld blocks until every Managed worker other than self is parked
// at a safepoint. Unmanaged workers keep running.
func (c *Coordinator) StopTheWorld(self *Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pausing {
		c.cond.Wait()
	}
	c.pausing = true
	for {
		need := c.managed
		if self != nil && self.phase.Load() == int32(Managed) {
			need--
		}
		if c.parked >= need {
			return
		}
		c.cond.Wait()
	}
}

// RestartTheWorld ends the current pause.
func (c *Coordinator) RestartTheWorld() {
	c.mu.Lock()
	c.pausing = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Pausing reports whether a pause is in progress.
func (c *Coordinator) Pausing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausing
}

// LockForkExec acquires the fork/exec lock. The returned function releases it
// and is safe to call more than once.
func (c *Coordinator) LockForkExec() (unlock func()) {
	c.forkExec.Lock()
	var once sync.Once
	return func() {
		once.Do(c.forkExec.Unlock)
	}
}

// AfterForkChild resets coordinator state in a freshly forked child. Locks
// held by threads that do not exist in the child are cleared, not waited on;
// only self survives in the worker table.
func (c *Coordinator) AfterForkChild(self *Worker) {
	c.mu = sync.Mutex{}
	c.cond = sync.NewCond(&c.mu)
	c.pausing = false
	c.parked = 0
	c.workers = make(map[uint64]*Worker)
	c.managed = 0
	if self != nil && !self.released.Load() {
		c.workers[self.id] = self
		if self.phase.Load() == int32(Managed) {
			c.managed = 1
		}
	}
}

// HeldLocks names the coordinator locks that are currently held.
func (c *Coordinator) HeldLocks() []string {
	var held []string
	if c.mu.TryLock() {
		c.mu.Unlock()
	} else {
		held = append(held, "phase")
	}
	if c.forkExec.TryLock() {
		c.forkExec.Unlock()
	} else {
		held = append(held, "fork_exec")
	}
	return held
}

// Worker is the per-worker context record carrying the phase flag and the
// cooperative interrupt flag.
type Worker struct {
	id          uint64
	name        string
	coord       *Coordinator
	phase       atomic.Int32
	interrupted atomic.Bool
	released    atomic.Bool
}

// Name returns the worker name used in diagnostics.
func (w *Worker) Name() string {
	return w.name
}

// Coordinator returns the coordinator this worker belongs to.
func (w *Worker) Coordinator() *Coordinator {
	return w.coord
}

// Phase returns the worker's current phase.
func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

// Safepoint parks a Managed worker while a pause is in progress.
func (w *Worker) Safepoint() {
	c := w.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitPauseLocked(w)
}

// waitPauseLocked blocks while a pause is in progress. A Managed worker
// counts as parked while it waits.
func (c *Coordinator) waitPauseLocked(w *Worker) {
	if !c.pausing {
		return
	}
	park := w != nil && !w.released.Load() && w.phase.Load() == int32(Managed)
	if park {
		c.parked++
		c.cond.Broadcast()
	}
	for c.pausing {
		c.cond.Wait()
	}
	if park {
		c.parked--
	}
}

// Unmanaged moves the worker to the Unmanaged phase and returns the guard
// that restores Managed. Entering respects an in-progress pause. The guard is
// idempotent so it can be both deferred and called early.
func (w *Worker) Unmanaged() (restore func()) {
	if w.phase.Load() == int32(Unmanaged) {
		return func() {}
	}
	c := w.coord
	c.mu.Lock()
	c.waitPauseLocked(w)
	w.phase.Store(int32(Unmanaged))
	if !w.released.Load() {
		c.managed--
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(w.becomeManaged)
	}
}

func (w *Worker) becomeManaged() {
	c := w.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitPauseLocked(w)
	w.phase.Store(int32(Managed))
	if !w.released.Load() {
		c.managed++
	}
}

// RunUnmanaged runs fn in the Unmanaged phase, restoring Managed on every
// exit path including panics.
func (w *Worker) RunUnmanaged(fn func() error) error {
	restore := w.Unmanaged()
	defer restore()
	return fn()
}

// Interrupt requests cooperative cancellation of the worker's current wait.
func (w *Worker) Interrupt() {
	w.interrupted.Store(true)
}

// CheckInterrupts consumes a pending interrupt. It returns an Interrupted
// error when the worker was interrupted or ctx is done.
func (w *Worker) CheckInterrupts(ctx context.Context, op string) error {
	if w.interrupted.CompareAndSwap(true, false) {
		return pkgerrors.InterruptedError(op)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.Interrupted).WithDetail("op", op)
		}
	}
	return nil
}

// Release unregisters the worker. A released worker no longer counts towards
// pauses.
func (w *Worker) Release() {
	c := w.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.released.Swap(true) {
		return
	}
	delete(c.workers, w.id)
	if w.phase.Load() == int32(Managed) {
		c.managed--
	}
	c.cond.Broadcast()
}
