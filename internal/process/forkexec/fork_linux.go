//go:build linux && (amd64 || arm64)

package forkexec

import (
	"syscall"
	"unsafe"

	"vmproc/internal/process/spawn"

	"golang.org/x/sys/unix"
)

// Attr describes one fork+exec. All pointers must stay reachable until
// StartProcess returns.
type Attr struct {
	// Paths are the exec candidates tried in order.
	Paths []*byte
	// Argv and Envv are nil-terminated.
	Argv []*byte
	Envv []*byte
	// Plan is applied in the child before exec. It may be nil.
	Plan *spawn.Plan
	// ErrorFD receives the errno when every candidate fails.
	ErrorFD int
	// Output, when HasOutput is set, is installed as the child's stdout.
	Output    int
	HasOutput bool
}

// errnoText holds strerror-style text indexed by errno for the chdir warning.
var errnoText = func() [][]byte {
	t := make([][]byte, 134)
	for i := range t {
		t[i] = []byte(syscall.Errno(i).Error())
	}
	return t
}()

// StartProcess forks a child that applies attr.Plan, resets every signal to
// its default action and execs the first usable candidate. It returns the
// child pid, or the fork errno.
func StartProcess(attr *Attr) (int, syscall.Errno) {
	if len(attr.Argv) == 0 || len(attr.Envv) == 0 {
		return 0, syscall.EINVAL
	}
	syscall.ForkLock.Lock()
	pid, err := forkAndExecInChild(attr)
	syscall.ForkLock.Unlock()
	return pid, err
}

// forkAndExecInChild is split out so nothing between beforeFork and exec can
// grow the stack. After clone the child may only use raw syscalls and
// nosplit helpers, and must not write to the heap.
//
//go:norace
//go:noinline
func forkAndExecInChild(attr *Attr) (int, syscall.Errno) {
	var (
		r1    uintptr
		err1  syscall.Errno
		last  syscall.Errno
		eacc  bool
		code  int32
		plan  = attr.Plan
		argvp = uintptr(unsafe.Pointer(&attr.Argv[0]))
		envvp = uintptr(unsafe.Pointer(&attr.Envv[0]))
		dfl   = sigaction{handler: sigDfl, mask: ^uint64(0)}
		atCWD = unix.AT_FDCWD
	)

	beforeFork()
	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		afterFork()
		return int(r1), err1
	}

	// Child.
	afterForkInChild()

	if plan != nil {
		if plan.HasPgroup {
			syscall.RawSyscall(syscall.SYS_SETPGID, 0, uintptr(plan.Pgroup), 0)
		}
		if plan.HasUmask {
			syscall.RawSyscall(syscall.SYS_UMASK, uintptr(plan.Umask), 0, 0)
		}
		if plan.Chdir != nil {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(plan.Chdir)), 0, 0)
			if err1 != 0 {
				if int(err1) < len(errnoText) {
					rawWrite(2, errnoText[err1])
				}
				rawWrite(2, plan.ChdirWarning)
			}
		}
		if plan.CloseOthers && plan.MaxFD > 3 {
			markCloseOnExec(3, plan.MaxFD)
		}
		for i := range plan.Assign {
			a := &plan.Assign[i]
			r1, _, err1 = syscall.RawSyscall6(syscall.SYS_OPENAT, uintptr(atCWD),
				uintptr(unsafe.Pointer(a.Path)), uintptr(a.Flags), uintptr(a.Perm), 0, 0)
			if err1 == 0 {
				dupOnto(a.FD, int(r1))
			}
		}
		for i := range plan.Redirect {
			dupOnto(plan.Redirect[i].From, plan.Redirect[i].To)
		}
	}

	if attr.HasOutput {
		dupOnto(1, attr.Output)
	}

	for sig := uintptr(1); sig < NSig; sig++ {
		rtSigaction(sig, &dfl, nil)
	}

	last = syscall.ENOENT
search:
	for i := range attr.Paths {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
			uintptr(unsafe.Pointer(attr.Paths[i])), argvp, envvp)
		last = err1
		switch err1 {
		case syscall.EACCES:
			eacc = true
		case syscall.ENOENT, syscall.ENOTDIR, syscall.ESTALE, syscall.ENODEV, syscall.ETIMEDOUT:
		default:
			eacc = false
			break search
		}
	}
	if eacc {
		last = syscall.EACCES
	}

	code = int32(last)
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(attr.ErrorFD), uintptr(unsafe.Pointer(&code)), StatusSize)
	for {
		syscall.RawSyscall(syscall.SYS_EXIT_GROUP, 1, 0, 0)
	}
}

// dupOnto makes from a copy of to with close-on-exec cleared.
//
//go:nosplit
func dupOnto(from, to int) {
	if from == to {
		flags, _, e := syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(from), syscall.F_GETFD, 0)
		if e == 0 {
			syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(from), syscall.F_SETFD, flags&^syscall.FD_CLOEXEC)
		}
		return
	}
	syscall.RawSyscall(syscall.SYS_DUP3, uintptr(to), uintptr(from), 0)
}

// markCloseOnExec sets FD_CLOEXEC on [lo, hi). It uses close_range when the
// kernel has it and falls back to one fcntl per descriptor.
//
//go:nosplit
func markCloseOnExec(lo, hi int) {
	_, _, e := syscall.RawSyscall(unix.SYS_CLOSE_RANGE, uintptr(lo), uintptr(hi-1), unix.CLOSE_RANGE_CLOEXEC)
	if e == 0 {
		return
	}
	for fd := lo; fd < hi; fd++ {
		flags, _, e := syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_GETFD, 0)
		if e == 0 {
			syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_SETFD, flags|syscall.FD_CLOEXEC)
		}
	}
}

//go:nosplit
func rawWrite(fd int, b []byte) {
	if len(b) == 0 {
		return
	}
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}

// Fork duplicates the calling process. In the child it returns pid 0 with
// the runtime restored to a runnable state; only the calling thread exists
// there. The caller must hold its goroutine on the current thread.
func Fork() (int, syscall.Errno) {
	syscall.ForkLock.Lock()
	pid, err := rawFork()
	syscall.ForkLock.Unlock()
	return pid, err
}

//go:norace
//go:noinline
func rawFork() (int, syscall.Errno) {
	beforeFork()
	r1, _, err1 := syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	afterFork()
	if err1 != 0 {
		return 0, err1
	}
	return int(r1), 0
}
