//go:build linux && (amd64 || arm64)

package forkexec

import (
	"syscall"

	pkgerrors "vmproc/pkg/errors"

	"golang.org/x/sys/unix"
)

// Pipe is a close-on-exec pipe pair. Closing an end twice is harmless.
type Pipe struct {
	r int
	w int
}

// NewPipe creates a pipe whose ends close on exec.
func NewPipe() (*Pipe, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe2(p[:], unix.O_CLOEXEC)
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, pkgerrors.ErrnoError(pkgerrors.PipeSetupFailed, "pipe(2)", pkgerrors.Errno(err))
	}
	return &Pipe{r: p[0], w: p[1]}, nil
}

// ReadFD returns the read end, or -1 once closed.
func (p *Pipe) ReadFD() int { return p.r }

// WriteFD returns the write end, or -1 once closed.
func (p *Pipe) WriteFD() int { return p.w }

// CloseRead closes the read end.
func (p *Pipe) CloseRead() {
	if p.r >= 0 {
		_ = unix.Close(p.r)
		p.r = -1
	}
}

// CloseWrite closes the write end.
func (p *Pipe) CloseWrite() {
	if p.w >= 0 {
		_ = unix.Close(p.w)
		p.w = -1
	}
}

// Close closes both ends.
func (p *Pipe) Close() {
	p.CloseRead()
	p.CloseWrite()
}

// ReadStatus reads the error channel until EOF or one full message. It
// returns 0 when the child exec'd. Interrupted and would-block reads are
// retried; any other read failure is returned with a zero errno so the
// caller can report it and treat the launch as successful.
func (p *Pipe) ReadStatus() (syscall.Errno, error) {
	var buf [StatusSize]byte
	n := 0
	for n < len(buf) {
		m, err := unix.Read(p.r, buf[n:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return 0, pkgerrors.ErrnoError(pkgerrors.ChannelReadFailed, "read(2)", pkgerrors.Errno(err))
		}
		if m == 0 {
			break
		}
		n += m
	}
	return DecodeStatus(buf[:n]), nil
}
