// Package forkexec holds the pieces of process creation that cannot be
// expressed with os/exec: a raw fork whose child applies a spawn plan before
// exec, the error channel that carries exec failures back to the parent, and
// direct access to the kernel signal disposition table.
//
// Everything that runs between fork and exec lives in this package and
// follows the runtime's rules for that window: no allocation, no locks, no
// calls that can grow the stack. Values the child needs are prepared by the
// parent before forking.
package forkexec

import (
	"encoding/binary"
	"syscall"
)

// StatusSize is the size of an error channel message: one native-endian
// int32 errno.
const StatusSize = 4

// DecodeStatus interprets the bytes read from an error channel. An empty
// read means exec succeeded. A short message is reported as EIO.
func DecodeStatus(b []byte) syscall.Errno {
	if len(b) == 0 {
		return 0
	}
	if len(b) < StatusSize {
		return syscall.EIO
	}
	errno := syscall.Errno(binary.NativeEndian.Uint32(b[:StatusSize]))
	if errno == 0 {
		return syscall.EIO
	}
	return errno
}

// EncodeStatus is the parent-side mirror of what the child writes on exec
// failure.
func EncodeStatus(errno syscall.Errno) []byte {
	b := make([]byte, StatusSize)
	binary.NativeEndian.PutUint32(b, uint32(int32(errno)))
	return b
}

// continueSearch reports whether an exec failure lets the PATH search move to
// the next candidate, matching execvp.
func continueSearch(errno syscall.Errno) bool {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR, syscall.ESTALE, syscall.ENODEV,
		syscall.ETIMEDOUT, syscall.EACCES:
		return true
	}
	return false
}
