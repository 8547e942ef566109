//go:build linux && (amd64 || arm64)

package forkexec

import (
	"syscall"

	pkgerrors "vmproc/pkg/errors"

	"golang.org/x/sys/unix"
)

// Exec replaces the current image with the first candidate that execs. It
// only returns on failure, with the errno execvp would report.
func Exec(paths, argv, envv []string) syscall.Errno {
	last := syscall.ENOENT
	eacc := false
	for _, path := range paths {
		last = pkgerrors.Errno(unix.Exec(path, argv, envv))
		if last == syscall.EACCES {
			eacc = true
		}
		if !continueSearch(last) {
			return last
		}
	}
	if eacc {
		return syscall.EACCES
	}
	return last
}
