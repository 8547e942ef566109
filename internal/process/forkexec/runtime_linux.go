//go:build linux && (amd64 || arm64)

package forkexec

import _ "unsafe"

// beforeFork blocks signals on the calling thread and disables stack growth
// until afterFork or afterForkInChild runs.
//
//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

// afterFork undoes beforeFork. The parent calls it after clone returns, and
// so does a forked child that keeps running Go code.
//
//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

// afterForkInChild resets the runtime's signal handlers in a child that is
// about to exec.
//
//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()
