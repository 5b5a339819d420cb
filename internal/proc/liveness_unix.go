//go:build unix

package proc

import (
	"os"
	"syscall"
)

// OS implements Liveness against the host process table.
type OS struct{}

// NewOS creates the real liveness oracle.
func NewOS() *OS {
	return &OS{}
}

// IsAlive reports whether pid refers to a live process. Signal 0 performs
// the existence check without delivering anything; EPERM still means the
// process exists.
func (o *OS) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	pr, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = pr.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
