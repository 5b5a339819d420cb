//go:build windows

package proc

import "os"

// OS implements Liveness against the host process table.
type OS struct{}

// NewOS creates the real liveness oracle.
func NewOS() *OS {
	return &OS{}
}

// IsAlive reports whether pid refers to a live process. On Windows,
// FindProcess fails for pids that no longer exist.
func (o *OS) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
