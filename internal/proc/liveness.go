// Package proc answers one question: is a given pid currently alive?
// Crash recovery uses it to audit nodes persisted as running.
package proc

// Liveness is the process-liveness oracle. The real implementation asks the
// OS; tests inject a fake.
type Liveness interface {
	IsAlive(pid int) bool
}

// Fake is a Liveness test double with an explicit set of live pids.
type Fake struct {
	Alive map[int]bool
}

// NewFake creates a Fake with no live processes.
func NewFake() *Fake {
	return &Fake{Alive: make(map[int]bool)}
}

func (f *Fake) IsAlive(pid int) bool {
	return f.Alive[pid]
}
