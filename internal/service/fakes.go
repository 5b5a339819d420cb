package service

import (
	"context"
	"fmt"
	"sync"
)

// FakeExecutor is an in-memory Executor for tests. Jobs stay open until the
// test completes them with Finish, or indefinitely if never finished. Cancel
// delivers a canceled outcome like a killed process would.
type FakeExecutor struct {
	mu      sync.Mutex
	jobs    map[string]chan ExecOutcome
	started []string
	nextPID int

	// StartErr, when set for a node ID, makes Start fail for that node.
	StartErr map[string]error
}

// NewFakeExecutor creates an empty FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		jobs:     make(map[string]chan ExecOutcome),
		nextPID:  1000,
		StartErr: make(map[string]error),
	}
}

func (f *FakeExecutor) Start(ctx context.Context, req *ExecRequest) (*RunningJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.StartErr[req.Node.ID]; err != nil {
		return nil, err
	}
	key := nodeKey(req.PlanID, req.Node.ID)
	ch := make(chan ExecOutcome, 1)
	f.jobs[key] = ch
	f.started = append(f.started, req.Node.ID)
	f.nextPID++
	return &RunningJob{PID: f.nextPID, Done: ch}, nil
}

func (f *FakeExecutor) Cancel(planID, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeKey(planID, nodeID)
	ch, ok := f.jobs[key]
	if !ok {
		return fmt.Errorf("no running job for node %s", nodeID)
	}
	delete(f.jobs, key)
	ch <- ExecOutcome{Canceled: true, Error: "canceled"}
	return nil
}

// Finish delivers an outcome for a started node.
func (f *FakeExecutor) Finish(planID, nodeID string, outcome ExecOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeKey(planID, nodeID)
	ch, ok := f.jobs[key]
	if !ok {
		return fmt.Errorf("no running job for node %s", nodeID)
	}
	delete(f.jobs, key)
	ch <- outcome
	return nil
}

// CancelAll delivers a canceled outcome to every open job, unblocking any
// goroutine waiting on them. Tests call this before shutting down.
func (f *FakeExecutor) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, ch := range f.jobs {
		delete(f.jobs, key)
		ch <- ExecOutcome{Canceled: true, Error: "canceled"}
	}
}

// Started returns the node IDs passed to Start, in order.
func (f *FakeExecutor) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// Running reports whether a job for the node is currently open.
func (f *FakeExecutor) Running(planID, nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[nodeKey(planID, nodeID)]
	return ok
}
