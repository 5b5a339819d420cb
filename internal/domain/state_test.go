package domain

import (
	"errors"
	"testing"
)

func TestValidNodeTransitionTable(t *testing.T) {
	allowed := []struct{ from, to NodeStatus }{
		{StatusPending, StatusReady},
		{StatusPending, StatusBlocked},
		{StatusPending, StatusCanceled},
		{StatusReady, StatusScheduled},
		{StatusReady, StatusBlocked},
		{StatusReady, StatusCanceled},
		{StatusScheduled, StatusRunning},
		{StatusScheduled, StatusFailed},
		{StatusScheduled, StatusCanceled},
		{StatusRunning, StatusSucceeded},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCanceled},
		{StatusBlocked, StatusPending},
		{StatusBlocked, StatusReady},
		{StatusBlocked, StatusCanceled},
		{StatusFailed, StatusPending},
		{StatusCanceled, StatusPending},
	}
	for _, tr := range allowed {
		if !ValidNodeTransition(tr.from, tr.to) {
			t.Errorf("ValidNodeTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to NodeStatus }{
		{StatusPending, StatusRunning},
		{StatusPending, StatusSucceeded},
		{StatusReady, StatusRunning},
		{StatusScheduled, StatusSucceeded},
		{StatusSucceeded, StatusPending},
		{StatusSucceeded, StatusFailed},
		{StatusFailed, StatusReady},
		{StatusCanceled, StatusReady},
		{StatusBlocked, StatusRunning},
	}
	for _, tr := range denied {
		if ValidNodeTransition(tr.from, tr.to) {
			t.Errorf("ValidNodeTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	st := NewNodeExecutionState("n1", false) // starts READY
	err := st.SetStatus(StatusRunning)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SetStatus(RUNNING) error = %v, want ErrInvalidState", err)
	}
	if st.Status != StatusReady {
		t.Errorf("status after rejected transition = %s, want READY", st.Status)
	}
	if st.Version != 1 {
		t.Errorf("version after rejected transition = %d, want 1", st.Version)
	}
}

func TestVersionMonotonic(t *testing.T) {
	st := NewNodeExecutionState("n1", false)
	last := st.Version

	steps := []NodeStatus{StatusScheduled, StatusRunning, StatusFailed, StatusPending}
	for _, s := range steps {
		var err error
		if s == StatusRunning {
			err = st.MarkStarted(1234, "/tmp/wt")
		} else if s == StatusFailed {
			err = st.MarkEnded(StatusFailed, "boom", FailureError)
		} else {
			err = st.SetStatus(s)
		}
		if err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
		if st.Version <= last {
			t.Errorf("version did not increase on transition to %s: %d -> %d", s, last, st.Version)
		}
		last = st.Version
	}
}

func TestMarkStartedRecordsAttempt(t *testing.T) {
	st := NewNodeExecutionState("n1", false)
	if err := st.SetStatus(StatusScheduled); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkStarted(42, "/work/n1"); err != nil {
		t.Fatal(err)
	}
	if st.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", st.Attempts)
	}
	if st.PID != 42 || st.WorktreePath != "/work/n1" || st.StartedAt == nil {
		t.Errorf("MarkStarted did not record process details: %+v", st)
	}
}

func TestResetForRetryPreservesAttempts(t *testing.T) {
	st := NewNodeExecutionState("n1", false)
	_ = st.SetStatus(StatusScheduled)
	_ = st.MarkStarted(42, "/work/n1")
	_ = st.MarkEnded(StatusFailed, "boom", FailureError)

	if err := st.ResetForRetry(); err != nil {
		t.Fatalf("ResetForRetry failed: %v", err)
	}
	if st.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", st.Status)
	}
	if st.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (history preserved)", st.Attempts)
	}
	if st.Error != "" || st.FailureReason != "" || st.EndedAt != nil {
		t.Errorf("retry did not clear failure fields: %+v", st)
	}
}

func TestInitialStatus(t *testing.T) {
	if st := NewNodeExecutionState("a", false); st.Status != StatusReady {
		t.Errorf("no-deps initial status = %s, want READY", st.Status)
	}
	if st := NewNodeExecutionState("b", true); st.Status != StatusPending {
		t.Errorf("with-deps initial status = %s, want PENDING", st.Status)
	}
}
