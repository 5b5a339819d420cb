package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/example/agentplan/internal/builder"
	"github.com/example/agentplan/internal/domain"
)

// persistCrashedPlan stores a plan whose root node was running under a pid
// when a previous coordinator died.
func persistCrashedPlan(t *testing.T, h *harness, pid int) (planID, runningID, downstreamID string) {
	t.Helper()
	plan, err := builder.Build(testSpec(
		domain.JobSpec{ProducerID: "a", Task: "t"},
		domain.JobSpec{ProducerID: "b", Task: "t", Dependencies: []string{"a"}},
	))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	runningID = plan.NodeByProducerID("a").ID
	downstreamID = plan.NodeByProducerID("b").ID
	st := plan.State(runningID)
	if err := st.SetStatus(domain.StatusScheduled); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := st.MarkStarted(pid, "/tmp/wt"); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}

	uow, err := h.store.BeginImmediate(context.Background())
	if err != nil {
		t.Fatalf("BeginImmediate() error = %v", err)
	}
	defer uow.Rollback()
	if err := uow.Plans().Create(context.Background(), plan); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := uow.NodeStates().Put(context.Background(), plan.ID, st); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return plan.ID, runningID, downstreamID
}

func TestLoadAndRecoverFailsDeadProcesses(t *testing.T) {
	h := newHarness(t, Config{GlobalMaxParallel: 4})
	planID, runningID, downstreamID := persistCrashedPlan(t, h, 4242)
	// pid 4242 is not alive in the fake process table.

	if err := h.coordinator.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("LoadAndRecover() error = %v", err)
	}

	plan, err := h.coordinator.GetPlan(planID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	st := plan.State(runningID)
	if st.Status != domain.StatusFailed {
		t.Fatalf("recovered node status = %v, want %v", st.Status, domain.StatusFailed)
	}
	if st.FailureReason != domain.FailureCrashed {
		t.Errorf("failure reason = %q, want %q", st.FailureReason, domain.FailureCrashed)
	}
	if got := plan.State(downstreamID).Status; got != domain.StatusBlocked {
		t.Errorf("downstream status = %v, want %v", got, domain.StatusBlocked)
	}
}

func TestLoadAndRecoverLeavesLiveProcesses(t *testing.T) {
	h := newHarness(t, Config{GlobalMaxParallel: 4})
	planID, runningID, _ := persistCrashedPlan(t, h, 4242)
	h.liveness.Alive[4242] = true

	if err := h.coordinator.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("LoadAndRecover() error = %v", err)
	}
	plan, err := h.coordinator.GetPlan(planID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if got := plan.State(runningID).Status; got != domain.StatusRunning {
		t.Fatalf("live inherited node status = %v, want %v", got, domain.StatusRunning)
	}

	// Once the inherited process exits, the next audit settles the node.
	h.liveness.Alive[4242] = false
	h.coordinator.mu.Lock()
	h.coordinator.auditRunningLocked(context.Background())
	h.coordinator.mu.Unlock()
	if got := plan.State(runningID).Status; got != domain.StatusFailed {
		t.Errorf("audited node status = %v, want %v", got, domain.StatusFailed)
	}
}

func TestInheritedRunningNodeHoldsGlobalSlot(t *testing.T) {
	h := newHarness(t, Config{GlobalMaxParallel: 1})
	planID, runningID, _ := persistCrashedPlan(t, h, 4242)
	h.liveness.Alive[4242] = true

	if err := h.coordinator.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("LoadAndRecover() error = %v", err)
	}
	if got := h.coordinator.Capacity().InUse(); got != 1 {
		t.Fatalf("capacity in use after recovery = %d, want 1", got)
	}

	// The single global slot is taken by the inherited node, so a new plan
	// must wait.
	plan2, err := h.coordinator.CreatePlan(context.Background(), testSpec(
		domain.JobSpec{ProducerID: "x", Task: "t"},
	))
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	x := h.nodeID(t, plan2, "x")
	time.Sleep(50 * time.Millisecond)
	if got, _ := h.coordinator.NodeStatus(plan2.ID, x); got != domain.StatusReady {
		t.Fatalf("new node status = %v, want %v while inherited node holds the slot", got, domain.StatusReady)
	}

	// Once the inherited process dies and the audit settles it, the slot
	// frees up and the new node dispatches.
	h.liveness.Alive[4242] = false
	h.coordinator.mu.Lock()
	h.coordinator.auditRunningLocked(context.Background())
	h.coordinator.schedulePassLocked(context.Background())
	h.coordinator.mu.Unlock()
	h.waitStatus(t, plan2.ID, x, domain.StatusRunning)
	if got, _ := h.coordinator.NodeStatus(planID, runningID); got != domain.StatusFailed {
		t.Errorf("inherited node status = %v, want %v", got, domain.StatusFailed)
	}
	if got := h.coordinator.Capacity().InUse(); got != 1 {
		t.Errorf("capacity in use = %d, want 1 (only the new node)", got)
	}
}

func TestReconcileStoreUnloadsDeletedPlans(t *testing.T) {
	h := newHarness(t, Config{GlobalMaxParallel: 4})
	plan, err := h.coordinator.CreatePlan(context.Background(), testSpec(
		domain.JobSpec{ProducerID: "a", Task: "t"},
	))
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	a := h.nodeID(t, plan, "a")
	h.waitStatus(t, plan.ID, a, domain.StatusRunning)

	// Another process deletes the plan's rows out of band.
	uow, err := h.store.BeginImmediate(context.Background())
	if err != nil {
		t.Fatalf("BeginImmediate() error = %v", err)
	}
	if err := uow.Plans().Delete(context.Background(), plan.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	h.coordinator.ReconcileStore(context.Background())
	if _, err := h.coordinator.GetPlan(plan.ID); err == nil {
		t.Error("deleted plan still loaded after reconcile")
	}
	waitFor(t, "running job to stop", func() bool {
		return !h.executor.Running(plan.ID, a)
	})
}

func TestReconcileStoreUnloadsWhenDatabaseFileRemoved(t *testing.T) {
	h := newHarness(t, Config{GlobalMaxParallel: 4})
	plan, err := h.coordinator.CreatePlan(context.Background(), testSpec(
		domain.JobSpec{ProducerID: "a", Task: "t"},
	))
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	a := h.nodeID(t, plan, "a")
	h.waitStatus(t, plan.ID, a, domain.StatusRunning)

	if err := os.Remove(h.store.Path()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	h.coordinator.ReconcileStore(context.Background())
	if _, err := h.coordinator.GetPlan(plan.ID); err == nil {
		t.Error("plan still loaded after its store file was removed")
	}
	waitFor(t, "running job to stop", func() bool {
		return !h.executor.Running(plan.ID, a)
	})
}
