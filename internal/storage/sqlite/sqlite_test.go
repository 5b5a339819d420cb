package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/example/agentplan/internal/builder"
	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "agentplan.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func buildTestPlan(t *testing.T) *domain.Plan {
	t.Helper()
	plan, err := builder.Build(&domain.PlanSpec{
		Name:         "persist-test",
		RepoPath:     "/repo",
		BaseBranch:   "main",
		TargetBranch: "integration",
		MaxParallel:  3,
		Jobs: []domain.JobSpec{
			{ProducerID: "a", Task: "first", Group: "core"},
			{ProducerID: "b", Task: "second", Dependencies: []string{"a"}},
		},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return plan
}

func TestPlanRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	plan := buildTestPlan(t)

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := uow.Plans().Create(ctx, plan); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}

	uow, err = store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer uow.Rollback()

	loaded, err := uow.Plans().Get(ctx, plan.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if loaded.Name != "persist-test" || loaded.MaxParallel != 3 {
		t.Errorf("loaded plan meta = %q/%d, want persist-test/3", loaded.Name, loaded.MaxParallel)
	}
	if len(loaded.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(loaded.Nodes))
	}
	a := loaded.NodeByProducerID("a")
	b := loaded.NodeByProducerID("b")
	if a == nil || b == nil {
		t.Fatal("producerId map not rebuilt on load")
	}
	if len(b.Dependencies) != 1 || b.Dependencies[0] != a.ID {
		t.Errorf("b.Dependencies = %v, want [%s]", b.Dependencies, a.ID)
	}
	if len(a.Dependents) != 1 || a.Dependents[0] != b.ID {
		t.Errorf("a.Dependents = %v, want [%s]", a.Dependents, b.ID)
	}
	if loaded.Groups["core"] == nil {
		t.Error("group core lost in round trip")
	}
	if got := loaded.State(a.ID).Status; got != domain.StatusReady {
		t.Errorf("state(a) = %s, want READY", got)
	}
	if got := loaded.State(b.ID).Status; got != domain.StatusPending {
		t.Errorf("state(b) = %s, want PENDING", got)
	}
	if len(loaded.Spec.Jobs) != 2 {
		t.Errorf("spec not persisted verbatim: %+v", loaded.Spec)
	}
}

func TestNodeStateUpsert(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	plan := buildTestPlan(t)

	uow, _ := store.BeginImmediate(ctx)
	if err := uow.Plans().Create(ctx, plan); err != nil {
		t.Fatal(err)
	}
	uow.Commit()

	a := plan.NodeByProducerID("a")
	st := plan.State(a.ID)
	_ = st.SetStatus(domain.StatusScheduled)
	_ = st.MarkStarted(4242, "/wt/a")

	uow, _ = store.BeginImmediate(ctx)
	if err := uow.NodeStates().Put(ctx, plan.ID, st); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	uow.Commit()

	uow, _ = store.Begin(ctx)
	defer uow.Rollback()
	loaded, err := uow.NodeStates().Get(ctx, plan.ID, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.Status != domain.StatusRunning || loaded.PID != 4242 {
		t.Errorf("loaded state = %+v, want RUNNING pid 4242", loaded)
	}
	if loaded.Attempts != 1 || loaded.StartedAt == nil {
		t.Errorf("attempt bookkeeping lost: %+v", loaded)
	}
	if loaded.Version != st.Version {
		t.Errorf("Version = %d, want %d", loaded.Version, st.Version)
	}
}

func TestListCarriesRunningStateAcrossPlans(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	wantPID := make(map[string]int)
	for i := 0; i < 2; i++ {
		plan := buildTestPlan(t)
		a := plan.NodeByProducerID("a")
		st := plan.State(a.ID)
		_ = st.SetStatus(domain.StatusScheduled)
		_ = st.MarkStarted(1000+i, "/wt")
		wantPID[plan.ID] = 1000 + i

		uow, _ := store.BeginImmediate(ctx)
		if err := uow.Plans().Create(ctx, plan); err != nil {
			t.Fatal(err)
		}
		uow.Commit()
	}

	// Startup recovery audits running nodes out of the full plan load; the
	// occupying status and recorded pid must survive that path.
	uow, _ := store.Begin(ctx)
	defer uow.Rollback()
	plans, err := uow.Plans().List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("len(plans) = %d, want 2", len(plans))
	}
	for _, plan := range plans {
		pid, ok := wantPID[plan.ID]
		if !ok {
			t.Fatalf("unexpected plan %s", plan.ID)
		}
		a := plan.NodeByProducerID("a")
		st := plan.State(a.ID)
		if st.Status != domain.StatusRunning {
			t.Errorf("loaded node status = %s, want RUNNING", st.Status)
		}
		if st.PID != pid {
			t.Errorf("loaded pid = %d, want %d", st.PID, pid)
		}
	}
}

func TestDeleteCascades(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	plan := buildTestPlan(t)

	uow, _ := store.BeginImmediate(ctx)
	if err := uow.Plans().Create(ctx, plan); err != nil {
		t.Fatal(err)
	}
	uow.Commit()

	uow, _ = store.BeginImmediate(ctx)
	if err := uow.Plans().Delete(ctx, plan.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	uow.Commit()

	uow, _ = store.Begin(ctx)
	defer uow.Rollback()
	if _, err := uow.Plans().Get(ctx, plan.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	states, err := uow.NodeStates().ListByPlan(ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("node states survived plan delete: %d rows", len(states))
	}
	exists, err := uow.Plans().Exists(ctx, plan.ID)
	if err != nil || exists {
		t.Errorf("Exists = (%v, %v), want (false, nil)", exists, err)
	}
}

func TestUpdateMeta(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	plan := buildTestPlan(t)

	uow, _ := store.BeginImmediate(ctx)
	if err := uow.Plans().Create(ctx, plan); err != nil {
		t.Fatal(err)
	}
	uow.Commit()

	plan.IsPaused = true
	plan.StateVersion++
	plan.Snapshot = &domain.Snapshot{Branch: "agentplan/snap", WorktreePath: "/wt/snap"}

	uow, _ = store.BeginImmediate(ctx)
	if err := uow.Plans().UpdateMeta(ctx, plan); err != nil {
		t.Fatalf("UpdateMeta failed: %v", err)
	}
	uow.Commit()

	uow, _ = store.Begin(ctx)
	defer uow.Rollback()
	loaded, err := uow.Plans().Get(ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.IsPaused {
		t.Error("pause flag not persisted")
	}
	if loaded.Snapshot == nil || loaded.Snapshot.Branch != "agentplan/snap" {
		t.Errorf("snapshot = %+v, want branch agentplan/snap", loaded.Snapshot)
	}
}

func TestSchemaVersionRecorded(t *testing.T) {
	store := openStore(t)
	v, err := SchemaVersion(context.Background(), store.writeDB)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != migrations[len(migrations)-1].version {
		t.Errorf("schema version = %d, want %d", v, migrations[len(migrations)-1].version)
	}
}

var _ storage.Storage = (*Store)(nil)
