package builder

import (
	"errors"
	"strings"
	"testing"

	"github.com/example/agentplan/internal/domain"
)

func specWithJobs(jobs ...domain.JobSpec) *domain.PlanSpec {
	return &domain.PlanSpec{
		Name:         "test",
		RepoPath:     "/repo",
		BaseBranch:   "main",
		TargetBranch: "integration",
		Jobs:         jobs,
	}
}

func TestBuildBasic(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "do a"},
		domain.JobSpec{ProducerID: "b", Task: "do b", Dependencies: []string{"a"}},
	)
	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(plan.Nodes) != len(spec.Jobs) {
		t.Errorf("len(Nodes) = %d, want %d", len(plan.Nodes), len(spec.Jobs))
	}
	for _, node := range plan.Nodes {
		for _, dep := range node.Dependencies {
			if plan.Nodes[dep] == nil {
				t.Errorf("node %s has unresolved dependency %s", node.ProducerID, dep)
			}
		}
	}

	a := plan.NodeByProducerID("a")
	b := plan.NodeByProducerID("b")
	if a == nil || b == nil {
		t.Fatal("producerId lookup failed")
	}
	if len(plan.Roots) != 1 || plan.Roots[0] != a.ID {
		t.Errorf("Roots = %v, want [%s]", plan.Roots, a.ID)
	}
	if len(plan.Leaves) != 1 || plan.Leaves[0] != b.ID {
		t.Errorf("Leaves = %v, want [%s]", plan.Leaves, b.ID)
	}
	if got := plan.State(a.ID).Status; got != domain.StatusReady {
		t.Errorf("state(a) = %s, want READY", got)
	}
	if got := plan.State(b.ID).Status; got != domain.StatusPending {
		t.Errorf("state(b) = %s, want PENDING", got)
	}
}

func TestBuildRootLeafInvariant(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "t"},
		domain.JobSpec{ProducerID: "b", Task: "t", Dependencies: []string{"a"}},
		domain.JobSpec{ProducerID: "c", Task: "t", Dependencies: []string{"a"}},
		domain.JobSpec{ProducerID: "d", Task: "t", Dependencies: []string{"b", "c"}},
	)
	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	roots := make(map[string]bool)
	for _, r := range plan.Roots {
		roots[r] = true
	}
	leaves := make(map[string]bool)
	for _, l := range plan.Leaves {
		leaves[l] = true
	}
	for _, node := range plan.Nodes {
		if roots[node.ID] != (len(node.Dependencies) == 0) {
			t.Errorf("node %s: isRoot=%v but %d dependencies", node.ProducerID, roots[node.ID], len(node.Dependencies))
		}
		if leaves[node.ID] != (len(node.Dependents) == 0) {
			t.Errorf("node %s: isLeaf=%v but %d dependents", node.ProducerID, leaves[node.ID], len(node.Dependents))
		}
	}
	if len(plan.Roots) == 0 {
		t.Error("non-empty DAG has no roots")
	}
}

func TestBuildCycleDetection(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "t", Dependencies: []string{"c"}},
		domain.JobSpec{ProducerID: "b", Task: "t", Dependencies: []string{"a"}},
		domain.JobSpec{ProducerID: "c", Task: "t", Dependencies: []string{"b"}},
	)
	_, err := Build(spec)
	if err == nil {
		t.Fatal("Build succeeded on cyclic spec")
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}

	var cycleMsg string
	for _, p := range verr.Problems {
		if strings.Contains(p, "cycle") {
			cycleMsg = p
		}
	}
	if cycleMsg == "" {
		t.Fatalf("no cycle problem reported, got %v", verr.Problems)
	}
	for _, pid := range []string{"a", "b", "c"} {
		if !strings.Contains(cycleMsg, pid) {
			t.Errorf("cycle message %q missing producerId %q", cycleMsg, pid)
		}
	}
	// Zero-roots check runs independently of explicit cycle detection.
	foundNoRoots := false
	for _, p := range verr.Problems {
		if strings.Contains(p, "no roots") {
			foundNoRoots = true
		}
	}
	if !foundNoRoots {
		t.Errorf("expected independent no-roots problem, got %v", verr.Problems)
	}
}

func TestBuildCollectsAllProblems(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "t"},
		domain.JobSpec{ProducerID: "a", Task: "t"},                                  // Duplicate
		domain.JobSpec{Task: "t"},                                                   // Missing producerId
		domain.JobSpec{ProducerID: "b", Task: "t", Dependencies: []string{"ghost"}}, // Unresolved
	)
	_, err := Build(spec)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Problems) < 3 {
		t.Errorf("Problems = %v, want at least 3 distinct problems", verr.Problems)
	}
}

func TestBuildEmptySpec(t *testing.T) {
	_, err := Build(&domain.PlanSpec{RepoPath: "/repo"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

func TestBuildGroups(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "t", Group: "backend/api"},
		domain.JobSpec{ProducerID: "b", Task: "t", Group: "backend"},
		domain.JobSpec{ProducerID: "c", Task: "t"},
	)
	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	backend := plan.Groups["backend"]
	if backend == nil {
		t.Fatal("group backend not auto-created")
	}
	if backend.NodeCount != 2 {
		t.Errorf("backend.NodeCount = %d, want 2 (membership propagates to ancestors)", backend.NodeCount)
	}
	api := plan.Groups["backend/api"]
	if api == nil || api.ParentID != "backend" {
		t.Fatalf("backend/api group = %+v, want parent backend", api)
	}
	if api.NodeCount != 1 {
		t.Errorf("api.NodeCount = %d, want 1", api.NodeCount)
	}
	if got := plan.NodeByProducerID("a").GroupID; got != "backend/api" {
		t.Errorf("node a GroupID = %q, want backend/api", got)
	}
}

func TestBuildSingle(t *testing.T) {
	plan, err := BuildSingle("Fix login bug", "fix the login flow", "/repo", "main", "integration")
	if err != nil {
		t.Fatalf("BuildSingle failed: %v", err)
	}
	if len(plan.Nodes) != 1 {
		t.Fatalf("len(Nodes) = %d, want 1", len(plan.Nodes))
	}
	node := plan.NodeByProducerID("fix-login-bug")
	if node == nil {
		t.Fatal("expected slugified producerId fix-login-bug")
	}
	if got := plan.State(node.ID).Status; got != domain.StatusReady {
		t.Errorf("single node status = %s, want READY", got)
	}
}

func TestBuildSelfDependency(t *testing.T) {
	spec := specWithJobs(
		domain.JobSpec{ProducerID: "a", Task: "t", Dependencies: []string{"a"}},
	)
	_, err := Build(spec)
	if err == nil {
		t.Fatal("Build succeeded on self-dependent job")
	}
}
