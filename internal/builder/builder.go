// Package builder turns a declarative PlanSpec into a validated,
// UUID-addressed DAG with computed reverse edges, roots, leaves and nested
// groups. Validation collects every distinct problem instead of stopping at
// the first one.
package builder

import (
	"sort"
	"strings"
	"time"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/pkg/id"
)

// DefaultMaxParallel applies when a spec leaves maxParallel unset.
const DefaultMaxParallel = 2

// Build constructs a Plan from a spec. On failure it returns a
// *domain.ValidationError carrying one message per distinct problem.
func Build(spec *domain.PlanSpec) (*domain.Plan, error) {
	verr := &domain.ValidationError{}
	if spec == nil {
		verr.Addf("spec is nil")
		return nil, verr
	}
	if len(spec.Jobs) == 0 {
		verr.Addf("plan has no jobs")
	}
	if spec.RepoPath == "" {
		verr.Addf("repoPath is required")
	}

	plan := &domain.Plan{
		ID:                 id.Generate(),
		Name:               spec.Name,
		Spec:               spec,
		Nodes:              make(map[string]*domain.Node, len(spec.Jobs)),
		ProducerIDToNodeID: make(map[string]string, len(spec.Jobs)),
		NodeStates:         make(map[string]*domain.NodeExecutionState, len(spec.Jobs)),
		Groups:             make(map[string]*domain.Group),
		RepoPath:           spec.RepoPath,
		BaseBranch:         spec.BaseBranch,
		TargetBranch:       spec.TargetBranch,
		WorktreeRoot:       spec.WorktreeRoot,
		MaxParallel:        spec.MaxParallel,
		StateVersion:       1,
		CreatedAt:          time.Now().UTC(),
	}
	if plan.MaxParallel <= 0 {
		plan.MaxParallel = DefaultMaxParallel
	}

	// Explicit group tree, if declared.
	addGroupTree(plan, "", spec.Groups)

	// Pass 1: assign node IDs, reject missing/duplicate producerIds,
	// auto-create group hierarchies referenced by jobs.
	for i := range spec.Jobs {
		job := &spec.Jobs[i]
		if job.ProducerID == "" {
			verr.Addf("job %d (%q) has no producerId", i, job.Name)
			continue
		}
		if _, dup := plan.ProducerIDToNodeID[job.ProducerID]; dup {
			verr.Addf("duplicate producerId %q", job.ProducerID)
			continue
		}
		node := &domain.Node{
			ID:               id.Generate(),
			ProducerID:       job.ProducerID,
			Name:             job.Name,
			Task:             job.Task,
			Prechecks:        job.Prechecks,
			Work:             job.Work,
			Postchecks:       job.Postchecks,
			Instructions:     job.Instructions,
			BaseBranch:       job.BaseBranch,
			ExpectsNoChanges: job.ExpectsNoChanges,
			AutoHeal:         job.AutoHeal,
		}
		if segments := domain.SplitGroupPath(job.Group); segments != nil {
			node.GroupID = strings.Join(segments, domain.GroupPathSeparator)
			attachToGroups(plan, segments, node.ID)
		}
		plan.Nodes[node.ID] = node
		plan.ProducerIDToNodeID[job.ProducerID] = node.ID
	}

	// Pass 2: resolve dependency producerIds to node IDs.
	for i := range spec.Jobs {
		job := &spec.Jobs[i]
		nodeID, ok := plan.ProducerIDToNodeID[job.ProducerID]
		if !ok {
			continue // Already reported in pass 1
		}
		node := plan.Nodes[nodeID]
		for _, dep := range job.Dependencies {
			depID, ok := plan.ProducerIDToNodeID[dep]
			if !ok {
				verr.Addf("job %q depends on unknown producerId %q", job.ProducerID, dep)
				continue
			}
			if depID == nodeID {
				verr.Addf("job %q depends on itself", job.ProducerID)
				continue
			}
			node.Dependencies = append(node.Dependencies, depID)
		}
	}

	// Pass 3: reverse edges, roots/leaves, cycle detection.
	for _, node := range plan.Nodes {
		for _, depID := range node.Dependencies {
			dep := plan.Nodes[depID]
			dep.Dependents = append(dep.Dependents, node.ID)
		}
	}
	for _, node := range plan.Nodes {
		if node.IsRoot() {
			plan.Roots = append(plan.Roots, node.ID)
		}
		if node.IsLeaf() {
			plan.Leaves = append(plan.Leaves, node.ID)
		}
	}
	sort.Strings(plan.Roots)
	sort.Strings(plan.Leaves)

	for _, cycle := range findCycles(plan) {
		verr.Addf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	// Independent of explicit cycle detection: a non-empty plan with no
	// entry point cannot make progress.
	if len(plan.Nodes) > 0 && len(plan.Roots) == 0 {
		verr.Addf("plan has no roots: every job depends on another job")
	}

	if !verr.Empty() {
		return nil, verr
	}

	for _, node := range plan.Nodes {
		plan.NodeStates[node.ID] = domain.NewNodeExecutionState(node.ID, !node.IsRoot())
	}
	plan.RecomputeGroupStates()
	return plan, nil
}

// BuildSingle builds a one-node plan from minimal job fields. The producerId
// is derived by slugifying the job name.
func BuildSingle(name, task, repoPath, baseBranch, targetBranch string) (*domain.Plan, error) {
	producerID := id.Slugify(name)
	if producerID == "" {
		producerID = id.GenerateShort()
	}
	return Build(&domain.PlanSpec{
		Name:         name,
		RepoPath:     repoPath,
		BaseBranch:   baseBranch,
		TargetBranch: targetBranch,
		MaxParallel:  1,
		Jobs: []domain.JobSpec{
			{ProducerID: producerID, Name: name, Task: task},
		},
	})
}

// addGroupTree registers an explicitly declared group hierarchy.
func addGroupTree(plan *domain.Plan, parentPath string, groups []domain.GroupSpec) {
	for _, g := range groups {
		segments := domain.SplitGroupPath(g.Name)
		if segments == nil {
			continue
		}
		path := strings.Join(segments, domain.GroupPathSeparator)
		if parentPath != "" {
			path = parentPath + domain.GroupPathSeparator + path
		}
		ensureGroupPath(plan, domain.SplitGroupPath(path))
		addGroupTree(plan, path, g.Groups)
	}
}

// attachToGroups ensures every ancestor group on the path exists and records
// membership, propagating the count up the hierarchy.
func attachToGroups(plan *domain.Plan, segments []string, nodeID string) {
	ensureGroupPath(plan, segments)
	full := strings.Join(segments, domain.GroupPathSeparator)
	plan.Groups[full].NodeIDs = append(plan.Groups[full].NodeIDs, nodeID)
	for i := range segments {
		ancestor := strings.Join(segments[:i+1], domain.GroupPathSeparator)
		plan.Groups[ancestor].NodeCount++
	}
}

func ensureGroupPath(plan *domain.Plan, segments []string) {
	for i := range segments {
		path := strings.Join(segments[:i+1], domain.GroupPathSeparator)
		if _, ok := plan.Groups[path]; ok {
			continue
		}
		parent := ""
		if i > 0 {
			parent = strings.Join(segments[:i], domain.GroupPathSeparator)
		}
		plan.Groups[path] = &domain.Group{
			ID:       path,
			Name:     segments[i],
			ParentID: parent,
		}
	}
}
