// Package service contains the coordinator: plan lifecycle, the node state
// machine driver, the scheduler, global capacity, crash recovery and event
// fan-out. Concurrency comes from external subprocesses; the coordinator
// itself advances all state from completion callbacks under one mutex.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/agentplan/internal/builder"
	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/merge"
	"github.com/example/agentplan/internal/proc"
	"github.com/example/agentplan/internal/storage"
	"github.com/example/agentplan/internal/worktree"
)

// Config holds coordinator settings.
type Config struct {
	// GlobalMaxParallel caps running nodes across every loaded plan.
	// Zero or less means unbounded.
	GlobalMaxParallel int

	// RecoveryInterval is the cadence of the recovery pump, which re-audits
	// running processes, reconciles the store and catches missed wake-ups.
	RecoveryInterval time.Duration

	// WorktreeRoot is the default directory for per-node worktrees when a
	// plan does not specify its own.
	WorktreeRoot string
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		GlobalMaxParallel: 8,
		RecoveryInterval:  15 * time.Second,
		WorktreeRoot:      filepath.Join(os.TempDir(), "agentplan"),
	}
}

// Coordinator owns every loaded plan and is the only writer of node state.
type Coordinator struct {
	cfg       Config
	store     storage.Storage
	executor  Executor
	worktrees *worktree.Manager
	merger    *merge.Engine
	capacity  *CapacityManager
	events    *EventBroadcaster
	liveness  proc.Liveness

	mu            sync.Mutex
	plans         map[string]*domain.Plan
	completeFired map[string]bool
	// integrateLocks serializes target-branch updates per plan so two nodes
	// finishing together cannot clobber each other's merge commit.
	integrateLocks map[string]*sync.Mutex
	// supervised tracks nodes whose process this coordinator instance
	// spawned and is waiting on. Running nodes outside this set were
	// inherited from a previous run and are audited by the recovery pump.
	supervised map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(cfg Config, store storage.Storage, executor Executor,
	worktrees *worktree.Manager, merger *merge.Engine, liveness proc.Liveness) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		store:          store,
		executor:       executor,
		worktrees:      worktrees,
		merger:         merger,
		capacity:       NewCapacityManager(cfg.GlobalMaxParallel),
		events:         NewEventBroadcaster(),
		liveness:       liveness,
		plans:          make(map[string]*domain.Plan),
		completeFired:  make(map[string]bool),
		integrateLocks: make(map[string]*sync.Mutex),
		supervised:     make(map[string]bool),
		stopCh:         make(chan struct{}),
	}
}

// Events returns the broadcaster for subscribing to plan/node events.
func (c *Coordinator) Events() *EventBroadcaster {
	return c.events
}

// Capacity returns the global capacity manager.
func (c *Coordinator) Capacity() *CapacityManager {
	return c.capacity
}

// CreatePlan builds, validates and persists a plan, then starts scheduling.
func (c *Coordinator) CreatePlan(ctx context.Context, spec *domain.PlanSpec) (*domain.Plan, error) {
	plan, err := builder.Build(spec)
	if err != nil {
		return nil, err
	}

	uow, err := c.store.BeginImmediate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	if err := uow.Plans().Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	c.mu.Lock()
	c.plans[plan.ID] = plan
	c.events.Publish(domain.PlanCreatedEvent{PlanID: plan.ID, Name: plan.Name, At: time.Now().UTC()})
	c.schedulePassLocked(ctx)
	c.mu.Unlock()

	return plan, nil
}

// GetPlan returns a loaded plan.
func (c *Coordinator) GetPlan(planID string) (*domain.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	return plan, nil
}

// ListPlans returns every loaded plan.
func (c *Coordinator) ListPlans() []*domain.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	plans := make([]*domain.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		plans = append(plans, p)
	}
	return plans
}

// NodeStatus reports the current status of one node.
func (c *Coordinator) NodeStatus(planID, nodeID string) (domain.NodeStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return domain.StatusUnknown, fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	st := plan.State(nodeID)
	if st == nil {
		return domain.StatusUnknown, fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	return st.Status, nil
}

// Pause stops new dispatch for a plan. Running nodes are unaffected.
func (c *Coordinator) Pause(ctx context.Context, planID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	plan.IsPaused = true
	plan.StateVersion++
	c.persistPlanMetaLocked(ctx, plan)
	c.events.Publish(domain.PlanUpdatedEvent{PlanID: planID, At: time.Now().UTC()})
	return nil
}

// Resume re-enables dispatch for a plan.
func (c *Coordinator) Resume(ctx context.Context, planID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	plan.IsPaused = false
	plan.StateVersion++
	c.persistPlanMetaLocked(ctx, plan)
	c.events.Publish(domain.PlanUpdatedEvent{PlanID: planID, At: time.Now().UTC()})
	c.schedulePassLocked(ctx)
	return nil
}

// CancelNode cancels one node. If it is running, the executor is told to
// terminate the underlying process before the transition completes.
func (c *Coordinator) CancelNode(ctx context.Context, planID, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	st := plan.State(nodeID)
	if st == nil {
		return fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	if err := c.cancelNodeLocked(ctx, plan, st); err != nil {
		return err
	}
	c.checkPlanCompleteLocked(ctx, plan)
	c.schedulePassLocked(ctx)
	return nil
}

// cancelNodeLocked cancels a single non-terminal node.
func (c *Coordinator) cancelNodeLocked(ctx context.Context, plan *domain.Plan, st *domain.NodeExecutionState) error {
	if st.Status.IsTerminal() {
		return fmt.Errorf("%w: node %s is already %s", domain.ErrInvalidState, st.NodeID, st.Status)
	}
	if st.Status == domain.StatusRunning {
		if err := c.executor.Cancel(plan.ID, st.NodeID); err != nil {
			log.Printf("coordinator: cancel of node %s did not reach executor: %v", st.NodeID, err)
		}
	}
	if err := c.transitionLocked(ctx, plan, st, func() error {
		return st.MarkEnded(domain.StatusCanceled, "", "")
	}); err != nil {
		return err
	}
	delete(c.supervised, nodeKey(plan.ID, st.NodeID))
	c.blockDownstreamLocked(ctx, plan, plan.Nodes[st.NodeID])
	return nil
}

// CancelPlan cancels every non-terminal node of a plan.
func (c *Coordinator) CancelPlan(ctx context.Context, planID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	c.cancelPlanLocked(ctx, plan)
	c.checkPlanCompleteLocked(ctx, plan)
	return nil
}

func (c *Coordinator) cancelPlanLocked(ctx context.Context, plan *domain.Plan) {
	for _, st := range plan.NodeStates {
		if st.Status.IsTerminal() {
			continue
		}
		if err := c.cancelNodeLocked(ctx, plan, st); err != nil {
			log.Printf("coordinator: cancel of node %s failed: %v", st.NodeID, err)
		}
	}
}

// RetryNode moves a failed or canceled node back to pending and re-evaluates
// downstream nodes that were blocked by it.
func (c *Coordinator) RetryNode(ctx context.Context, planID, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	st := plan.State(nodeID)
	if st == nil {
		return fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	return c.retryNodeLocked(ctx, plan, st)
}

func (c *Coordinator) retryNodeLocked(ctx context.Context, plan *domain.Plan, st *domain.NodeExecutionState) error {
	if err := c.transitionLocked(ctx, plan, st, st.ResetForRetry); err != nil {
		return err
	}
	node := plan.Nodes[st.NodeID]
	if c.allDepsSucceededLocked(plan, node) {
		if err := c.transitionLocked(ctx, plan, st, func() error {
			return st.SetStatus(domain.StatusReady)
		}); err != nil {
			return err
		}
	}
	c.unblockDownstreamLocked(ctx, plan, node)
	plan.EndedAt = nil
	c.persistPlanMetaLocked(ctx, plan)
	c.checkPlanCompleteLocked(ctx, plan)
	c.schedulePassLocked(ctx)
	return nil
}

// DeletePlan cancels a plan, tears down its worktrees and branches, removes
// its persisted state and unloads it. Cleanup failures are logged and
// swallowed: deletion always completes.
func (c *Coordinator) DeletePlan(ctx context.Context, planID string) error {
	c.mu.Lock()
	plan, ok := c.plans[planID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, planID)
	}
	c.cancelPlanLocked(ctx, plan)
	c.mu.Unlock()

	cleanup := &domain.CleanupError{}
	for _, st := range plan.NodeStates {
		if st.WorktreePath != "" {
			c.worktrees.RemoveSafe(ctx, plan.RepoPath, st.WorktreePath)
		}
	}
	if plan.Snapshot != nil {
		if plan.Snapshot.WorktreePath != "" {
			c.worktrees.RemoveSafe(ctx, plan.RepoPath, plan.Snapshot.WorktreePath)
		}
		if plan.Snapshot.Branch != "" {
			cleanup.Append(c.merger.DeleteRef(ctx, plan.RepoPath, "refs/heads/"+plan.Snapshot.Branch))
		}
	}

	uow, err := c.store.BeginImmediate(ctx)
	if err != nil {
		cleanup.Append(err)
	} else {
		if err := uow.Plans().Delete(ctx, planID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			cleanup.Append(err)
		}
		if err := uow.Commit(); err != nil {
			cleanup.Append(err)
		}
	}
	if !cleanup.Empty() {
		log.Printf("coordinator: plan %s deleted with cleanup errors: %v", planID, cleanup)
	}

	c.mu.Lock()
	delete(c.plans, planID)
	delete(c.completeFired, planID)
	delete(c.integrateLocks, planID)
	c.events.Publish(domain.PlanDeletedEvent{PlanID: planID, At: time.Now().UTC()})
	c.mu.Unlock()
	return nil
}

// transitionLocked applies one state mutation through the guarded setter,
// keeps capacity accounting consistent, persists the new state and emits the
// transition event. apply must perform the status change itself (SetStatus,
// MarkStarted, MarkEnded, ResetForRetry).
func (c *Coordinator) transitionLocked(ctx context.Context, plan *domain.Plan, st *domain.NodeExecutionState, apply func() error) error {
	from := st.Status
	if err := apply(); err != nil {
		return err
	}
	if from.IsOccupying() && !st.Status.IsOccupying() {
		c.capacity.Release()
	}
	plan.StateVersion++
	c.persistNodeStateLocked(ctx, plan, st)
	c.events.Publish(domain.NodeTransitionEvent{
		PlanID:  plan.ID,
		NodeID:  st.NodeID,
		From:    from,
		To:      st.Status,
		Version: st.Version,
		At:      time.Now().UTC(),
	})
	return nil
}

// checkPlanCompleteLocked fires planComplete exactly once per terminal
// aggregate outcome. A retry that takes the plan out of a terminal state
// re-arms the event.
func (c *Coordinator) checkPlanCompleteLocked(ctx context.Context, plan *domain.Plan) {
	status := plan.AggregateStatus()
	if !status.IsTerminal() {
		delete(c.completeFired, plan.ID)
		return
	}
	if c.completeFired[plan.ID] {
		return
	}
	c.completeFired[plan.ID] = true
	now := time.Now().UTC()
	plan.EndedAt = &now
	c.persistPlanMetaLocked(ctx, plan)
	c.events.Publish(domain.PlanCompletedEvent{PlanID: plan.ID, Status: status, At: now})
	log.Printf("coordinator: plan %s completed: %s", plan.ID, status)
}

func (c *Coordinator) persistNodeStateLocked(ctx context.Context, plan *domain.Plan, st *domain.NodeExecutionState) {
	uow, err := c.store.BeginImmediate(ctx)
	if err != nil {
		log.Printf("coordinator: failed to persist node %s: %v", st.NodeID, err)
		return
	}
	defer uow.Rollback()
	if err := uow.NodeStates().Put(ctx, plan.ID, st); err != nil {
		log.Printf("coordinator: failed to persist node %s: %v", st.NodeID, err)
		return
	}
	if err := uow.Commit(); err != nil {
		log.Printf("coordinator: failed to commit node %s: %v", st.NodeID, err)
	}
}

func (c *Coordinator) persistPlanMetaLocked(ctx context.Context, plan *domain.Plan) {
	uow, err := c.store.BeginImmediate(ctx)
	if err != nil {
		log.Printf("coordinator: failed to persist plan %s: %v", plan.ID, err)
		return
	}
	defer uow.Rollback()
	if err := uow.Plans().UpdateMeta(ctx, plan); err != nil {
		log.Printf("coordinator: failed to persist plan %s: %v", plan.ID, err)
		return
	}
	if err := uow.Commit(); err != nil {
		log.Printf("coordinator: failed to commit plan %s: %v", plan.ID, err)
	}
}

func (c *Coordinator) integrationLock(planID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.integrateLocks[planID]
	if !ok {
		lock = &sync.Mutex{}
		c.integrateLocks[planID] = lock
	}
	return lock
}

func nodeKey(planID, nodeID string) string {
	return planID + "/" + nodeID
}
