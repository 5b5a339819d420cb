package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/merge"
)

// schedulePassLocked dispatches ready nodes. Constraints apply in order: a
// paused plan dispatches nothing, then the plan's own maxParallel, then the
// global capacity. Scheduled nodes already occupy their plan slot. Which
// ready node goes first is not specified and follows map iteration order.
func (c *Coordinator) schedulePassLocked(ctx context.Context) {
	for _, plan := range c.plans {
		if plan.IsPaused {
			continue
		}
		slots := plan.MaxParallel - plan.OccupiedSlots()
		for nodeID, st := range plan.NodeStates {
			if slots <= 0 {
				break
			}
			if st.Status != domain.StatusReady {
				continue
			}
			if !c.capacity.TryAcquire() {
				return
			}
			if err := c.transitionLocked(ctx, plan, st, func() error {
				return st.SetStatus(domain.StatusScheduled)
			}); err != nil {
				c.capacity.Release()
				log.Printf("coordinator: failed to schedule node %s: %v", nodeID, err)
				continue
			}
			slots--
			node := plan.Nodes[nodeID]
			c.wg.Add(1)
			go c.dispatch(context.WithoutCancel(ctx), plan, node)
		}
	}
}

// dispatch prepares the worktree, starts the executor and waits for the
// outcome. It runs outside the coordinator lock; all state changes go back
// through locked transitions.
func (c *Coordinator) dispatch(ctx context.Context, plan *domain.Plan, node *domain.Node) {
	defer c.wg.Done()

	baseSHA, err := c.resolveBase(ctx, plan, node)
	if err != nil {
		c.failDispatch(ctx, plan, node, err)
		return
	}

	wtPath := c.worktreePathFor(plan, node)
	if _, _, err := c.worktrees.CreateOrReuseDetached(ctx, plan.RepoPath, wtPath, baseSHA); err != nil {
		c.failDispatch(ctx, plan, node, err)
		return
	}
	if err := c.worktrees.LinkSubmodules(ctx, plan.RepoPath, wtPath); err != nil {
		log.Printf("coordinator: submodule setup for node %s: %v", node.ID, err)
	}

	job, err := c.executor.Start(ctx, &ExecRequest{
		PlanID:       plan.ID,
		Node:         node,
		RepoPath:     plan.RepoPath,
		WorktreePath: wtPath,
	})
	if err != nil {
		c.failDispatch(ctx, plan, node, err)
		return
	}

	c.mu.Lock()
	st := plan.State(node.ID)
	if err := c.transitionLocked(ctx, plan, st, func() error {
		return st.MarkStarted(job.PID, wtPath)
	}); err != nil {
		// Canceled while the process was being spawned. The cancel path
		// already settled the state; just terminate and drain.
		c.mu.Unlock()
		if cerr := c.executor.Cancel(plan.ID, node.ID); cerr != nil {
			log.Printf("coordinator: failed to stop orphaned job %s: %v", node.ID, cerr)
		}
		<-job.Done
		return
	}
	c.supervised[nodeKey(plan.ID, node.ID)] = true
	c.mu.Unlock()

	outcome := <-job.Done
	c.onExecDone(ctx, plan, node, wtPath, outcome)
}

// resolveBase picks the commit a node's worktree starts from: the node's own
// baseBranch, else the plan's target branch when it already exists (so later
// nodes build on integrated work), else the plan's base branch.
func (c *Coordinator) resolveBase(ctx context.Context, plan *domain.Plan, node *domain.Node) (string, error) {
	if node.BaseBranch != "" {
		return c.merger.ResolveRef(ctx, plan.RepoPath, node.BaseBranch)
	}
	if plan.TargetBranch != "" {
		if sha, err := c.merger.ResolveRef(ctx, plan.RepoPath, plan.TargetBranch); err == nil {
			return sha, nil
		}
	}
	return c.merger.ResolveRef(ctx, plan.RepoPath, plan.BaseBranch)
}

func (c *Coordinator) worktreePathFor(plan *domain.Plan, node *domain.Node) string {
	root := plan.WorktreeRoot
	if root == "" {
		root = c.cfg.WorktreeRoot
	}
	short := plan.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(root, short, node.ProducerID)
}

// failDispatch records a pre-start failure: the node never ran, so it goes
// straight from scheduled to failed.
func (c *Coordinator) failDispatch(ctx context.Context, plan *domain.Plan, node *domain.Node, cause error) {
	log.Printf("coordinator: dispatch of node %s failed: %v", node.ID, cause)
	c.mu.Lock()
	defer c.mu.Unlock()
	st := plan.State(node.ID)
	if st.Status != domain.StatusScheduled {
		return
	}
	if err := c.transitionLocked(ctx, plan, st, func() error {
		return st.MarkEnded(domain.StatusFailed, cause.Error(), domain.FailureDispatch)
	}); err != nil {
		log.Printf("coordinator: failed to record dispatch failure for node %s: %v", node.ID, err)
		return
	}
	c.blockDownstreamLocked(ctx, plan, node)
	c.checkPlanCompleteLocked(ctx, plan)
	c.schedulePassLocked(ctx)
}

// onExecDone settles a node after its external work finished. Successful work
// is integrated into the plan's target branch before the node is marked
// succeeded; a conflicted integration fails the node instead.
func (c *Coordinator) onExecDone(ctx context.Context, plan *domain.Plan, node *domain.Node, wtPath string, outcome ExecOutcome) {
	var integrationErr error
	if outcome.Success && !outcome.Canceled {
		integrationErr = c.integrate(ctx, plan, node, wtPath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := plan.State(node.ID)
	delete(c.supervised, nodeKey(plan.ID, node.ID))
	if st.Status != domain.StatusRunning {
		// Canceled out from under us; that path owns the transition.
		return
	}

	switch {
	case outcome.Canceled:
		if err := c.transitionLocked(ctx, plan, st, func() error {
			return st.MarkEnded(domain.StatusCanceled, outcome.Error, "")
		}); err != nil {
			log.Printf("coordinator: failed to settle node %s: %v", node.ID, err)
		}
		c.blockDownstreamLocked(ctx, plan, node)

	case !outcome.Success:
		c.failNodeLocked(ctx, plan, node, st, outcome.Error, outcome.FailureReason)

	case integrationErr != nil:
		reason := domain.FailureError
		var conflict *merge.ConflictError
		if errors.As(integrationErr, &conflict) {
			reason = domain.FailureMergeConflict
		}
		c.failNodeLocked(ctx, plan, node, st, integrationErr.Error(), reason)

	default:
		if err := c.transitionLocked(ctx, plan, st, func() error {
			return st.MarkEnded(domain.StatusSucceeded, "", "")
		}); err != nil {
			log.Printf("coordinator: failed to settle node %s: %v", node.ID, err)
		}
		c.promoteDependentsLocked(ctx, plan, node)
	}

	c.checkPlanCompleteLocked(ctx, plan)
	c.schedulePassLocked(ctx)
}

// failNodeLocked marks a running node failed, blocks its downstream and, for
// self-healing nodes on their first failure, immediately queues a retry.
func (c *Coordinator) failNodeLocked(ctx context.Context, plan *domain.Plan, node *domain.Node, st *domain.NodeExecutionState, errMsg, reason string) {
	if reason == "" {
		reason = domain.FailureError
	}
	if err := c.transitionLocked(ctx, plan, st, func() error {
		return st.MarkEnded(domain.StatusFailed, errMsg, reason)
	}); err != nil {
		log.Printf("coordinator: failed to settle node %s: %v", node.ID, err)
		return
	}
	c.blockDownstreamLocked(ctx, plan, node)
	if node.AutoHeal && st.Attempts <= 1 {
		log.Printf("coordinator: node %s failed, retrying once: %s", node.ID, errMsg)
		if err := c.retryNodeLocked(ctx, plan, st); err != nil {
			log.Printf("coordinator: auto retry of node %s failed: %v", node.ID, err)
		}
	}
}

// integrate folds the worktree's HEAD into the plan's target branch. The
// primary path merges at the object-database level; if the local git lacks
// that support, a short-lived snapshot worktree performs a checkout merge
// instead. A plan without a target branch skips integration entirely.
func (c *Coordinator) integrate(ctx context.Context, plan *domain.Plan, node *domain.Node, wtPath string) error {
	if plan.TargetBranch == "" {
		return nil
	}
	lock := c.integrationLock(plan.ID)
	lock.Lock()
	defer lock.Unlock()

	srcSHA, err := c.merger.ResolveRef(ctx, wtPath, "HEAD")
	if err != nil {
		return fmt.Errorf("failed to read result of node %s: %w", node.ID, err)
	}
	targetRef := "refs/heads/" + plan.TargetBranch

	targetSHA, err := c.merger.ResolveRef(ctx, plan.RepoPath, plan.TargetBranch)
	if err != nil {
		// First integration creates the target branch.
		return c.merger.UpdateRef(ctx, plan.RepoPath, targetRef, srcSHA)
	}

	res, err := c.merger.MergeWithoutCheckout(ctx, plan.RepoPath, targetSHA, srcSHA)
	if errors.Is(err, domain.ErrUnsupportedGitVersion) {
		return c.integrateCheckout(ctx, plan, node, targetSHA, srcSHA)
	}
	if err != nil {
		return err
	}
	if res.HasConflicts {
		return &merge.ConflictError{Files: res.ConflictFiles}
	}

	msg := fmt.Sprintf("integrate %s", node.Name)
	commitSHA, err := c.merger.CommitTree(ctx, plan.RepoPath, res.TreeSHA, []string{targetSHA, srcSHA}, msg)
	if err != nil {
		return err
	}
	return c.merger.UpdateRef(ctx, plan.RepoPath, targetRef, commitSHA)
}

// integrateCheckout is the fallback integration for old git: merge inside a
// transient worktree on the target branch. The worktree is recorded in the
// plan snapshot while it exists so deletion and recovery can clean it up.
func (c *Coordinator) integrateCheckout(ctx context.Context, plan *domain.Plan, node *domain.Node, targetSHA, srcSHA string) error {
	short := plan.ID
	if len(short) > 8 {
		short = short[:8]
	}
	root := plan.WorktreeRoot
	if root == "" {
		root = c.cfg.WorktreeRoot
	}
	snapPath := filepath.Join(root, short, "integration")

	c.mu.Lock()
	plan.Snapshot = &domain.Snapshot{Branch: plan.TargetBranch, WorktreePath: snapPath}
	c.persistPlanMetaLocked(ctx, plan)
	c.mu.Unlock()
	defer func() {
		c.worktrees.RemoveSafe(ctx, plan.RepoPath, snapPath)
		c.mu.Lock()
		plan.Snapshot = nil
		c.persistPlanMetaLocked(ctx, plan)
		c.mu.Unlock()
	}()

	if err := c.worktrees.AddBranch(ctx, plan.RepoPath, snapPath, plan.TargetBranch, targetSHA); err != nil {
		return err
	}
	res, err := c.merger.MergeInWorktree(ctx, snapPath, srcSHA, merge.ModeDefault)
	if err != nil {
		return err
	}
	if res.HasConflicts {
		return &merge.ConflictError{Files: res.ConflictFiles}
	}
	return nil
}
