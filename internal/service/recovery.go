package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/example/agentplan/internal/domain"
)

// Load brings every persisted plan into memory without auditing or
// scheduling anything. One-shot operations (deletion, inspection) use this;
// a coordinator that will actually run work calls LoadAndRecover.
func (c *Coordinator) Load(ctx context.Context) error {
	uow, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	plans, err := uow.Plans().List(ctx)
	uow.Rollback()
	if err != nil {
		return fmt.Errorf("failed to load plans: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, plan := range plans {
		c.plans[plan.ID] = plan
		if plan.EndedAt != nil && plan.AggregateStatus().IsTerminal() {
			c.completeFired[plan.ID] = true
		}
		// Inherited occupying nodes hold global slots from the start, so the
		// ceiling stays honest and the release on settling is balanced. Dead
		// ones give their slot back when the audit fails them.
		for _, st := range plan.NodeStates {
			if st.Status.IsOccupying() {
				c.capacity.Occupy()
			}
		}
		log.Printf("coordinator: loaded plan %s (%s)", plan.ID, plan.Name)
	}
	return nil
}

// LoadAndRecover loads every persisted plan and audits nodes that were
// recorded as scheduled or running against the live process table. A node
// whose process is gone, or that never recorded a pid, is forcibly failed so
// no plan reports work as running forever after a host crash.
func (c *Coordinator) LoadAndRecover(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditRunningLocked(ctx)
	c.schedulePassLocked(ctx)
	return nil
}

// auditRunningLocked fails any occupying node whose process this coordinator
// is not supervising and whose pid is dead or was never recorded. A live pid
// from a previous run is left alone and re-checked on the next pass.
func (c *Coordinator) auditRunningLocked(ctx context.Context) {
	for _, plan := range c.plans {
		changed := false
		for nodeID, st := range plan.NodeStates {
			if !st.Status.IsOccupying() {
				continue
			}
			if c.supervised[nodeKey(plan.ID, nodeID)] {
				continue
			}
			if st.PID > 0 && c.liveness.IsAlive(st.PID) {
				continue
			}
			log.Printf("coordinator: node %s of plan %s has no live process (pid %d), marking failed",
				nodeID, plan.ID, st.PID)
			if err := c.transitionLocked(ctx, plan, st, func() error {
				return st.MarkEnded(domain.StatusFailed, "process died while coordinator was down", domain.FailureCrashed)
			}); err != nil {
				log.Printf("coordinator: failed to settle crashed node %s: %v", nodeID, err)
				continue
			}
			c.blockDownstreamLocked(ctx, plan, plan.Nodes[nodeID])
			changed = true
		}
		if changed {
			c.checkPlanCompleteLocked(ctx, plan)
		}
	}
}

// Run starts the recovery pump: a ticker that re-audits inherited running
// nodes, reconciles against out-of-band store changes and retries dispatch.
// It returns immediately; Stop shuts the pump down.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.cfg.RecoveryInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.ReconcileStore(ctx)
				c.mu.Lock()
				c.auditRunningLocked(ctx)
				c.schedulePassLocked(ctx)
				c.mu.Unlock()
			}
		}
	}()
}

// Stop shuts down the pump and waits for in-flight dispatch goroutines.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// ReconcileStore detects plans whose persisted state disappeared out of band
// (another process or a manual deletion) and unloads them, canceling any
// still-running work.
func (c *Coordinator) ReconcileStore(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	// Deleting the database file itself deletes every persisted plan. Open
	// sqlite handles can keep answering from the unlinked inode, and a fresh
	// handle errors with "no such table", so the file check must come first.
	_, statErr := os.Stat(c.store.Path())
	storeGone := os.IsNotExist(statErr)
	if storeGone {
		log.Printf("coordinator: store file %s is gone, unloading all plans", c.store.Path())
	}

	for _, id := range ids {
		exists := false
		if !storeGone {
			uow, err := c.store.Begin(ctx)
			if err != nil {
				log.Printf("coordinator: reconcile failed: %v", err)
				return
			}
			exists, err = uow.Plans().Exists(ctx, id)
			uow.Rollback()
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Printf("coordinator: reconcile of plan %s failed: %v", id, err)
				continue
			}
		}
		if exists {
			continue
		}
		log.Printf("coordinator: plan %s was deleted out of band, unloading", id)
		c.mu.Lock()
		if plan, ok := c.plans[id]; ok {
			c.cancelPlanLocked(ctx, plan)
			delete(c.plans, id)
			delete(c.completeFired, id)
			delete(c.integrateLocks, id)
			c.events.Publish(domain.PlanDeletedEvent{PlanID: id, At: time.Now().UTC()})
		}
		c.mu.Unlock()
	}
}
