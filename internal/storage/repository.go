// Package storage defines the persistence boundary. Plan and node state is
// written on every significant transition so an unexpected termination loses
// at most the in-flight mutation; startup recovery reconciles the rest.
package storage

import (
	"context"

	"github.com/example/agentplan/internal/domain"
)

// PlanRepository provides access to persisted plans (spec + built graph +
// plan-level runtime fields). Node execution states live in their own
// repository and cascade on plan deletion.
type PlanRepository interface {
	// Create persists a freshly built plan with all its node states.
	Create(ctx context.Context, plan *domain.Plan) error

	// Get loads a plan, including node states.
	Get(ctx context.Context, id string) (*domain.Plan, error)

	// List loads every persisted plan.
	List(ctx context.Context) ([]*domain.Plan, error)

	// UpdateMeta persists the plan-level runtime fields (pause flag, state
	// version, snapshot, end timestamp).
	UpdateMeta(ctx context.Context, plan *domain.Plan) error

	// Delete removes a plan and, via cascade, its node states.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a plan record is present, without loading it.
	// Recovery uses this to detect out-of-band deletion.
	Exists(ctx context.Context, id string) (bool, error)
}

// NodeStateRepository provides access to per-node execution state.
type NodeStateRepository interface {
	// Put upserts one node's execution state.
	Put(ctx context.Context, planID string, st *domain.NodeExecutionState) error

	// Get loads one node's execution state.
	Get(ctx context.Context, planID, nodeID string) (*domain.NodeExecutionState, error)

	// ListByPlan loads all node states of a plan.
	ListByPlan(ctx context.Context, planID string) ([]*domain.NodeExecutionState, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	Plans() PlanRepository
	NodeStates() NodeStateRepository

	Commit() error
	Rollback() error
}

// Storage is the main entry point for persistence.
type Storage interface {
	// Begin starts a read transaction.
	Begin(ctx context.Context) (UnitOfWork, error)

	// BeginImmediate starts a write transaction that takes the write lock up
	// front, avoiding upgrade deadlocks under concurrent writers.
	BeginImmediate(ctx context.Context) (UnitOfWork, error)

	// Migrate brings the schema up to the current version.
	Migrate(ctx context.Context) error

	// Dir returns the directory holding the durable state, for the
	// out-of-band deletion watcher.
	Dir() string

	// Path returns the database file itself, so recovery can distinguish
	// "plan row gone" from "whole store file gone".
	Path() string

	Close() error
}
