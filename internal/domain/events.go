package domain

import "time"

// Event is the closed union of notifications emitted by the coordinator.
// UI and API layers consume these; the core never depends on them.
type Event interface {
	EventPlanID() string
}

// PlanCreatedEvent fires after a plan is built and persisted.
type PlanCreatedEvent struct {
	PlanID string
	Name   string
	At     time.Time
}

// PlanUpdatedEvent fires on plan-level changes (pause, resume, snapshot).
type PlanUpdatedEvent struct {
	PlanID string
	At     time.Time
}

// PlanDeletedEvent fires after a plan and its resources are removed.
type PlanDeletedEvent struct {
	PlanID string
	At     time.Time
}

// NodeTransitionEvent fires on every node status transition.
type NodeTransitionEvent struct {
	PlanID  string
	NodeID  string
	From    NodeStatus
	To      NodeStatus
	Version int64
	At      time.Time
}

// PlanCompletedEvent fires exactly once per terminal aggregate outcome.
type PlanCompletedEvent struct {
	PlanID string
	Status PlanStatus
	At     time.Time
}

func (e PlanCreatedEvent) EventPlanID() string    { return e.PlanID }
func (e PlanUpdatedEvent) EventPlanID() string    { return e.PlanID }
func (e PlanDeletedEvent) EventPlanID() string    { return e.PlanID }
func (e NodeTransitionEvent) EventPlanID() string { return e.PlanID }
func (e PlanCompletedEvent) EventPlanID() string  { return e.PlanID }
