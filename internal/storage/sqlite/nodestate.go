package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/agentplan/internal/domain"
)

type nodeStateRepo struct {
	tx *sql.Tx
}

func (r *nodeStateRepo) Put(ctx context.Context, planID string, st *domain.NodeExecutionState) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO node_states (plan_id, node_id, status, version, attempts,
			started_at, ended_at, pid, worktree_path, error, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan_id, node_id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			pid = excluded.pid,
			worktree_path = excluded.worktree_path,
			error = excluded.error,
			failure_reason = excluded.failure_reason
	`, planID, st.NodeID, int(st.Status), st.Version, st.Attempts,
		st.StartedAt, st.EndedAt, st.PID, st.WorktreePath, st.Error, st.FailureReason)
	return err
}

func (r *nodeStateRepo) Get(ctx context.Context, planID, nodeID string) (*domain.NodeExecutionState, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT node_id, status, version, attempts, started_at, ended_at, pid,
			worktree_path, error, failure_reason
		FROM node_states WHERE plan_id = ? AND node_id = ?
	`, planID, nodeID)
	return scanNodeState(row)
}

func (r *nodeStateRepo) ListByPlan(ctx context.Context, planID string) ([]*domain.NodeExecutionState, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT node_id, status, version, attempts, started_at, ended_at, pid,
			worktree_path, error, failure_reason
		FROM node_states WHERE plan_id = ?
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.NodeExecutionState
	for rows.Next() {
		st, err := scanNodeState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func scanNodeState(row rowScanner) (*domain.NodeExecutionState, error) {
	st := &domain.NodeExecutionState{}
	var status int
	var startedAt, endedAt sql.NullTime
	var worktreePath, errMsg, reason sql.NullString

	err := row.Scan(&st.NodeID, &status, &st.Version, &st.Attempts,
		&startedAt, &endedAt, &st.PID, &worktreePath, &errMsg, &reason)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Status = domain.NodeStatus(status)
	applyNullableFields(st, startedAt, endedAt, worktreePath, errMsg, reason)
	return st, nil
}

func applyNullableFields(st *domain.NodeExecutionState, startedAt, endedAt sql.NullTime, worktreePath, errMsg, reason sql.NullString) {
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		st.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		st.EndedAt = &t
	}
	st.WorktreePath = worktreePath.String
	st.Error = errMsg.String
	st.FailureReason = reason.String
}
