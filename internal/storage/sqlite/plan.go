package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/agentplan/internal/domain"
)

type planRepo struct {
	tx *sql.Tx
}

// persistedGraph is the serialized form of the immutable, built DAG.
// ProducerIDToNodeID is rebuilt from the nodes on load.
type persistedGraph struct {
	Nodes  []*domain.Node  `json:"nodes"`
	Roots  []string        `json:"roots"`
	Leaves []string        `json:"leaves"`
	Groups []*domain.Group `json:"groups,omitempty"`
}

func (r *planRepo) Create(ctx context.Context, plan *domain.Plan) error {
	specJSON, err := json.Marshal(plan.Spec)
	if err != nil {
		return err
	}
	graphJSON, err := marshalGraph(plan)
	if err != nil {
		return err
	}
	snapshotJSON, err := marshalSnapshot(plan.Snapshot)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO plans (id, name, spec_json, graph_json, repo_path, base_branch,
			target_branch, worktree_root, max_parallel, is_paused, state_version,
			snapshot_json, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.Name, string(specJSON), string(graphJSON), plan.RepoPath,
		plan.BaseBranch, plan.TargetBranch, plan.WorktreeRoot, plan.MaxParallel,
		plan.IsPaused, plan.StateVersion, snapshotJSON, plan.CreatedAt, plan.EndedAt)
	if err != nil {
		return err
	}

	states := &nodeStateRepo{tx: r.tx}
	for _, st := range plan.NodeStates {
		if err := states.Put(ctx, plan.ID, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *planRepo) Get(ctx context.Context, id string) (*domain.Plan, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, name, spec_json, graph_json, repo_path, base_branch,
			target_branch, worktree_root, max_parallel, is_paused, state_version,
			snapshot_json, created_at, ended_at
		FROM plans WHERE id = ?
	`, id)

	plan, err := scanPlan(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadNodeStates(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *planRepo) List(ctx context.Context) ([]*domain.Plan, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, spec_json, graph_json, repo_path, base_branch,
			target_branch, worktree_root, max_parallel, is_paused, state_version,
			snapshot_json, created_at, ended_at
		FROM plans ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, plan := range plans {
		if err := r.loadNodeStates(ctx, plan); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (r *planRepo) UpdateMeta(ctx context.Context, plan *domain.Plan) error {
	snapshotJSON, err := marshalSnapshot(plan.Snapshot)
	if err != nil {
		return err
	}
	result, err := r.tx.ExecContext(ctx, `
		UPDATE plans
		SET is_paused = ?, state_version = ?, snapshot_json = ?, ended_at = ?
		WHERE id = ?
	`, plan.IsPaused, plan.StateVersion, snapshotJSON, plan.EndedAt, plan.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *planRepo) Delete(ctx context.Context, id string) error {
	result, err := r.tx.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *planRepo) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.tx.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *planRepo) loadNodeStates(ctx context.Context, plan *domain.Plan) error {
	states := &nodeStateRepo{tx: r.tx}
	list, err := states.ListByPlan(ctx, plan.ID)
	if err != nil {
		return err
	}
	plan.NodeStates = make(map[string]*domain.NodeExecutionState, len(list))
	for _, st := range list {
		plan.NodeStates[st.NodeID] = st
	}
	plan.RecomputeGroupStates()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	plan := &domain.Plan{}
	var specJSON, graphJSON string
	var snapshotJSON, baseBranch, targetBranch, worktreeRoot sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&plan.ID, &plan.Name, &specJSON, &graphJSON, &plan.RepoPath,
		&baseBranch, &targetBranch, &worktreeRoot, &plan.MaxParallel,
		&plan.IsPaused, &plan.StateVersion, &snapshotJSON, &plan.CreatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	plan.BaseBranch = baseBranch.String
	plan.TargetBranch = targetBranch.String
	plan.WorktreeRoot = worktreeRoot.String
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		plan.EndedAt = &t
	}

	plan.Spec = &domain.PlanSpec{}
	if err := json.Unmarshal([]byte(specJSON), plan.Spec); err != nil {
		return nil, err
	}
	if err := unmarshalGraph(plan, graphJSON); err != nil {
		return nil, err
	}
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		plan.Snapshot = &domain.Snapshot{}
		if err := json.Unmarshal([]byte(snapshotJSON.String), plan.Snapshot); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func marshalGraph(plan *domain.Plan) ([]byte, error) {
	g := persistedGraph{
		Roots:  plan.Roots,
		Leaves: plan.Leaves,
	}
	for _, n := range plan.Nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, grp := range plan.Groups {
		g.Groups = append(g.Groups, grp)
	}
	return json.Marshal(g)
}

func unmarshalGraph(plan *domain.Plan, graphJSON string) error {
	g := persistedGraph{}
	if err := json.Unmarshal([]byte(graphJSON), &g); err != nil {
		return err
	}
	plan.Nodes = make(map[string]*domain.Node, len(g.Nodes))
	plan.ProducerIDToNodeID = make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		plan.Nodes[n.ID] = n
		plan.ProducerIDToNodeID[n.ProducerID] = n.ID
	}
	plan.Roots = g.Roots
	plan.Leaves = g.Leaves
	plan.Groups = make(map[string]*domain.Group, len(g.Groups))
	for _, grp := range g.Groups {
		plan.Groups[grp.ID] = grp
	}
	return nil
}

func marshalSnapshot(s *domain.Snapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
