package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"alertflow/internal/types"
)

// WorkflowRepository provides data access for the workflows table.
type WorkflowRepository struct {
	db DBTX
}

// NewWorkflowRepository creates a WorkflowRepository.
func NewWorkflowRepository(db DBTX) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// ListWorkflowsParams filters workflow listings.
type ListWorkflowsParams struct {
	ActiveOnly bool
	Limit      int
	Cursor     string
}

const workflowColumns = `w.id, w.organization_id, w.name, w.is_active, w.priority,
	w.flow_definition, w.escalation_policy, w.created_at, w.updated_at`

func scanWorkflow(row pgx.Row) (*types.Workflow, error) {
	var (
		wf     types.Workflow
		policy []byte
	)
	err := row.Scan(
		&wf.ID,
		&wf.OrganizationID,
		&wf.Name,
		&wf.IsActive,
		&wf.Priority,
		&wf.FlowDefinition,
		&policy,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(policy) > 0 && string(policy) != "null" {
		var p types.EscalationPolicy
		if err := json.Unmarshal(policy, &p); err != nil {
			return nil, fmt.Errorf("decode escalation_policy: %w", err)
		}
		wf.EscalationPolicy = &p
	}
	return &wf, nil
}

func escalationPolicyValue(p *types.EscalationPolicy) any {
	if p == nil {
		return nil
	}
	return *p
}

// Create inserts a workflow. The caller sets the ID.
func (r *WorkflowRepository) Create(ctx context.Context, wf *types.Workflow) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO workflows (
			id, organization_id, name, is_active, priority,
			flow_definition, escalation_policy, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))`,
		wf.ID,
		wf.OrganizationID,
		wf.Name,
		wf.IsActive,
		wf.Priority,
		wf.FlowDefinition,
		escalationPolicyValue(wf.EscalationPolicy),
		nilIfZeroTime(wf.CreatedAt),
		nilIfZeroTime(wf.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicate, "workflow already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create workflow", err)
	}
	return nil
}

// GetByID returns a workflow scoped to orgID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id, orgID string) (*types.Workflow, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+workflowColumns+`
		 FROM workflows w
		 WHERE w.id = $1 AND w.organization_id = $2`,
		id, orgID,
	)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundWorkflow, "workflow not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve workflow", err)
	}
	return wf, nil
}

// Update replaces the mutable fields of a workflow.
func (r *WorkflowRepository) Update(ctx context.Context, wf *types.Workflow) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE workflows SET
			name = $1,
			is_active = $2,
			priority = $3,
			flow_definition = $4,
			escalation_policy = $5,
			updated_at = NOW()
		 WHERE id = $6 AND organization_id = $7`,
		wf.Name,
		wf.IsActive,
		wf.Priority,
		wf.FlowDefinition,
		escalationPolicyValue(wf.EscalationPolicy),
		wf.ID,
		wf.OrganizationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkflow, "workflow not found", nil)
	}
	return nil
}

// Delete removes a workflow. Dispatches already running keep their snapshot.
func (r *WorkflowRepository) Delete(ctx context.Context, id, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM workflows WHERE id = $1 AND organization_id = $2`,
		id, orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkflow, "workflow not found", nil)
	}
	return nil
}

// ListActive returns every active workflow of an organization, highest
// priority first. Used on the event path, so it is not paginated.
func (r *WorkflowRepository) ListActive(ctx context.Context, orgID string) ([]*types.Workflow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+workflowColumns+`
		 FROM workflows w
		 WHERE w.organization_id = $1 AND w.is_active
		 ORDER BY w.priority DESC, w.created_at ASC`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active workflows", err)
	}
	defer rows.Close()

	var out []*types.Workflow
	for rows.Next() {
		wf, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan workflow row", scanErr)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating workflow rows", err)
	}
	return out, nil
}

// List returns workflows newest first with cursor pagination.
func (r *WorkflowRepository) List(ctx context.Context, orgID string, params ListWorkflowsParams) ([]*types.Workflow, types.PageInfo, error) {
	limit := types.ClampPageSize(params.Limit)

	conditions := []string{"w.organization_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if params.ActiveOnly {
		conditions = append(conditions, "w.is_active")
	}
	if params.Cursor != "" {
		cursorTime, err := parseCursor(params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, err
		}
		conditions = append(conditions, fmt.Sprintf("w.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM workflows w
		 WHERE %s
		 ORDER BY w.created_at DESC
		 LIMIT $%d`,
		workflowColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list workflows", err)
	}
	defer rows.Close()

	var results []*types.Workflow
	for rows.Next() {
		wf, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan workflow row", scanErr)
		}
		results = append(results, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating workflow rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, pageInfo, nil
}
