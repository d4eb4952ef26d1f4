package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"alertflow/internal/types"
)

// DispatchRepository provides data access for the dispatches table. A
// dispatch is in flight while completed_at is NULL.
type DispatchRepository struct {
	db DBTX
}

// NewDispatchRepository creates a DispatchRepository.
func NewDispatchRepository(db DBTX) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// ListDispatchesParams filters dispatch listings.
type ListDispatchesParams struct {
	OrganizationID string
	Status         types.DispatchStatus
	WorkflowID     string
	Limit          int
	Cursor         string
}

const dispatchColumns = `d.id, d.workflow_id, d.event_id, d.organization_id, d.status,
	d.escalation_state, d.escalation_step, d.event, d.abort_reason,
	d.acknowledged_by, d.created_at, d.updated_at, d.deadline_at,
	d.acknowledged_at, d.completed_at`

func scanDispatch(row pgx.Row) (*types.Dispatch, error) {
	var (
		d           types.Dispatch
		abortReason *string
		ackBy       *string
	)
	err := row.Scan(
		&d.ID,
		&d.WorkflowID,
		&d.EventID,
		&d.OrganizationID,
		&d.Status,
		&d.EscalationState,
		&d.EscalationStep,
		&d.Event,
		&abortReason,
		&ackBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DeadlineAt,
		&d.AcknowledgedAt,
		&d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.AbortReason = derefString(abortReason)
	d.AcknowledgedBy = derefString(ackBy)
	return &d, nil
}

// Create inserts a dispatch. The caller sets ID, status and deadline.
func (r *DispatchRepository) Create(ctx context.Context, d *types.Dispatch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dispatches (
			id, workflow_id, event_id, organization_id, status,
			escalation_state, escalation_step, event, deadline_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()), COALESCE($10, NOW()))`,
		d.ID,
		d.WorkflowID,
		d.EventID,
		d.OrganizationID,
		string(d.Status),
		string(d.EscalationState),
		d.EscalationStep,
		d.Event,
		d.DeadlineAt,
		nilIfZeroTime(d.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicate, "dispatch already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create dispatch", err)
	}
	return nil
}

// GetByID returns a dispatch.
func (r *DispatchRepository) GetByID(ctx context.Context, id string) (*types.Dispatch, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches d WHERE d.id = $1`,
		id,
	)
	d, err := scanDispatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDispatch, "dispatch not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve dispatch", err)
	}
	return d, nil
}

// UpdateStatus moves an in-flight dispatch to status. It never rewrites an
// acknowledged status back to executing or escalating.
func (r *DispatchRepository) UpdateStatus(ctx context.Context, id string, status types.DispatchStatus) error {
	_, err := r.db.Exec(ctx,
		`UPDATE dispatches SET
			status = CASE
				WHEN status = 'acknowledged' AND $2 IN ('executing', 'escalating') THEN status
				ELSE $2
			END,
			updated_at = NOW()
		 WHERE id = $1 AND completed_at IS NULL`,
		id, string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update dispatch status", err)
	}
	return nil
}

// UpdateEscalation persists an escalation transition. Acknowledged and
// exhausted are final and are not overwritten.
func (r *DispatchRepository) UpdateEscalation(ctx context.Context, id string, state types.EscalationState, step int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE dispatches SET
			escalation_state = $2,
			escalation_step = $3,
			updated_at = NOW()
		 WHERE id = $1 AND escalation_state NOT IN ('acknowledged', 'exhausted')`,
		id, string(state), step,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update dispatch escalation", err)
	}
	return nil
}

// Finish sets the final status. Only the first call takes effect; the
// returned bool reports whether this call finished the dispatch. An
// acknowledgment that landed first is kept over completed.
func (r *DispatchRepository) Finish(ctx context.Context, id string, status types.DispatchStatus, abortReason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatches SET
			status = CASE
				WHEN status = 'acknowledged' AND $2 = 'completed' THEN status
				ELSE $2
			END,
			abort_reason = COALESCE($3, abort_reason),
			completed_at = NOW(),
			updated_at = NOW()
		 WHERE id = $1 AND completed_at IS NULL`,
		id, string(status), nilIfEmpty(abortReason),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to finish dispatch", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAcknowledged records the first acknowledgment. While the dispatch is
// in flight and its escalation not exhausted, status and escalation state
// move to acknowledged; otherwise only acknowledged_at/by are stored.
// first is false when the dispatch had already been acknowledged, in which
// case the stored dispatch is returned unchanged.
func (r *DispatchRepository) MarkAcknowledged(ctx context.Context, id, userID string, at time.Time) (d *types.Dispatch, first bool, err error) {
	row := r.db.QueryRow(ctx,
		`UPDATE dispatches d SET
			acknowledged_at = $3,
			acknowledged_by = $2,
			status = CASE
				WHEN d.completed_at IS NULL AND d.escalation_state <> 'exhausted' THEN 'acknowledged'
				ELSE d.status
			END,
			escalation_state = CASE
				WHEN d.escalation_state IN ('armed', 'notified', 'escalated') THEN 'acknowledged'
				ELSE d.escalation_state
			END,
			updated_at = NOW()
		 WHERE d.id = $1 AND d.acknowledged_at IS NULL
		 RETURNING `+dispatchColumns,
		id, userID, at,
	)
	d, err = scanDispatch(row)
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to acknowledge dispatch", err)
	}
	// Either already acknowledged or missing.
	d, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

// List returns dispatches newest first with cursor pagination.
func (r *DispatchRepository) List(ctx context.Context, params ListDispatchesParams) ([]*types.Dispatch, types.PageInfo, error) {
	limit := types.ClampPageSize(params.Limit)

	conditions := []string{"d.organization_id = $1"}
	args := []any{params.OrganizationID}
	argIdx := 2

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", argIdx))
		args = append(args, string(params.Status))
		argIdx++
	}
	if params.WorkflowID != "" {
		conditions = append(conditions, fmt.Sprintf("d.workflow_id = $%d", argIdx))
		args = append(args, params.WorkflowID)
		argIdx++
	}
	if params.Cursor != "" {
		cursorTime, err := parseCursor(params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, err
		}
		conditions = append(conditions, fmt.Sprintf("d.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM dispatches d
		 WHERE %s
		 ORDER BY d.created_at DESC
		 LIMIT $%d`,
		dispatchColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	results, err := r.queryDispatches(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, pageInfo, nil
}

// ListStale returns in-flight dispatches whose deadline passed before now.
// These were orphaned by a crashed or restarted instance.
func (r *DispatchRepository) ListStale(ctx context.Context, now time.Time, limit int) ([]*types.Dispatch, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryDispatches(ctx,
		`SELECT `+dispatchColumns+`
		 FROM dispatches d
		 WHERE d.completed_at IS NULL AND d.deadline_at < $1
		 ORDER BY d.deadline_at
		 LIMIT $2`,
		now, limit,
	)
}

// DeleteFinishedBefore purges finished dispatches older than cutoff.
func (r *DispatchRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dispatches WHERE completed_at IS NOT NULL AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old dispatches", err)
	}
	return tag.RowsAffected(), nil
}

func (r *DispatchRepository) queryDispatches(ctx context.Context, query string, args ...any) ([]*types.Dispatch, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dispatches", err)
	}
	defer rows.Close()

	var out []*types.Dispatch
	for rows.Next() {
		d, scanErr := scanDispatch(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dispatch row", scanErr)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dispatch rows", err)
	}
	return out, nil
}
