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

// NotificationRepository provides data access for the alert_notifications
// audit log. Rows are unique on (dispatch_id, source, channel_id, recipient)
// and are never deleted except by retention.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository.
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `n.id, n.dispatch_id, n.organization_id, n.notification_type,
	n.channel_id, n.recipient, n.source, n.status, n.severity, n.title,
	n.description, n.delivery_error, n.attempt_count, n.created_date, n.updated_at`

func scanNotification(row pgx.Row) (*types.AlertNotification, error) {
	var (
		n             types.AlertNotification
		dispatchID    *string
		channelID     *string
		deliveryError *string
	)
	err := row.Scan(
		&n.ID,
		&dispatchID,
		&n.OrganizationID,
		&n.NotificationType,
		&channelID,
		&n.Recipient,
		&n.Source,
		&n.Status,
		&n.Severity,
		&n.Title,
		&n.Description,
		&deliveryError,
		&n.AttemptCount,
		&n.CreatedDate,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.DispatchID = derefString(dispatchID)
	n.ChannelID = derefString(channelID)
	n.DeliveryError = derefString(deliveryError)
	return &n, nil
}

const insertNotification = `INSERT INTO alert_notifications (
		id, dispatch_id, organization_id, notification_type, channel_id,
		recipient, source, status, severity, title, description,
		delivery_error, attempt_count, created_date, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		COALESCE($14, NOW()), COALESCE($14, NOW()))
	ON CONFLICT (dispatch_id, source, channel_id, recipient) DO NOTHING`

func insertArgs(n *types.AlertNotification) []any {
	return []any{
		n.ID,
		nilIfEmpty(n.DispatchID),
		n.OrganizationID,
		n.NotificationType,
		n.ChannelID,
		n.Recipient,
		n.Source,
		string(n.Status),
		string(n.Severity),
		n.Title,
		n.Description,
		nilIfEmpty(n.DeliveryError),
		n.AttemptCount,
		nilIfZeroTime(n.CreatedDate),
	}
}

// InsertPending inserts n as pending. When a row for the same key exists the
// stored row is returned with created=false.
func (r *NotificationRepository) InsertPending(ctx context.Context, n *types.AlertNotification) (*types.AlertNotification, bool, error) {
	n.Status = types.NotificationPending
	tag, err := r.db.Exec(ctx, insertNotification, insertArgs(n)...)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification", err)
	}
	if tag.RowsAffected() > 0 {
		return n, true, nil
	}

	row := r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+`
		 FROM alert_notifications n
		 WHERE n.dispatch_id = $1 AND n.source = $2 AND n.channel_id = $3 AND n.recipient = $4`,
		n.DispatchID, n.Source, n.ChannelID, n.Recipient,
	)
	existing, err := scanNotification(row)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to load existing notification", err)
	}
	return existing, false, nil
}

// RecordAttempt stores the attempt counter of a pending row.
func (r *NotificationRepository) RecordAttempt(ctx context.Context, id string, attempt int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE alert_notifications SET attempt_count = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, attempt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery attempt", err)
	}
	return nil
}

// Finalize moves a pending row to a terminal status. Terminal rows are left
// untouched.
func (r *NotificationRepository) Finalize(ctx context.Context, id string, status types.NotificationStatus, deliveryError string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE alert_notifications SET status = $2, delivery_error = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), nilIfEmpty(deliveryError),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finalize notification", err)
	}
	return nil
}

// InsertFinal writes a row already in a terminal status. Duplicates on the
// key are ignored.
func (r *NotificationRepository) InsertFinal(ctx context.Context, n *types.AlertNotification) (bool, error) {
	tag, err := r.db.Exec(ctx, insertNotification, insertArgs(n)...)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID returns one audit row scoped to orgID.
func (r *NotificationRepository) GetByID(ctx context.Context, id, orgID string) (*types.AlertNotification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+`
		 FROM alert_notifications n
		 WHERE n.id = $1 AND n.organization_id = $2`,
		id, orgID,
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve notification", err)
	}
	return n, nil
}

// buildFilter renders the WHERE clause shared by List, ForEach and Stats.
func buildFilter(f types.NotificationFilter) (string, []any, int, error) {
	conditions := []string{"n.organization_id = $1"}
	args := []any{f.OrganizationID}
	argIdx := 2

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, v)
		argIdx++
	}

	if f.ChannelType != "" {
		add("n.notification_type = $%d", f.ChannelType)
	}
	if f.Status != "" {
		add("n.status = $%d", string(f.Status))
	}
	if f.Severity != "" {
		add("n.severity = $%d", string(f.Severity))
	}
	if f.DispatchID != "" {
		add("n.dispatch_id = $%d", f.DispatchID)
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(n.title ILIKE $%d OR n.description ILIKE $%d)", argIdx, argIdx))
		args = append(args, pattern)
		argIdx++
	}
	if f.Cursor != "" {
		cursorTime, err := parseCursor(f.Cursor)
		if err != nil {
			return "", nil, 0, err
		}
		add("n.created_date < $%d", cursorTime)
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, argIdx, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List returns audit rows newest first with cursor pagination.
func (r *NotificationRepository) List(ctx context.Context, f types.NotificationFilter) ([]*types.AlertNotification, types.PageInfo, error) {
	limit := types.ClampPageSize(f.Limit)

	where, args, argIdx, err := buildFilter(f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	query := fmt.Sprintf(
		`SELECT %s
		 FROM alert_notifications n
		 %s
		 ORDER BY n.created_date DESC, n.id
		 LIMIT $%d`,
		notificationColumns, where, argIdx,
	)
	args = append(args, limit+1)

	var results []*types.AlertNotification
	err = r.scanEach(ctx, query, args, func(n *types.AlertNotification) error {
		results = append(results, n)
		return nil
	})
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedDate.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, pageInfo, nil
}

// ForEach streams every row matching f, newest first, up to maxRows
// (0 = unlimited). Pagination fields of f are ignored except Cursor.
func (r *NotificationRepository) ForEach(ctx context.Context, f types.NotificationFilter, maxRows int, fn func(*types.AlertNotification) error) error {
	where, args, argIdx, err := buildFilter(f)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`SELECT %s
		 FROM alert_notifications n
		 %s
		 ORDER BY n.created_date DESC, n.id`,
		notificationColumns, where,
	)
	if maxRows > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, maxRows)
	}
	return r.scanEach(ctx, query, args, fn)
}

func (r *NotificationRepository) scanEach(ctx context.Context, query string, args []any, fn func(*types.AlertNotification) error) error {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to query notifications", err)
	}
	defer rows.Close()

	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", scanErr)
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}
	return nil
}

// Stats counts rows per status for an organization. FailureRate is
// failed / (sent + delivered + failed); skipped and pending rows are
// excluded from the denominator.
func (r *NotificationRepository) Stats(ctx context.Context, orgID string) (*types.NotificationStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT n.status, COUNT(*)
		 FROM alert_notifications n
		 WHERE n.organization_id = $1
		 GROUP BY n.status`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to compute notification stats", err)
	}
	defer rows.Close()

	stats := &types.NotificationStats{
		OrganizationID: orgID,
		Counts:         make(map[types.NotificationStatus]int),
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stats row", err)
		}
		stats.Counts[types.NotificationStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating stats rows", err)
	}

	failed := stats.Counts[types.NotificationFailed]
	attempted := stats.Counts[types.NotificationSent] + stats.Counts[types.NotificationDelivered] + failed
	if attempted > 0 {
		stats.FailureRate = float64(failed) / float64(attempted)
	}
	return stats, nil
}

// FailStalePending closes pending rows older than cutoff. They belong to
// dispatches whose process died mid-delivery.
func (r *NotificationRepository) FailStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE alert_notifications
		 SET status = 'failed', delivery_error = 'delivery interrupted', updated_at = NOW()
		 WHERE status = 'pending' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to close stale notifications", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBefore removes audit rows older than cutoff.
func (r *NotificationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM alert_notifications WHERE created_date < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old notifications", err)
	}
	return tag.RowsAffected(), nil
}
