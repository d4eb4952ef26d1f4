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

// ChannelRepository provides data access for the alert_channels table.
// Configuration is stored unredacted; redaction happens on JSON encoding.
type ChannelRepository struct {
	db DBTX
}

// NewChannelRepository creates a ChannelRepository.
func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ListChannelsParams filters channel listings.
type ListChannelsParams struct {
	ChannelType types.ChannelType
	Limit       int
	Cursor      string
}

const channelColumns = `c.id, c.organization_id, c.name, c.channel_type,
	c.channel_configuration, c.is_active, c.test_status, c.tested_at,
	c.created_at, c.updated_at`

func scanChannel(row pgx.Row) (*types.AlertChannel, error) {
	var ch types.AlertChannel
	err := row.Scan(
		&ch.ID,
		&ch.OrganizationID,
		&ch.Name,
		&ch.ChannelType,
		&ch.Config,
		&ch.IsActive,
		&ch.TestStatus,
		&ch.TestedAt,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// Create inserts a channel. The caller sets the ID.
func (r *ChannelRepository) Create(ctx context.Context, ch *types.AlertChannel) error {
	status := ch.TestStatus
	if status == "" {
		status = types.TestStatusUntested
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_channels (
			id, organization_id, name, channel_type, channel_configuration,
			is_active, test_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))`,
		ch.ID,
		ch.OrganizationID,
		ch.Name,
		string(ch.ChannelType),
		ch.Config,
		ch.IsActive,
		string(status),
		nilIfZeroTime(ch.CreatedAt),
		nilIfZeroTime(ch.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicate, "channel already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create channel", err)
	}
	return nil
}

// GetByID returns a channel scoped to orgID.
func (r *ChannelRepository) GetByID(ctx context.Context, id, orgID string) (*types.AlertChannel, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+channelColumns+`
		 FROM alert_channels c
		 WHERE c.id = $1 AND c.organization_id = $2`,
		id, orgID,
	)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve channel", err)
	}
	return ch, nil
}

// GetByIDs loads the channels of orgID among ids, active or not. Missing ids
// are simply absent from the result map.
func (r *ChannelRepository) GetByIDs(ctx context.Context, orgID string, ids []string) (map[string]*types.AlertChannel, error) {
	out := make(map[string]*types.AlertChannel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+channelColumns+`
		 FROM alert_channels c
		 WHERE c.organization_id = $1 AND c.id = ANY($2)`,
		orgID, ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load channels", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, scanErr := scanChannel(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan channel row", scanErr)
		}
		out[ch.ID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating channel rows", err)
	}
	return out, nil
}

// Update replaces name, configuration and active flag. A configuration
// change resets test_status to untested.
func (r *ChannelRepository) Update(ctx context.Context, ch *types.AlertChannel) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alert_channels SET
			name = $1,
			channel_configuration = $2,
			is_active = $3,
			test_status = CASE WHEN channel_configuration = $2::jsonb THEN test_status ELSE 'untested' END,
			updated_at = NOW()
		 WHERE id = $4 AND organization_id = $5`,
		ch.Name,
		ch.Config,
		ch.IsActive,
		ch.ID,
		ch.OrganizationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update channel", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return nil
}

// Delete removes a channel. Audit rows keep the dangling channel_id.
func (r *ChannelRepository) Delete(ctx context.Context, id, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM alert_channels WHERE id = $1 AND organization_id = $2`,
		id, orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete channel", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return nil
}

// UpdateTestStatus records the result of a synthetic test send.
func (r *ChannelRepository) UpdateTestStatus(ctx context.Context, id, orgID string, status types.ChannelTestStatus, testedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alert_channels SET test_status = $1, tested_at = $2
		 WHERE id = $3 AND organization_id = $4`,
		string(status), testedAt, id, orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update channel test status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return nil
}

// List returns channels newest first with cursor pagination.
func (r *ChannelRepository) List(ctx context.Context, orgID string, params ListChannelsParams) ([]*types.AlertChannel, types.PageInfo, error) {
	limit := types.ClampPageSize(params.Limit)

	conditions := []string{"c.organization_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if params.ChannelType != "" {
		conditions = append(conditions, fmt.Sprintf("c.channel_type = $%d", argIdx))
		args = append(args, string(params.ChannelType))
		argIdx++
	}
	if params.Cursor != "" {
		cursorTime, err := parseCursor(params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, err
		}
		conditions = append(conditions, fmt.Sprintf("c.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM alert_channels c
		 WHERE %s
		 ORDER BY c.created_at DESC
		 LIMIT $%d`,
		channelColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list channels", err)
	}
	defer rows.Close()

	var results []*types.AlertChannel
	for rows.Next() {
		ch, scanErr := scanChannel(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan channel row", scanErr)
		}
		results = append(results, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating channel rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, pageInfo, nil
}
