package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"alertflow/internal/types"
)

// PreferenceRepository provides data access for user_notification_preferences.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a PreferenceRepository.
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

const preferenceColumns = `p.user_id, p.organization_id, p.preferred_channels,
	p.blocked_channels, p.mute_alerts, p.severity_threshold,
	p.do_not_disturb_windows, p.override_org_routing, p.contacts, p.updated_at`

func scanPreferences(row pgx.Row) (*types.UserNotificationPreferences, error) {
	var (
		p         types.UserNotificationPreferences
		preferred []string
		blocked   []string
		threshold *string
		contacts  []byte
	)
	err := row.Scan(
		&p.UserID,
		&p.OrganizationID,
		&preferred,
		&blocked,
		&p.MuteAlerts,
		&threshold,
		&p.DoNotDisturb,
		&p.OverrideOrgRouting,
		&contacts,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PreferredChannels = stringsToChannelTypes(preferred)
	p.BlockedChannels = stringsToChannelTypes(blocked)
	p.SeverityThreshold = types.Severity(derefString(threshold))
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &p.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts: %w", err)
		}
	}
	return &p, nil
}

// Get returns one user's preferences.
func (r *PreferenceRepository) Get(ctx context.Context, orgID, userID string) (*types.UserNotificationPreferences, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+preferenceColumns+`
		 FROM user_notification_preferences p
		 WHERE p.organization_id = $1 AND p.user_id = $2`,
		orgID, userID,
	)
	p, err := scanPreferences(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPreferences, "preferences not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve preferences", err)
	}
	return p, nil
}

// GetMany loads preferences for a set of users. Users without a record are
// absent from the map.
func (r *PreferenceRepository) GetMany(ctx context.Context, orgID string, userIDs []string) (map[string]*types.UserNotificationPreferences, error) {
	out := make(map[string]*types.UserNotificationPreferences, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+preferenceColumns+`
		 FROM user_notification_preferences p
		 WHERE p.organization_id = $1 AND p.user_id = ANY($2)`,
		orgID, userIDs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load preferences", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, scanErr := scanPreferences(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan preferences row", scanErr)
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating preferences rows", err)
	}
	return out, nil
}

// Upsert creates or replaces a user's preferences.
func (r *PreferenceRepository) Upsert(ctx context.Context, p *types.UserNotificationPreferences) error {
	contacts, err := json.Marshal(p.Contacts)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode contacts", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO user_notification_preferences (
			user_id, organization_id, preferred_channels, blocked_channels,
			mute_alerts, severity_threshold, do_not_disturb_windows,
			override_org_routing, contacts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			preferred_channels = EXCLUDED.preferred_channels,
			blocked_channels = EXCLUDED.blocked_channels,
			mute_alerts = EXCLUDED.mute_alerts,
			severity_threshold = EXCLUDED.severity_threshold,
			do_not_disturb_windows = EXCLUDED.do_not_disturb_windows,
			override_org_routing = EXCLUDED.override_org_routing,
			contacts = EXCLUDED.contacts,
			updated_at = NOW()`,
		p.UserID,
		p.OrganizationID,
		channelTypesToStrings(p.PreferredChannels),
		channelTypesToStrings(p.BlockedChannels),
		p.MuteAlerts,
		nilIfEmpty(string(p.SeverityThreshold)),
		p.DoNotDisturb,
		p.OverrideOrgRouting,
		contacts,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save preferences", err)
	}
	return nil
}

// Delete removes a user's preferences, restoring organization routing.
func (r *PreferenceRepository) Delete(ctx context.Context, orgID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_notification_preferences WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete preferences", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPreferences, "preferences not found", nil)
	}
	return nil
}
