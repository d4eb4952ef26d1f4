package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"alertflow/internal/types"
)

func notificationRow(id string, status types.NotificationStatus, created time.Time) []any {
	dispatch := "dsp_1"
	channel := "ch_1"
	return []any{
		id, &dispatch, "org_1", "email", &channel, "ops@example.com", "action:a1",
		status, types.SeverityHigh, "Fire", "Smoke detected", (*string)(nil), 1, created, created,
	}
}

func TestNotificationRepository_InsertPending_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (dispatch_id, source, channel_id, recipient) DO NOTHING")
	}), mock.MatchedBy(func(args []any) bool {
		return args[7] == "pending"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	n := &types.AlertNotification{ID: "ntf_1", DispatchID: "dsp_1", Source: "action:a1", ChannelID: "ch_1"}
	row, created, err := repo.InsertPending(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Same(t, n, row)
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationRepository_InsertPending_Existing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{values: notificationRow("ntf_old", types.NotificationSent, time.Now())})

	row, created, err := repo.InsertPending(context.Background(), &types.AlertNotification{ID: "ntf_new"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ntf_old", row.ID)
	assert.Equal(t, types.NotificationSent, row.Status)
	assert.Equal(t, "dsp_1", row.DispatchID)
}

func TestNotificationRepository_Finalize_OnlyPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'pending'")
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Finalize(context.Background(), "ntf_1", types.NotificationFailed, "503"))
	db.AssertExpectations(t)
}

func TestNotificationRepository_InsertFinal_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.InsertFinal(context.Background(), &types.AlertNotification{ID: "ntf_1", Status: types.NotificationSkipped})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNotificationRepository_List_Filters(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "n.notification_type = $2") &&
			strings.Contains(sql, "n.status = $3") &&
			strings.Contains(sql, "(n.title ILIKE $4 OR n.description ILIKE $4)")
	}), mock.MatchedBy(func(args []any) bool {
		return args[3] == `%50\%%` && args[4] == 2
	})).Return(newMockRows(
		notificationRow("ntf_2", types.NotificationFailed, base.Add(time.Minute)),
		notificationRow("ntf_1", types.NotificationFailed, base),
	), nil)

	rows, page, err := repo.List(context.Background(), types.NotificationFilter{
		OrganizationID: "org_1",
		ChannelType:    "email",
		Status:         types.NotificationFailed,
		Search:         "50%",
		Limit:          1,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, base.Add(time.Minute).Format(time.RFC3339Nano), page.NextCursor)
}

func TestNotificationRepository_ForEach_StopsOnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	now := time.Now().UTC()
	rows := newMockRows(notificationRow("ntf_1", types.NotificationSent, now), notificationRow("ntf_2", types.NotificationSent, now))
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "LIMIT $2")
	}), mock.Anything).Return(rows, nil)

	stop := errors.New("stop")
	seen := 0
	err := repo.ForEach(context.Background(), types.NotificationFilter{OrganizationID: "org_1"}, 10, func(*types.AlertNotification) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
	assert.True(t, rows.closed)
}

func TestNotificationRepository_Stats(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(
		[]any{"sent", 6},
		[]any{"delivered", 1},
		[]any{"failed", 3},
		[]any{"skipped", 5},
	), nil)

	stats, err := repo.Stats(context.Background(), "org_1")
	require.NoError(t, err)
	assert.Equal(t, 15, stats.Total)
	assert.InDelta(t, 0.3, stats.FailureRate, 1e-9)
	assert.Equal(t, 5, stats.Counts[types.NotificationSkipped])
}

func TestNotificationRepository_DeleteBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("DELETE 42"), nil)

	n, err := repo.DeleteBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
