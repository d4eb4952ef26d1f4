package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

type mockPreferenceRepo struct {
	stored  *types.UserNotificationPreferences
	deleted bool
}

func (m *mockPreferenceRepo) Get(context.Context, string, string) (*types.UserNotificationPreferences, error) {
	if m.stored == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundPreferences, "preferences not found", nil)
	}
	return m.stored, nil
}

func (m *mockPreferenceRepo) Upsert(_ context.Context, p *types.UserNotificationPreferences) error {
	m.stored = p
	return nil
}

func (m *mockPreferenceRepo) Delete(context.Context, string, string) error {
	if m.stored == nil {
		return types.NewAppError(types.ErrCodeNotFoundPreferences, "preferences not found", nil)
	}
	m.deleted = true
	return nil
}

const prefsPath = "/v1/organizations/org-1/users/user-7/preferences"

func TestPreferenceHandler_PutAndGet(t *testing.T) {
	repo := &mockPreferenceRepo{}
	h := NewPreferenceHandler(repo, core.ValidatePreferences, testValidator(), testLogger())

	rec := serve(t, h.RegisterRoutes, http.MethodGet, prefsPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no record means organization routing")

	rec = serve(t, h.RegisterRoutes, http.MethodPut, prefsPath, map[string]any{
		"preferred_channels": []string{"sms", "email"},
		"blocked_channels":   []string{"slack"},
		"severity_threshold": "HIGH",
		"do_not_disturb_windows": []map[string]any{
			{"days": []string{"saturday", "sunday"}, "start": "22:00", "end": "07:00", "timezone": "Europe/Berlin"},
		},
		"contacts": map[string]string{"sms": "+4915112345678"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, repo.stored)
	assert.Equal(t, "user-7", repo.stored.UserID)
	assert.Equal(t, "org-1", repo.stored.OrganizationID)
	assert.Equal(t, types.SeverityHigh, repo.stored.SeverityThreshold)
	assert.Equal(t, "+4915112345678", repo.stored.Contacts[types.ChannelSMS])

	rec = serve(t, h.RegisterRoutes, http.MethodGet, prefsPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.UserNotificationPreferences
	decodeData(t, rec, &got)
	assert.Equal(t, []types.ChannelType{types.ChannelSMS, types.ChannelEmail}, got.PreferredChannels)
}

func TestPreferenceHandler_PutValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code types.ErrorCode
	}{
		{"unknown channel", map[string]any{"preferred_channels": []string{"pigeon"}}, types.ErrCodeValidationInvalidField},
		{"unknown severity", map[string]any{"severity_threshold": "severe"}, types.ErrCodeValidationInvalidField},
		{"bad window clock", map[string]any{
			"do_not_disturb_windows": []map[string]any{{"start": "25:00", "end": "07:00"}},
		}, types.ErrCodeValidationInvalidPrefs},
		{"bad window zone", map[string]any{
			"do_not_disturb_windows": []map[string]any{{"start": "22:00", "end": "07:00", "timezone": "Nowhere/Land"}},
		}, types.ErrCodeValidationInvalidPrefs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockPreferenceRepo{}
			h := NewPreferenceHandler(repo, core.ValidatePreferences, testValidator(), testLogger())

			rec := serve(t, h.RegisterRoutes, http.MethodPut, prefsPath, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.code), decodeErr(t, rec).Code)
			assert.Nil(t, repo.stored)
		})
	}
}

func TestPreferenceHandler_Delete(t *testing.T) {
	repo := &mockPreferenceRepo{stored: &types.UserNotificationPreferences{UserID: "user-7"}}
	h := NewPreferenceHandler(repo, nil, testValidator(), testLogger())

	rec := serve(t, h.RegisterRoutes, http.MethodDelete, prefsPath, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, repo.deleted)
}
