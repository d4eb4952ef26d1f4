package core

import (
	"errors"
	"testing"

	"alertflow/internal/types"
)

type channelRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	ChannelType string `json:"channel_type" validate:"required,channel_type"`
	Severity    string `json:"severity,omitempty" validate:"omitempty,severity"`
	Timezone    string `json:"timezone,omitempty" validate:"is_timezone"`
	Start       string `json:"start,omitempty" validate:"omitempty,hhmm"`
}

func TestValidator_DomainTags(t *testing.T) {
	v := NewValidator(testLogger())

	valid := channelRequest{Name: "ops", ChannelType: "slack", Severity: "HIGH", Timezone: "Europe/Berlin", Start: "22:30"}
	if err := v.ValidateStruct(valid); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name      string
		req       channelRequest
		wantField string
		wantCode  types.ErrorCode
	}{
		{"missing name", channelRequest{ChannelType: "slack"}, "name", types.ErrCodeValidationMissingField},
		{"bad channel", channelRequest{Name: "x", ChannelType: "fax"}, "channel_type", types.ErrCodeValidationInvalidField},
		{"bad severity", channelRequest{Name: "x", ChannelType: "email", Severity: "urgent"}, "severity", types.ErrCodeValidationInvalidField},
		{"bad timezone", channelRequest{Name: "x", ChannelType: "email", Timezone: "Mars/Olympus"}, "timezone", types.ErrCodeValidationInvalidField},
		{"bad clock", channelRequest{Name: "x", ChannelType: "email", Start: "25:00"}, "start", types.ErrCodeValidationInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.req)
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", appErr.Code, tt.wantCode)
			}
			errs, ok := appErr.Details["validation_errors"].([]ValidationError)
			if !ok || len(errs) == 0 {
				t.Fatalf("details = %#v", appErr.Details)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidator_CollectsEveryFailure(t *testing.T) {
	v := NewValidator(testLogger())
	result := v.ValidateStructWithWarnings(channelRequest{ChannelType: "fax", Start: "noon"})
	if result.IsValid() {
		t.Fatal("expected failures")
	}
	if len(result.Errors) != 3 {
		t.Errorf("errors = %+v, want name, channel_type and start", result.Errors)
	}
}
