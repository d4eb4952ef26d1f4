package types

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports a malformed workflow, channel, or preference
// record. It is raised when the record is saved, never when it fires.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// EvaluationError reports an event the evaluator could not judge against a
// workflow. The workflow is skipped.
type EvaluationError struct {
	WorkflowID string
	Reason     string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of workflow %s: %s", e.WorkflowID, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// DeliveryErrorKind separates retryable from final delivery failures.
type DeliveryErrorKind string

const (
	DeliveryTransient DeliveryErrorKind = "transient"
	DeliveryPermanent DeliveryErrorKind = "permanent"
)

// DeliveryError is a failed send through a channel adapter.
type DeliveryError struct {
	Kind   DeliveryErrorKind
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %s", e.Kind, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewTransientError builds a retryable DeliveryError.
func NewTransientError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryTransient, Reason: reason, Err: err}
}

// NewPermanentError builds a non-retryable DeliveryError.
func NewPermanentError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryPermanent, Reason: reason, Err: err}
}

// TimeoutError reports an operation that exceeded its bound. Always transient.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// AcknowledgmentRaceError marks an acknowledgment that arrived after the
// escalation was exhausted. It is recorded, not treated as a failure.
type AcknowledgmentRaceError struct {
	DispatchID string
	State      EscalationState
}

func (e *AcknowledgmentRaceError) Error() string {
	return fmt.Sprintf("dispatch %s acknowledged after escalation %s", e.DispatchID, e.State)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind == DeliveryTransient
	}
	return false
}

// ConfigurationErrorToApp converts a ConfigurationError into a 400 AppError
// under the given validation code. Other errors are returned unchanged.
func ConfigurationErrorToApp(code ErrorCode, err error) error {
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		return err
	}
	return NewAppErrorWithDetails(code, ce.Error(), err, map[string]any{
		"field":  ce.Field,
		"reason": ce.Reason,
	})
}
