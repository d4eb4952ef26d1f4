package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"alertflow/internal/types"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (r ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// Validator wraps go-playground/validator with the domain tags:
//
//	severity      low|medium|high|critical, case-insensitive
//	channel_type  a supported channel type
//	is_timezone   an IANA zone name
//	hhmm          a 24h "HH:MM" clock time
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	mustRegister(v, "severity", func(fl validator.FieldLevel) bool {
		return types.ParseSeverity(fl.Field().String()).Valid()
	})
	mustRegister(v, "channel_type", func(fl validator.FieldLevel) bool {
		return types.ChannelType(fl.Field().String()).Valid()
	})
	mustRegister(v, "is_timezone", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" {
			return true
		}
		_, err := time.LoadLocation(name)
		return err == nil
	})
	mustRegister(v, "hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("core: register validation " + tag + ": " + err.Error())
	}
}

// jsonFieldName reports fields by their JSON name.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// ValidateStruct returns nil or an AppError whose code is that of the first
// failure and whose details carry every failure under "validation_errors".
func (v *Validator) ValidateStruct(s interface{}) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), first.Message, nil,
		map[string]any{"validation_errors": result.Errors})
}

// ValidateStructWithWarnings collects every field failure.
func (v *Validator) ValidateStructWithWarnings(s interface{}) ValidationResult {
	var result ValidationResult
	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("struct validation failed unexpectedly", "error", err)
		result.Errors = append(result.Errors, ValidationError{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: "request could not be validated",
		})
		return result
	}

	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, toValidationError(fe))
	}
	return result
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fieldPath(fe)
	ve := ValidationError{Field: field, Code: string(types.ErrCodeValidationInvalidField)}

	switch fe.Tag() {
	case "required", "required_if", "required_with", "required_without":
		ve.Code = string(types.ErrCodeValidationMissingField)
		ve.Message = field + " is required"
	case "email":
		ve.Message = field + " must be a valid email address"
	case "url", "http_url":
		ve.Message = field + " must be a valid URL"
	case "oneof":
		ve.Message = field + " must be one of: " + fe.Param()
	case "min", "gte":
		ve.Message = field + " must be at least " + fe.Param()
	case "max", "lte":
		ve.Message = field + " must be at most " + fe.Param()
	case "severity":
		ve.Message = field + " must be one of: low, medium, high, critical"
	case "channel_type":
		ve.Message = field + " is not a supported channel type"
	case "is_timezone":
		ve.Message = field + " must be an IANA time zone name"
	case "hhmm":
		ve.Message = field + " must be a 24h time formatted HH:MM"
	default:
		ve.Message = field + " failed " + fe.Tag() + " validation"
	}
	return ve
}

// fieldPath drops the root struct name: "CreateChannelRequest.name" -> "name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}
