package external

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"alertflow/internal/types"
)

// permanentAWSCodes are API error codes that will fail the same way on retry.
var permanentAWSCodes = map[string]bool{
	"InvalidParameter":            true,
	"InvalidParameterValue":       true,
	"ValidationException":         true,
	"AuthorizationError":          true,
	"AccessDeniedException":       true,
	"OptedOut":                    true,
	"EndpointDisabled":            true,
	"NotFound":                    true,
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
}

// classifyAWSError maps an SDK error to a transient or permanent AppError.
// Server faults, throttling and transport errors are transient.
func classifyAWSError(code types.ErrorCode, provider string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("%s %s: %s", provider, apiErr.ErrorCode(), apiErr.ErrorMessage())
		if permanentAWSCodes[apiErr.ErrorCode()] || (apiErr.ErrorFault() == smithy.FaultClient && !isThrottle(apiErr.ErrorCode())) {
			return permanentAppError(code, msg, err)
		}
		if isThrottle(apiErr.ErrorCode()) {
			return transientAppError(types.ErrCodeUpstreamRateLimited, msg, err)
		}
		return transientAppError(code, msg, err)
	}
	return transientAppError(code, provider+" request failed", err)
}

func isThrottle(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "Throttled", "TooManyRequestsException", "KMSThrottlingException":
		return true
	}
	return false
}
