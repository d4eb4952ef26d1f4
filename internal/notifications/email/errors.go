package email

import (
	"errors"

	"alertflow/internal/types"
)

// ErrRecipientBlocked indicates the provider refuses to deliver to the
// recipient (suppression list, rejected address).
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is blocked. Both
// the sentinel and the provider's ErrCodeEmailBlocked AppError qualify.
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == types.ErrCodeEmailBlocked
	}
	return false
}
