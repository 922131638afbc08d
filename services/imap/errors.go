package imap

import (
	"strings"

	"github.com/pkg/errors"

	er "github.com/inboxline/mailsync/internal/errors"
)

// isConnectionError checks if an error is related to connectivity
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "connection refused") ||
		strings.Contains(errorMsg, "connection reset") ||
		strings.Contains(errorMsg, "broken pipe") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF")
}

// IsTransient reports whether a sync pass that failed with err is worth
// retrying on a fresh connection.
func IsTransient(err error) bool {
	if errors.Is(err, er.ErrConnectionTimeout) {
		return true
	}
	return isConnectionError(err)
}
