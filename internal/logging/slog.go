// Package logging centralizes structured logging helpers so that log
// attributes are named consistently across the codebase and account emails
// never reach the logs in the clear.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Common log attribute keys.
const (
	KeyOperation   = "operation"
	KeyProvider    = "provider"
	KeyAccountHash = "account_hash"
	KeyUserID      = "user_id"
	KeyError       = "error"
)

// New returns a JSON slog logger writing to stderr at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Provider returns a slog attribute for a storage provider name.
func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

// UserID returns a slog attribute for the authenticated user ID. User IDs
// are opaque UUIDs, not PII, so they are logged as-is.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// AccountHash returns a slog attribute with the anonymized account email,
// allowing log correlation without exposing the address itself.
func AccountHash(email string) slog.Attr {
	return slog.String(KeyAccountHash, AnonymizeEmail(email))
}

// Err returns a slog attribute for an error. A nil err yields an empty
// group that slog omits from output, so Err(maybeNil) is always safe.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a stable hashed representation of an email address
// for logging purposes.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(email)))
	return "acct:" + hex.EncodeToString(hash[:8])
}

// SanitizeToken returns a masked version of a token for logging. Only the
// length is reported; even short prefixes of OAuth tokens are sensitive.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
