package provider

import (
	"errors"
)

var (
	// ErrAuth is returned when the provider rejects the access token
	// (HTTP 401 or equivalent). Recoverable via a refresh-token exchange.
	ErrAuth = errors.New("access token rejected by provider")

	// ErrRefreshFailed is returned when the provider rejects the refresh
	// token itself (revoked or expired). Terminal for the account until the
	// user re-links it.
	ErrRefreshFailed = errors.New("refresh token rejected by provider")

	// ErrUnavailable is returned on network failures and 5xx responses.
	// Retryable by a higher-level caller; never retried here.
	ErrUnavailable = errors.New("provider unavailable")
)
