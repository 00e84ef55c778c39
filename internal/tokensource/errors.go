package tokensource

import (
	"errors"

	"golang.org/x/oauth2"
)

// ErrReauthorizationRequired means no usable credential exists and only a
// fresh browser authorization can produce one. Consumers fail fast on it; no
// network call is attempted in this state.
var ErrReauthorizationRequired = errors.New("reauthorization required")

// ErrStateMismatch means the anti-forgery state on the redirect callback did
// not match the pending authorization attempt. The authorization code is
// discarded unused.
var ErrStateMismatch = errors.New("authorization state mismatch")

// isTerminalGrant reports whether a token endpoint failure invalidates the
// stored grant itself. Only the vendor's explicit invalid_grant answer
// qualifies; network failures, 5xx and unclassifiable bodies stay transient
// because destroying a refresh token is unrecoverable without operator
// action.
func isTerminalGrant(err error) bool {
	var retrieve *oauth2.RetrieveError
	return errors.As(err, &retrieve) && retrieve.ErrorCode == "invalid_grant"
}
