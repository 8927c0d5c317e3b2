package amadeus

import (
	"context"
	"errors"
	"fmt"
)

// ErrRateLimited is set on an Outcome once the bounded 429 retries are
// exhausted. The run continues with the remaining queries.
var ErrRateLimited = errors.New("rate limit exceeded")

// AuthError means the credentials were rejected or the auth endpoint is
// unreachable. It is fatal: every later query would fail the same way.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-success answer from the remote service that is not
// an auth or rate-limit signal.
type RemoteError struct {
	StatusCode int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: HTTP %d", e.StatusCode)
}

// NetworkError is a transport-level failure before any HTTP status was seen.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// isFatal reports whether err must abort the whole run instead of being
// carried inside a single query's Outcome.
func isFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
