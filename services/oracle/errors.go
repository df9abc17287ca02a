package oracle

import "errors"

var (
	// ErrUnauthenticated is returned when no valid verifier session backs a
	// request. Surfaces to the end user as "please re-verify".
	ErrUnauthenticated = errors.New("oracle: unauthenticated")
	// ErrSignerNotConfigured is an operational fault: the service is running
	// without a signing key. It must fail closed and never degrade silently.
	ErrSignerNotConfigured = errors.New("oracle: signer not configured")
	// ErrSessionRevoked is returned when a session was invalidated by logout.
	ErrSessionRevoked = errors.New("oracle: session revoked")
)
