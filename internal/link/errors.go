// internal/link/errors.go
package link

import "errors"

var (
	// ErrNotConnected is returned by Send while the link is not in the
	// connected state.
	ErrNotConnected = errors.New("link not connected")

	// ErrDirectionNotAllowed is returned by Send on a link configured
	// as input-only.
	ErrDirectionNotAllowed = errors.New("send not allowed on input-only link")

	// ErrMaxReconnectAttempts terminates a Start cycle once the bounded
	// reconnect budget is spent; a new Start is required afterwards.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")
)
