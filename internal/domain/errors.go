package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")

	// ErrStaleUpdate marks a diff whose final id is not newer than the book.
	// It is dropped silently.
	ErrStaleUpdate = errors.New("stale update")
	// ErrMalformedMessage marks an unparseable inbound payload.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMalformedUpdate marks a diff with an unparseable numeric field.
	ErrMalformedUpdate = fmt.Errorf("%w: bad numeric field", ErrMalformedMessage)
	// ErrSequenceGap marks a diff that does not follow the last applied id.
	ErrSequenceGap         = errors.New("sequence gap")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPersistenceFailure  = errors.New("persistence failure")
	// ErrNotReady is returned while either side of the book is empty.
	ErrNotReady = errors.New("order book not initialized")
)
