package broadcast

import "errors"

// Sentinel kinds for bus errors.
var (
	ErrNilEvent  = errors.New("nil event")
	ErrNoSession = errors.New("event has no session id")
	ErrMalformed = errors.New("malformed event")
	ErrClosed    = errors.New("bus closed")
)
