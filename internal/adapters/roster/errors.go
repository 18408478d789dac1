package roster

import "errors"

var (
	ErrNoURL          = errors.New("roster url not configured")
	ErrInvalidPlayer  = errors.New("invalid roster player")
	ErrPlayerNotFound = errors.New("roster player not found")
	ErrUpstream       = errors.New("roster directory error")
)
