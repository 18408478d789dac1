package simulate

import "errors"

var (
	// ErrNoStations is returned when Config lists no station URLs.
	ErrNoStations = errors.New("no stations configured")
	// ErrNotConverged is returned when stations disagree after the settle timeout.
	ErrNotConverged = errors.New("stations did not converge")
	// ErrInvariant is returned when a station's state breaks a session invariant.
	ErrInvariant = errors.New("session invariant violated")
)
