package simulate

import "time"

// Defaults used when a Config field is left at zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultSettleTimeout = 5 * time.Second
	DefaultCourts        = 2
	DefaultMaxSpread     = 2
)

const settlePoll = 20 * time.Millisecond
