// Package replica implements the per-client replication engine: the
// local zone window, the shared object table with baselines, the state
// writer/receiver pair, and the double-acknowledgement protocol they run
// over an unreliable datagram channel.
package replica

import "time"

// TimeSource provides monotonic nanosecond time.
type TimeSource interface {
	Time() int64
}

// SynchedTimeSource is a TimeSource aligned to a remote peer's clock.
type SynchedTimeSource interface {
	TimeSource

	// Drift is the current estimated offset from local time to remote
	// time; loosely related to ping and the peers' clock difference.
	Drift() int64

	// SetOffset adds a fixed bias into returned times.  A negative
	// offset keeps returned time in the past, giving receivers an
	// interpolation window.
	SetOffset(offset int64)
	Offset() int64
}

type systemTime struct{}

func (systemTime) Time() int64 {
	return time.Now().UnixNano()
}

// SystemTime reads the local clock.
var SystemTime TimeSource = systemTime{}
