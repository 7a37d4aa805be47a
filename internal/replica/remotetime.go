package replica

import (
	"sync/atomic"

	"go.uber.org/zap"

	"zonecast/internal/wire"
)

// remoteDriftWindow caps the running-average window for drift samples.
const remoteDriftWindow = 100

// DefaultRemoteOffset keeps remote time 100 ms in the past so receivers
// have buffered state to interpolate across.
const DefaultRemoteOffset = -100 * 1000 * 1000

// RemoteTimeSource estimates the sender's clock from the times carried
// in its messages.  Whenever an inbound message carries a new high-water
// server time, the drift becomes a running average of (serverTime -
// localTime) samples; Time() returns local time plus drift plus the
// configured offset, clamped to never run backwards.
type RemoteTimeSource struct {
	log   *zap.Logger
	local TimeSource

	drift         atomic.Int64
	initialized   atomic.Bool
	offset        atomic.Int64
	lastTime      atomic.Int64
	lastServerTime int64
	windowSize     int64
}

func NewRemoteTimeSource(log *zap.Logger, local TimeSource, offset int64) *RemoteTimeSource {
	t := &RemoteTimeSource{log: log.Named("remotetime"), local: local}
	t.offset.Store(offset)
	return t
}

func (t *RemoteTimeSource) SetOffset(offset int64) {
	t.offset.Store(offset)
}

func (t *RemoteTimeSource) Offset() int64 {
	return t.offset.Load()
}

func (t *RemoteTimeSource) Drift() int64 {
	return t.drift.Load()
}

// Update samples the message's time.  Single-threaded with respect to
// other Update calls (the transport ingress path).
func (t *RemoteTimeSource) Update(msg *wire.ObjectStateMessage) {
	if msg.Time <= t.lastServerTime {
		return
	}
	t.updateDrift(msg.Time)
}

func (t *RemoteTimeSource) updateDrift(serverTime int64) {
	t.lastServerTime = serverTime
	delta := serverTime - t.local.Time()

	// Running average so the drift varies slowly.
	newDrift := (delta + t.drift.Load()*t.windowSize) / (t.windowSize + 1)
	t.drift.Store(newDrift)
	if t.windowSize < remoteDriftWindow {
		t.windowSize++
	}
	t.initialized.Store(true)
}

// Time returns the drift-corrected remote time, monotonic across calls.
// Before the first sample it returns 0.
func (t *RemoteTimeSource) Time() int64 {
	if !t.initialized.Load() {
		return 0
	}
	now := t.local.Time() + t.drift.Load() + t.offset.Load()
	for {
		last := t.lastTime.Load()
		if now <= last {
			return last
		}
		if t.lastTime.CompareAndSwap(last, now) {
			return now
		}
	}
}
