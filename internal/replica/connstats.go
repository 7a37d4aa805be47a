package replica

import (
	"sync/atomic"

	"zonecast/internal/stats"
)

// ConnectionStats tracks per-connection health readable from any
// goroutine: average ping and ack hit/miss counts.
type ConnectionStats struct {
	ping *stats.RollingAverage

	acks      atomic.Int64
	ackMisses atomic.Int64
}

func NewConnectionStats() *ConnectionStats {
	return &ConnectionStats{ping: stats.NewRollingAverage(5)}
}

func (c *ConnectionStats) AddPingTime(nanos int64) {
	c.ping.Add(nanos)
}

func (c *ConnectionStats) AveragePingTime() int64 {
	return c.ping.Average()
}

func (c *ConnectionStats) IncrementAcks() {
	c.acks.Add(1)
}

func (c *ConnectionStats) IncrementAckMisses() {
	c.ackMisses.Add(1)
}

// AckMissPercent is the share of processed ACKs that matched no retained
// sent state.
func (c *ConnectionStats) AckMissPercent() float64 {
	total := c.acks.Load()
	if total == 0 {
		return 0
	}
	return float64(c.ackMisses.Load()) * 100 / float64(total)
}

// ConnectionSnapshot is the exported view for the observer stream and
// the index DB.
type ConnectionSnapshot struct {
	PingNanos      int64   `json:"ping_nanos"`
	Acks           int64   `json:"acks"`
	AckMisses      int64   `json:"ack_misses"`
	AckMissPercent float64 `json:"ack_miss_percent"`
}

func (c *ConnectionStats) Snapshot() ConnectionSnapshot {
	return ConnectionSnapshot{
		PingNanos:      c.AveragePingTime(),
		Acks:           c.acks.Load(),
		AckMisses:      c.ackMisses.Load(),
		AckMissPercent: c.AckMissPercent(),
	}
}
