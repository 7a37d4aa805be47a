// Package stats collects engine counters and trackers.  The set is a
// per-engine handle passed explicitly to the components that feed it;
// there is no process-global registry.
package stats

import "sync/atomic"

// Engine is the full set of counters one replication engine maintains.
// All fields are safe for concurrent use.
type Engine struct {
	FramesPublished atomic.Int64
	FramesDropped   atomic.Int64

	MessagesSent  atomic.Int64
	BytesSent     atomic.Int64
	MessagesSplit atomic.Int64

	HistoryOverflows      atomic.Int64
	BaselineRealIDRepairs atomic.Int64
	UnknownNetworkIDs     atomic.Int64
}

func NewEngine() *Engine {
	return &Engine{}
}

// Snapshot is a plain copy of the counters for export (observer stream,
// index DB rows).
type Snapshot struct {
	FramesPublished int64 `json:"frames_published"`
	FramesDropped   int64 `json:"frames_dropped"`

	MessagesSent  int64 `json:"messages_sent"`
	BytesSent     int64 `json:"bytes_sent"`
	MessagesSplit int64 `json:"messages_split"`

	HistoryOverflows      int64 `json:"history_overflows"`
	BaselineRealIDRepairs int64 `json:"baseline_real_id_repairs"`
	UnknownNetworkIDs     int64 `json:"unknown_network_ids"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		FramesPublished:       e.FramesPublished.Load(),
		FramesDropped:         e.FramesDropped.Load(),
		MessagesSent:          e.MessagesSent.Load(),
		BytesSent:             e.BytesSent.Load(),
		MessagesSplit:         e.MessagesSplit.Load(),
		HistoryOverflows:      e.HistoryOverflows.Load(),
		BaselineRealIDRepairs: e.BaselineRealIDRepairs.Load(),
		UnknownNetworkIDs:     e.UnknownNetworkIDs.Load(),
	}
}

// RollingAverage keeps a windowed running average readable from any
// goroutine.  Add must stay single-threaded.
type RollingAverage struct {
	windowSize int64
	count      int64
	average    atomic.Int64
}

func NewRollingAverage(windowSize int) *RollingAverage {
	return &RollingAverage{windowSize: int64(windowSize)}
}

func (r *RollingAverage) Add(value int64) {
	size := r.count
	if size > r.windowSize {
		size = r.windowSize
	}
	r.count++
	r.average.Store((r.average.Load()*size + value) / (size + 1))
}

func (r *RollingAverage) Average() int64 {
	return r.average.Load()
}
