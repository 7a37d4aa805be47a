package zone

// StateListener receives purged zone state from the collector.  All
// methods are invoked from the collector goroutine.
//
// Every StateChanged call between BeginFrame(t) and EndFrame(t) pertains
// to frame time t; everything between BeginFrameBlock and EndFrameBlock
// belongs to one purge cycle.
type StateListener interface {
	// HasChangedZones reports whether the listener's zone interest
	// changed since the last published frame.  When true, the collector
	// reads EnteredZones/ExitedZones before delivering the next frame.
	HasChangedZones() bool
	EnteredZones() []Key
	ExitedZones() []Key

	BeginFrameBlock()
	EndFrameBlock()

	BeginFrame(time int64)
	StateChanged(b *StateBlock)
	EndFrame(time int64)
}
