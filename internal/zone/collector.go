package zone

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"zonecast/internal/stats"
)

// DefaultCollectionPeriod is the default tick interval for state
// collection: 20 purges per second.
const DefaultCollectionPeriod = 50 * time.Millisecond

// Collector runs a single background goroutine that periodically purges
// the zone manager and fans the resulting frames out to listeners,
// filtered by each listener's zone interest.
type Collector struct {
	log   *zap.Logger
	stats *stats.Engine
	zones *Manager

	period time.Duration
	// idleSleep is the pause between interval checks.  Negative means
	// busy-wait, for collection rates where the scheduler's sleep
	// granularity would drop frames.
	idleSleep time.Duration

	mu        sync.Mutex
	listeners []StateListener
	removed   []StateListener

	// zoneListeners is the zone interest index.  Only the collector
	// goroutine touches it; all interaction goes through the listeners
	// slice and removed queue.
	zoneListeners map[Key][]StateListener

	stop chan struct{}
	done chan struct{}
}

func NewCollector(log *zap.Logger, st *stats.Engine, zones *Manager, period time.Duration) *Collector {
	if period == 0 {
		period = DefaultCollectionPeriod
	}
	return &Collector{
		log:           log.Named("collector"),
		stats:         st,
		zones:         zones,
		period:        period,
		idleSleep:     time.Millisecond,
		zoneListeners: make(map[Key][]StateListener),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetIdleSleepTime adjusts the pause between interval checks.  Pass a
// negative duration to busy-wait.
func (c *Collector) SetIdleSleepTime(d time.Duration) {
	c.idleSleep = d
}

func (c *Collector) AddListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Collector) RemoveListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
	c.removed = append(c.removed, l)
}

func (c *Collector) snapshotListeners() []StateListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StateListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Collector) drainRemoved() []StateListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.removed
	c.removed = nil
	return out
}

func (c *Collector) Start() {
	c.log.Info("starting state collector", zap.Duration("period", c.period))
	go c.run()
}

// Shutdown stops the collector goroutine and waits for it to exit.
// History collection on the manager is disabled on the way out.
func (c *Collector) Shutdown() {
	c.log.Info("shutting down state collector")
	close(c.stop)
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)

	c.zones.SetCollectHistory(true)
	defer c.zones.SetCollectHistory(false)

	lastTime := time.Now()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		now := time.Now()
		if now.Sub(lastTime) >= c.period {
			lastTime = now
			c.collect()
			// No sleep after a collection in case the next interval is
			// already due.
			continue
		}

		if c.idleSleep >= 0 {
			time.Sleep(c.idleSleep)
		}
	}
}

func (c *Collector) watch(key Key, l StateListener) {
	c.zoneListeners[key] = append(c.zoneListeners[key], l)
}

func (c *Collector) unwatch(key Key, l StateListener) {
	list, ok := c.zoneListeners[key]
	if !ok {
		return
	}
	for i, x := range list {
		if x == l {
			c.zoneListeners[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (c *Collector) unwatchAll(l StateListener) {
	for key, list := range c.zoneListeners {
		for i, x := range list {
			if x == l {
				c.zoneListeners[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (c *Collector) publish(b *StateBlock) {
	for _, l := range c.zoneListeners[b.Zone()] {
		l.StateChanged(b)
	}
}

// publishFrame updates each listener's zone interest, then delivers the
// frame's blocks to the listeners watching each block's zone, bracketed
// by BeginFrame/EndFrame on every listener.
func (c *Collector) publishFrame(listeners []StateListener, frame *StateFrame) {
	for _, l := range listeners {
		if l.HasChangedZones() {
			for _, k := range l.ExitedZones() {
				c.unwatch(k, l)
			}
			for _, k := range l.EnteredZones() {
				c.watch(k, l)
			}
		}
		l.BeginFrame(frame.Time())
	}

	for _, b := range frame.Blocks() {
		c.publish(b)
	}

	for _, l := range listeners {
		l.EndFrame(frame.Time())
	}

	c.stats.FramesPublished.Add(1)
}

// CollectOnce runs a single purge cycle inline, for callers that step
// the pipeline by hand instead of running the background goroutine.  It
// does not enable history collection on the manager; such callers do
// that themselves with SetCollectHistory(true).
func (c *Collector) CollectOnce() {
	c.collect()
}

// collect runs one purge cycle: drop removed listeners from the zone
// index, purge the manager, and publish every non-nil frame in time
// order inside a BeginFrameBlock/EndFrameBlock bracket.
func (c *Collector) collect() {
	for _, l := range c.drainRemoved() {
		c.unwatchAll(l)
	}

	frames := c.zones.PurgeState()
	listeners := c.snapshotListeners()

	for _, l := range listeners {
		l.BeginFrameBlock()
	}

	for _, f := range frames {
		if f == nil {
			continue
		}
		c.publishFrame(listeners, f)
	}

	for _, l := range listeners {
		l.EndFrameBlock()
	}
}
