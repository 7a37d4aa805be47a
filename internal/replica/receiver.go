package replica

import (
	"time"

	"go.uber.org/zap"

	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// StateReceiver is the client side of the replication engine: it decodes
// inbound ObjectStateMessages, immediately acknowledges each one,
// applies frame deltas to the local shared object space, and advances
// baselines when the server's double-ACK arrives.
type StateReceiver struct {
	log      *zap.Logger
	stats    *stats.Engine
	conn     transport.Conn
	protocol *wire.Protocol

	space     *SharedObjectSpace
	zoneIndex *LocalZoneIndex
	grid      *zone.Grid

	timeSource *RemoteTimeSource

	// receivedStates retains inbound messages in id order until the
	// server confirms it saw our acknowledgement of them.
	receivedStates []*wire.SentState

	lastFrameTime int64

	// scratch lists for recentering.
	entered []zone.Key
	exited  []zone.Key
}

func NewStateReceiver(log *zap.Logger, st *stats.Engine, conn transport.Conn, zoneIndex *LocalZoneIndex, space *SharedObjectSpace) *StateReceiver {
	return &StateReceiver{
		log:        log.Named("receiver"),
		stats:      st,
		conn:       conn,
		protocol:   space.Protocol(),
		space:      space,
		zoneIndex:  zoneIndex,
		grid:       zoneIndex.Grid(),
		timeSource: NewRemoteTimeSource(log, SystemTime, DefaultRemoteOffset),
	}
}

func (r *StateReceiver) TimeSource() SynchedTimeSource {
	return r.timeSource
}

// HandleMessage processes one inbound server message.  Called from the
// transport ingress goroutine.
func (r *StateReceiver) HandleMessage(msg *wire.ObjectStateMessage) error {
	r.timeSource.Update(msg)

	// Acknowledge before anything else.  Because an ACK goes out for
	// every message, a single id suffices; no running ack set is needed
	// on this side.
	ack := &wire.ClientStateMessage{AckID: msg.ID, Time: msg.Time}
	if err := r.conn.Send(transport.ClassClientState, ack.Marshal()); err != nil {
		r.log.Warn("ack send failed", zap.Int("messageId", msg.ID), zap.Error(err))
	}

	state, err := msg.UnpackState(r.protocol)
	if err != nil {
		return err
	}
	r.insertReceived(state)

	r.processAcks(state.Acked)

	// Apply the frames in time order.  Older frames than what we have
	// already applied are stale.
	for _, frame := range state.Frames {
		if frame.Time < r.lastFrameTime {
			continue
		}
		r.lastFrameTime = frame.Time

		if local := r.timeSource.Time(); local != 0 {
			if d := frame.Time - local; d > int64(time.Second) || d < -int64(time.Second) {
				r.log.Warn("server frame time diverges from local clock",
					zap.Int64("frameTime", frame.Time),
					zap.Int64("localTime", local))
			}
		}

		r.space.BeginFrame(frame.Time)

		// Track the server's view center so local zone ids resolve
		// against the window that produced them.
		center := r.grid.FromLongID(frame.ColumnID)
		r.zoneIndex.SetCenter(center, &r.entered, &r.exited)

		for _, objectState := range frame.States {
			var so *SharedObject
			if objectState.RealID != nil {
				so = r.space.Object(objectState.NetworkID, objectState.RealID)
			} else {
				so = r.space.FindObject(objectState.NetworkID)
				if so == nil {
					// Either an update preceding any baseline with a
					// realId, or an update for an object evicted just
					// before.  Brief occurrences around evictions are
					// normal.
					r.log.Warn("network id lookup returned nil",
						zap.Stringer("state", objectState),
						zap.Int("messageId", state.MessageID))
					r.stats.UnknownNetworkIDs.Add(1)
					continue
				}
			}

			if so.ApplyNetworkState(frame.Time, objectState, r.zoneIndex) {
				if so.IsFullyMarkedRemoved() {
					// Removal confirmed in both views; stop tracking.
					r.space.RemoveObject(so)
				}
			}
		}

		r.space.EndFrame()
	}

	return nil
}

// insertReceived keeps receivedStates ordered by wraparound id.
func (r *StateReceiver) insertReceived(s *wire.SentState) {
	i := len(r.receivedStates)
	for i > 0 && wire.IsBefore(s.MessageID, r.receivedStates[i-1].MessageID) {
		i--
	}
	r.receivedStates = append(r.receivedStates, nil)
	copy(r.receivedStates[i+1:], r.receivedStates[i:])
	r.receivedStates[i] = s
}

// processAcks promotes baselines for every double-acknowledged message.
// Every acked id was announced by us, so each is guaranteed present
// unless already processed: the server resends ids until we confirm, so
// duplicates are routine and idempotent.
func (r *StateReceiver) processAcks(acked []wire.IntRange) {
	for _, rng := range acked {
		for id := rng.Min; id <= rng.Max; id++ {
			sentState := r.ackReceivedState(id)
			if sentState == nil {
				// Already processed; the server keeps repeating the
				// double-ACK until it sees our ack of it.
				continue
			}
			r.space.UpdateBaseline(sentState.Frames)
		}
	}
}

// ackReceivedState removes and returns the retained message for the id.
// Entries older than the id are superseded or lost and are dropped; a
// nil return means the id was already processed.
func (r *StateReceiver) ackReceivedState(messageID int) *wire.SentState {
	for len(r.receivedStates) > 0 {
		s := r.receivedStates[0]
		if s.IsBefore(messageID) {
			r.log.Debug("skipping stale received state",
				zap.Int("messageId", s.MessageID),
				zap.Int("ackedId", messageID))
			r.receivedStates = r.receivedStates[1:]
			continue
		}
		if s.MessageID == messageID {
			r.receivedStates = r.receivedStates[1:]
			return s
		}
		return nil
	}
	return nil
}
