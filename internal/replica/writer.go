package replica

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// ErrNoOpenMessage is raised when frame state arrives with no message
// open; it indicates a prior invariant violation.
var ErrNoOpenMessage = errors.New("replica: no open outbound message")

// Fixed per-datagram overheads subtracted from the MTU.
const (
	udpHeaderBytes       = 50
	transportHeaderBytes = 5
)

// DefaultMTU is the assumed path MTU when none is configured.
const DefaultMTU = 1500

// ackHealthLimit is the received-ack population beyond the expected
// send-vs-ack lag that triggers a health warning.  The set only grows on
// client contact, and every contact also clears confirmed entries, so a
// healthy connection stays near empty.
const ackHealthLimit = 128

// StateWriter buffers per-frame object state, splits it into MTU-sized
// messages, retains every sent message until acknowledged, and carries
// the double-ACK ranges in each outbound header.
type StateWriter struct {
	log      *zap.Logger
	stats    *stats.Engine
	conn     transport.Conn
	protocol *wire.Protocol
	time     TimeSource

	// sentStates holds unacknowledged messages in send order.
	sentStates []*wire.SentState

	// receivedAcks is the set of inbound message ids seen but not yet
	// confirmed by the peer's acknowledgement of our acknowledgement.
	receivedAcks wire.RangeSet

	nextMessageID int

	bufferSize int // bytes available per message after fixed overheads

	outbound      *wire.SentState
	headerBits    int
	estimatedSize int64

	currentFrame   *wire.FrameState
	frameTime      int64
	legacySequence int64
	centerZoneID   int64
	frameOpen      bool
}

func NewStateWriter(log *zap.Logger, st *stats.Engine, conn transport.Conn, protocol *wire.Protocol, time TimeSource) *StateWriter {
	w := &StateWriter{
		log:      log.Named("writer"),
		stats:    st,
		conn:     conn,
		protocol: protocol,
		time:     time,
	}
	w.SetMaxMessageSize(DefaultMTU)
	return w
}

// SetMaxMessageSize adjusts the target message size.  Keeping it under
// the path MTU avoids transport-level fragmentation, where the loss of
// any fragment loses the whole datagram.
func (w *StateWriter) SetMaxMessageSize(mtu int) {
	w.bufferSize = mtu - udpHeaderBytes - transportHeaderBytes
}

func (w *StateWriter) MaxMessageSize() int {
	return w.bufferSize + udpHeaderBytes + transportHeaderBytes
}

// AckSentState processes an inbound ACK for messageId.  Retained
// messages older than it are superseded and dropped; on a match, every
// ack range the matched message carried is cleared from receivedAcks
// (the peer confirmed seeing them), the id joins receivedAcks, and the
// matched message is returned so the caller can promote its frames to
// the baseline.  A stale or unknown id returns nil.
func (w *StateWriter) AckSentState(messageID int) *wire.SentState {
	for len(w.sentStates) > 0 {
		s := w.sentStates[0]

		if s.MessageID == messageID {
			for _, r := range s.Acked {
				for id := r.Min; id <= r.Max; id++ {
					w.receivedAcks.Remove(id)
				}
			}
			w.receivedAcks.Add(messageID)
			w.sentStates = w.sentStates[1:]
			return s
		}

		if wire.IsBefore(messageID, s.MessageID) {
			// The target is older than everything retained: a stale or
			// out-of-order ACK.
			return nil
		}

		// This entry is older than the target; the state it carried is
		// superseded and will be resent by lack of acknowledgement.
		w.sentStates = w.sentStates[1:]
	}
	return nil
}

// StartFrame closes any open frame and begins accumulating state for a
// new frame time centered on the given zone.
func (w *StateWriter) StartFrame(time int64, center zone.Key) error {
	if err := w.endFrame(); err != nil {
		return err
	}
	if err := w.startMessage(); err != nil {
		return err
	}

	w.frameTime = time
	w.frameOpen = true
	if center.IsZero() {
		w.centerZoneID = -1
	} else {
		w.centerZoneID = center.ToLongID()
	}
	w.legacySequence = time &^ 0xff
	return nil
}

// AddState appends a delta to the current frame, opening the frame
// lazily.
func (w *StateWriter) AddState(state *wire.ObjectState) error {
	if w.currentFrame == nil {
		if !w.frameOpen {
			return fmt.Errorf("replica: frame not started")
		}
		w.currentFrame = wire.NewFrameState(w.frameTime, w.legacySequence, w.centerZoneID)
		w.legacySequence++
	}
	return w.currentFrame.AddState(state, w.protocol)
}

func (w *StateWriter) startMessage() error {
	if w.outbound != nil {
		return nil
	}

	// The watchdog from the original protocol: the set only grows when
	// the client talks to us, and each message from the client empties
	// the confirmed part, so sustained growth means something is wrong.
	if n := w.receivedAcks.Count() - len(w.sentStates); n >= ackHealthLimit {
		w.log.Warn("receivedAcks set is unhealthy", zap.Int("count", n))
	}
	if w.receivedAcks.RangeCount() > 0xff {
		return fmt.Errorf("%w: %d", wire.ErrAckOverflow, w.receivedAcks.RangeCount())
	}

	acked := append([]wire.IntRange(nil), w.receivedAcks.Ranges()...)
	w.outbound = wire.NewSentState(-1, acked, nil)
	w.headerBits = w.outbound.EstimatedHeaderBits()
	if w.headerBits >= w.bufferSize*8 {
		return fmt.Errorf("replica: ack header (%d bits) exceeds buffer (%d bytes)", w.headerBits, w.bufferSize)
	}
	// The +1 reserves the frame list's terminating marker bit.
	w.estimatedSize = int64(w.headerBits) + 1
	return nil
}

// endFrame places the accumulated frame into the open message, splitting
// across messages when it cannot fit.
func (w *StateWriter) endFrame() error {
	if w.currentFrame == nil {
		w.frameOpen = false
		return nil
	}
	if w.outbound == nil {
		return ErrNoOpenMessage
	}

	// The extra bit is the frame's continuation marker.
	frameSize := w.currentFrame.EstimatedBitSize() + 1
	bitsRemaining := int64(w.bufferSize*8) - w.estimatedSize
	if frameSize < bitsRemaining {
		w.outbound.Frames = append(w.outbound.Frames, w.currentFrame)
		w.estimatedSize += frameSize
		w.currentFrame = nil
		w.frameOpen = false
		return nil
	}

	frame := w.currentFrame
	for frame != nil {
		if len(w.outbound.Frames) > 0 {
			if err := w.endMessage(); err != nil {
				return err
			}
		}
		if err := w.startMessage(); err != nil {
			return err
		}
		bitsRemaining = int64(w.bufferSize*8) - w.estimatedSize

		tail, err := frame.Split(bitsRemaining-1, w.protocol)
		if err != nil {
			return err
		}

		w.outbound.Frames = append(w.outbound.Frames, frame)
		w.estimatedSize += frame.EstimatedBitSize() + 1

		if tail != nil {
			w.stats.MessagesSplit.Add(1)
		}
		frame = tail
	}

	w.currentFrame = nil
	w.frameOpen = false
	return nil
}

// endMessage stamps the open message with the next id, retains it for
// acknowledgement matching, and hands it to the transport.
func (w *StateWriter) endMessage() error {
	id := w.nextMessageID
	w.nextMessageID = wire.NextMessageID(w.nextMessageID)

	w.outbound.MessageID = id
	w.outbound.Created = w.time.Time()

	buf, err := w.outbound.ToBytes(w.protocol)
	if err != nil {
		return err
	}
	msg := &wire.ObjectStateMessage{ID: id, Time: w.outbound.Created, Buffer: buf}

	w.sentStates = append(w.sentStates, w.outbound)
	w.outbound = nil

	payload := msg.Marshal()
	w.stats.MessagesSent.Add(1)
	w.stats.BytesSent.Add(int64(len(payload)))
	return w.conn.Send(transport.ClassObjectState, payload)
}

// Flush ends the open frame and sends the open message, if any.
func (w *StateWriter) Flush() error {
	if err := w.endFrame(); err != nil {
		return err
	}
	if w.outbound == nil {
		return nil
	}
	return w.endMessage()
}
