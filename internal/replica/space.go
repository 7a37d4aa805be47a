package replica

import (
	"sync"

	"go.uber.org/zap"

	"zonecast/internal/stats"
	"zonecast/internal/wire"
)

// SharedObjectListener observes client-side object changes.  Callbacks
// arrive between BeginFrame and EndFrame on the goroutine applying
// inbound state.
type SharedObjectListener interface {
	BeginFrame(time int64)
	ObjectUpdated(obj *SharedObject)
	ObjectRemoved(obj *SharedObject)
	EndFrame()
}

// SharedObjectSpace is one participant's object table, keyed by network
// id.  A copy exists per client on the server and one in each client.
// Deltas are produced and interpreted against each object's baseline;
// baselines advance only when both endpoints have confirmed the state.
type SharedObjectSpace struct {
	log      *zap.Logger
	stats    *stats.Engine
	protocol *wire.Protocol

	objects map[uint16]*SharedObject

	mu        sync.Mutex
	toAdd     []SharedObjectListener
	toRemove  []SharedObjectListener
	listeners []SharedObjectListener
}

func NewSharedObjectSpace(log *zap.Logger, st *stats.Engine, protocol *wire.Protocol) *SharedObjectSpace {
	return &SharedObjectSpace{
		log:      log.Named("space"),
		stats:    st,
		protocol: protocol,
		objects:  make(map[uint16]*SharedObject),
	}
}

func (s *SharedObjectSpace) Protocol() *wire.Protocol {
	return s.protocol
}

// Object returns the shared object for a network id, creating it with
// the given entity id on first observation.
func (s *SharedObjectSpace) Object(networkID uint16, realID *int64) *SharedObject {
	o, ok := s.objects[networkID]
	if !ok {
		o = newSharedObject(s, networkID, realID)
		s.objects[networkID] = o
	}
	return o
}

// FindObject looks up without creating.
func (s *SharedObjectSpace) FindObject(networkID uint16) *SharedObject {
	return s.objects[networkID]
}

func (s *SharedObjectSpace) RemoveObject(o *SharedObject) {
	delete(s.objects, o.NetworkID())
}

// Objects returns the live table; callers iterate, they do not mutate.
func (s *SharedObjectSpace) Objects() map[uint16]*SharedObject {
	return s.objects
}

// AddObjectListener registers a listener; it takes effect at the next
// BeginFrame so a listener never sees an object before its frame open.
func (s *SharedObjectSpace) AddObjectListener(l SharedObjectListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toAdd = append(s.toAdd, l)
	s.toRemove = removeListener(s.toRemove, l)
}

func (s *SharedObjectSpace) RemoveObjectListener(l SharedObjectListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toRemove = append(s.toRemove, l)
	s.toAdd = removeListener(s.toAdd, l)
}

func removeListener(list []SharedObjectListener, l SharedObjectListener) []SharedObjectListener {
	for i, x := range list {
		if x == l {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// BeginFrame applies pending listener changes, then opens the frame on
// every listener.
func (s *SharedObjectSpace) BeginFrame(time int64) {
	s.mu.Lock()
	for _, l := range s.toAdd {
		s.listeners = append(s.listeners, l)
	}
	s.toAdd = s.toAdd[:0]
	for _, l := range s.toRemove {
		s.listeners = removeListener(s.listeners, l)
	}
	s.toRemove = s.toRemove[:0]
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.BeginFrame(time)
	}
}

func (s *SharedObjectSpace) objectUpdated(o *SharedObject) {
	for _, l := range s.listeners {
		l.ObjectUpdated(o)
	}
}

func (s *SharedObjectSpace) objectRemoved(o *SharedObject) {
	for _, l := range s.listeners {
		l.ObjectRemoved(o)
	}
}

func (s *SharedObjectSpace) EndFrame() {
	for _, l := range s.listeners {
		l.EndFrame()
	}
}

// UpdateBaseline folds a confirmed message's frames into the object
// baselines.  Unknown network ids are routine: duplicate state arrives
// often, including for objects already evicted.
func (s *SharedObjectSpace) UpdateBaseline(frames []*wire.FrameState) {
	for _, frame := range frames {
		for _, state := range frame.States {
			o := s.FindObject(state.NetworkID)
			if o == nil {
				continue
			}
			o.UpdateBaseline(frame.Time, state)
		}
	}
}
