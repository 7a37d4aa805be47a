package host

import (
	"zonecast/internal/transport/observer"
)

// Connections implements observer.Source.
func (h *Host) Connections() []observer.ConnInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]observer.ConnInfo, 0, len(h.conns))
	for id, hc := range h.conns {
		out = append(out, observer.ConnInfo{
			ID:        id,
			Stats:     hc.listener.ConnectionStats().Snapshot(),
			ActiveIds: len(hc.listener.ActiveIds()),
		})
	}
	return out
}
