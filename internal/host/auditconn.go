package host

import (
	"encoding/binary"

	"zonecast/internal/persistence/indexdb"
	"zonecast/internal/persistence/journal"
	"zonecast/internal/transport"
)

// auditConn wraps a connection and records every outbound object-state
// message to the journal and index DB before passing it through.
type auditConn struct {
	host *Host
	id   string
	next transport.Conn
}

func (c *auditConn) Send(class transport.Class, payload []byte) error {
	if class == transport.ClassObjectState && len(payload) >= 10 {
		messageID := int(binary.BigEndian.Uint16(payload))
		sentAt := int64(binary.BigEndian.Uint64(payload[2:]))

		if c.host.journal != nil {
			_ = c.host.journal.Write(journal.MessageRecord{
				Conn:      c.id,
				MessageID: messageID,
				Bytes:     len(payload),
				Time:      sentAt,
			})
		}
		if c.host.index != nil {
			c.host.index.RecordMessage(indexdb.MessageRow{
				Conn:      c.id,
				MessageID: messageID,
				Bytes:     len(payload),
				Time:      sentAt,
			})
		}
	}
	return c.next.Send(class, payload)
}

func (c *auditConn) Close() error {
	return c.next.Close()
}
