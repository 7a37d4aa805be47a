package host

import (
	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/replica"
	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/tuning"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// Client is the receiving side of the engine: it mirrors the slice of
// the world the server streams at it into a local shared object space.
// Tuning must match the server's.
type Client struct {
	log   *zap.Logger
	stats *stats.Engine

	protocol  *wire.Protocol
	grid      *zone.Grid
	zoneIndex *replica.LocalZoneIndex
	space     *replica.SharedObjectSpace
	receiver  *replica.StateReceiver
}

func NewClient(log *zap.Logger, tune tuning.Tuning, conn transport.Conn) (*Client, error) {
	if err := tune.Validate(); err != nil {
		return nil, err
	}

	grid := zone.NewGrid(mathd.Vec3i{X: tune.ZoneSize[0], Y: tune.ZoneSize[1], Z: tune.ZoneSize[2]})
	st := stats.NewEngine()
	protocol := protocolFrom(tune)

	c := &Client{
		log:      log.Named("client"),
		stats:    st,
		protocol: protocol,
		grid:     grid,
	}
	c.zoneIndex = replica.NewLocalZoneIndex(grid,
		mathd.Vec3i{X: tune.ZoneRadius[0], Y: tune.ZoneRadius[1], Z: tune.ZoneRadius[2]})
	c.space = replica.NewSharedObjectSpace(log, st, protocol)
	c.receiver = replica.NewStateReceiver(log, st, conn, c.zoneIndex, c.space)
	return c, nil
}

func (c *Client) Space() *replica.SharedObjectSpace {
	return c.space
}

func (c *Client) TimeSource() replica.SynchedTimeSource {
	return c.receiver.TimeSource()
}

func (c *Client) AddObjectListener(l replica.SharedObjectListener) {
	c.space.AddObjectListener(l)
}

func (c *Client) RemoveObjectListener(l replica.SharedObjectListener) {
	c.space.RemoveObjectListener(l)
}

// HandleInbound routes one received frame; install it as the
// connection's transport receiver.
func (c *Client) HandleInbound(class transport.Class, payload []byte) {
	if class != transport.ClassObjectState {
		return
	}
	msg, err := wire.UnmarshalObjectStateMessage(payload)
	if err != nil {
		c.log.Warn("bad object state message", zap.Error(err))
		return
	}
	if err := c.receiver.HandleMessage(msg); err != nil {
		c.log.Warn("state apply failed", zap.Int("messageId", msg.ID), zap.Error(err))
	}
}
