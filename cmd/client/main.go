// Command client is a headless bot: it connects to a replication host
// over UDP and logs the objects it sees.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zonecast/internal/host"
	"zonecast/internal/replica"
	"zonecast/internal/transport"
	"zonecast/internal/transport/udp"
	"zonecast/internal/tuning"
	"zonecast/internal/wire"
)

type printListener struct {
	log *zap.Logger
}

func (p *printListener) BeginFrame(time int64) {}
func (p *printListener) EndFrame()             {}

func (p *printListener) ObjectUpdated(o *replica.SharedObject) {
	pos := o.WorldPosition()
	p.log.Info("object",
		zap.Uint16("networkId", o.NetworkID()),
		zap.Float64("x", pos.X),
		zap.Float64("y", pos.Y),
		zap.Float64("z", pos.Z))
}

func (p *printListener) ObjectRemoved(o *replica.SharedObject) {
	p.log.Info("object removed", zap.Uint16("networkId", o.NetworkID()))
}

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:7000", "server udp address")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (must match the server)")
		quiet      = flag.Bool("quiet", false, "suppress per-object logging")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("client")

	tune := tuning.Defaults()
	if strings.TrimSpace(*tuningPath) != "" {
		tune, err = tuning.Load(*tuningPath)
		if err != nil {
			log.Fatal("load tuning", zap.Error(err))
		}
	}

	conn, err := udp.Dial(log, *addr)
	if err != nil {
		log.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	c, err := host.NewClient(log, tune, conn)
	if err != nil {
		log.Fatal("build client", zap.Error(err))
	}
	if !*quiet {
		c.AddObjectListener(&printListener{log: log})
	}
	conn.SetReceiver(c.HandleInbound)

	// Any datagram introduces us to the server; replication starts when
	// the server sees our address.
	hello := &wire.ClientStateMessage{}
	if err := conn.Send(transport.ClassClientState, hello.Marshal()); err != nil {
		log.Fatal("hello", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			log.Info("shutting down")
			return
		case <-ticker.C:
			ts := c.TimeSource()
			log.Info("clock", zap.Int64("remoteTime", ts.Time()), zap.Int64("drift", ts.Drift()))
		}
	}
}
