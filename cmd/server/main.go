// Command server runs a demo replication host: a handful of wandering
// objects streamed over UDP (and optionally websocket) to any client
// that connects.
package main

import (
	"flag"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zonecast/internal/host"
	"zonecast/internal/mathd"
	"zonecast/internal/persistence/indexdb"
	"zonecast/internal/persistence/journal"
	"zonecast/internal/transport/observer"
	"zonecast/internal/transport/udp"
	"zonecast/internal/transport/wsbridge"
	"zonecast/internal/tuning"
)

func main() {
	var (
		udpAddr    = flag.String("udp", ":7000", "udp listen address")
		httpAddr   = flag.String("http", "127.0.0.1:7080", "http listen address for ws bridge + observer (empty to disable)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (empty: built-in defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		objects    = flag.Int("objects", 8, "demo objects to simulate")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("server")

	tune := tuning.Defaults()
	if strings.TrimSpace(*tuningPath) != "" {
		tune, err = tuning.Load(*tuningPath)
		if err != nil {
			log.Fatal("load tuning", zap.Error(err))
		}
	}

	opts := []host.Option{}
	if tune.JournalDir != "" {
		opts = append(opts, host.WithJournal(journal.NewWriter(tune.JournalDir, "messages")))
	}
	if !*disableDB {
		dbPath := tune.IndexDB
		if dbPath == "" {
			dbPath = filepath.Join(*dataDir, "index.db")
		}
		idx, err := indexdb.Open(log, dbPath)
		if err != nil {
			log.Fatal("open index db", zap.Error(err))
		}
		defer idx.Close()
		opts = append(opts, host.WithIndex(idx))
	}

	h, err := host.NewHost(log, tune, opts...)
	if err != nil {
		log.Fatal("build host", zap.Error(err))
	}

	var nextConn atomic.Int64

	// UDP ingress: each new remote address becomes a hosted connection
	// whose window follows the first demo object.
	udpServer, err := udp.Listen(log, *udpAddr, func(peer *udp.Peer) {
		id := peer.Addr().String()
		hc, err := h.AddConnection(id, peer)
		if err != nil {
			log.Warn("reject connection", zap.String("id", id), zap.Error(err))
			return
		}
		peer.SetReceiver(hc.HandleInbound)
		h.SetConnectionObject(hc, 1, mathd.Vec3d{})
		h.StartHosting(hc)
		log.Info("client connected", zap.String("id", id), zap.Int64("n", nextConn.Add(1)))
	})
	if err != nil {
		log.Fatal("udp listen", zap.Error(err))
	}
	defer udpServer.Close()
	log.Info("udp listening", zap.Stringer("addr", udpServer.Addr()))

	// Optional HTTP surface: websocket bridge plus the stats observer.
	if strings.TrimSpace(*httpAddr) != "" {
		ws := wsbridge.NewServer(log, func(conn *wsbridge.Conn) {
			id := "ws-" + time.Now().Format("150405.000000000")
			hc, err := h.AddConnection(id, conn)
			if err != nil {
				log.Warn("reject ws connection", zap.String("id", id), zap.Error(err))
				_ = conn.Close()
				return
			}
			conn.SetReceiver(hc.HandleInbound)
			h.SetConnectionObject(hc, 1, mathd.Vec3d{})
			h.StartHosting(hc)
		})
		obs := observer.NewServer(log, h, time.Second)

		mux := http.NewServeMux()
		mux.Handle("/v1/ws", ws.Handler())
		mux.Handle("/v1/observer/ws", obs.WSHandler())
		mux.Handle("/v1/observer/snapshot", obs.SnapshotHandler())
		go func() {
			if err := http.ListenAndServe(*httpAddr, mux); err != nil {
				log.Warn("http server stopped", zap.Error(err))
			}
		}()
		log.Info("http listening", zap.String("addr", *httpAddr))
	}

	h.Start()
	defer h.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Demo world: objects orbiting the origin at different radii.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			log.Info("shutting down")
			return
		case <-statsTicker.C:
			h.FlushStats()
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			h.BeginUpdate(now.UnixNano())
			for i := 0; i < *objects; i++ {
				id := int64(i + 1)
				r := 10 + float64(i)*6
				angle := t*(0.2+float64(i)*0.05) + float64(i)
				pos := mathd.Vec3d{
					X: math.Cos(angle) * r,
					Y: 0,
					Z: math.Sin(angle) * r,
				}
				h.UpdateEntity(id, pos, mathd.QuatIdentity(), mathd.NewAaBBox(pos, 1))
			}
			h.EndUpdate()
		}
	}
}
