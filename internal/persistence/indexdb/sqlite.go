// Package indexdb maintains a SQLite read-model of engine activity:
// per-connection stats snapshots and an audit trail of sent messages.
// Writes go through a single background goroutine so the hot path only
// pays a channel send; the index never affects replication behavior.
package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"zonecast/internal/stats"
)

const queueDepth = 1024

type reqKind int

const (
	reqMessage reqKind = iota + 1
	reqConnStats
	reqEngineStats
)

type req struct {
	kind reqKind

	message    MessageRow
	connStats  ConnStatsRow
	engineStat stats.Snapshot
	at         int64
}

type MessageRow struct {
	Conn      string
	MessageID int
	Bytes     int
	Frames    int
	Time      int64
}

type ConnStatsRow struct {
	Conn           string
	PingNanos      int64
	Acks           int64
	AckMisses      int64
	AckMissPercent float64
}

type Index struct {
	log *zap.Logger
	db  *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

func Open(log *zap.Logger, path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		log: log.Named("indexdb"),
		db:  db,
		ch:  make(chan req, queueDepth),
	}
	idx.wg.Add(1)
	go idx.writer()
	return idx, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS messages (
    conn TEXT NOT NULL,
    message_id INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    frames INTEGER NOT NULL,
    time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conn ON messages(conn, time);

CREATE TABLE IF NOT EXISTS conn_stats (
    conn TEXT NOT NULL,
    ping_nanos INTEGER NOT NULL,
    acks INTEGER NOT NULL,
    ack_misses INTEGER NOT NULL,
    ack_miss_percent REAL NOT NULL,
    at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_stats (
    frames_published INTEGER NOT NULL,
    messages_sent INTEGER NOT NULL,
    bytes_sent INTEGER NOT NULL,
    messages_split INTEGER NOT NULL,
    history_overflows INTEGER NOT NULL,
    at INTEGER NOT NULL
);
`)
	return err
}

func (x *Index) submit(r req) {
	if x.closed.Load() {
		return
	}
	select {
	case x.ch <- r:
	default:
		// Indexing is best effort; never stall the engine.
		x.dropped.Add(1)
	}
}

func (x *Index) RecordMessage(row MessageRow) {
	x.submit(req{kind: reqMessage, message: row})
}

func (x *Index) RecordConnStats(row ConnStatsRow) {
	x.submit(req{kind: reqConnStats, connStats: row, at: time.Now().UnixNano()})
}

func (x *Index) RecordEngineStats(s stats.Snapshot) {
	x.submit(req{kind: reqEngineStats, engineStat: s, at: time.Now().UnixNano()})
}

// Dropped reports rows discarded because the queue was full.
func (x *Index) Dropped() int64 {
	return x.dropped.Load()
}

func (x *Index) writer() {
	defer x.wg.Done()
	for r := range x.ch {
		var err error
		switch r.kind {
		case reqMessage:
			_, err = x.db.Exec(
				`INSERT INTO messages (conn, message_id, bytes, frames, time) VALUES (?, ?, ?, ?, ?)`,
				r.message.Conn, r.message.MessageID, r.message.Bytes, r.message.Frames, r.message.Time)
		case reqConnStats:
			_, err = x.db.Exec(
				`INSERT INTO conn_stats (conn, ping_nanos, acks, ack_misses, ack_miss_percent, at) VALUES (?, ?, ?, ?, ?, ?)`,
				r.connStats.Conn, r.connStats.PingNanos, r.connStats.Acks,
				r.connStats.AckMisses, r.connStats.AckMissPercent, r.at)
		case reqEngineStats:
			_, err = x.db.Exec(
				`INSERT INTO engine_stats (frames_published, messages_sent, bytes_sent, messages_split, history_overflows, at) VALUES (?, ?, ?, ?, ?, ?)`,
				r.engineStat.FramesPublished, r.engineStat.MessagesSent, r.engineStat.BytesSent,
				r.engineStat.MessagesSplit, r.engineStat.HistoryOverflows, r.at)
		}
		if err != nil {
			x.log.Warn("index write failed", zap.Error(err))
		}
	}
}

// MessageCount is a read-model helper used by tests.
func (x *Index) MessageCount(conn string) (int, error) {
	var n int
	err := x.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conn = ?`, conn).Scan(&n)
	return n, err
}

func (x *Index) Close() error {
	var err error
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
		x.wg.Wait()
		err = x.db.Close()
	})
	return err
}

func (x *Index) String() string {
	return fmt.Sprintf("Index[dropped=%d]", x.dropped.Load())
}
