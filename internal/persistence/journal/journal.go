// Package journal appends engine records as zstd-compressed JSONL,
// rotated hourly.  Used for after-the-fact replay and bandwidth
// diagnosis of the replication stream.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type Writer struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{baseDir: baseDir, prefix: prefix}
}

// MessageRecord journals one outbound datagram.
type MessageRecord struct {
	Conn      string `json:"conn"`
	MessageID int    `json:"message_id"`
	Bytes     int    `json:"bytes"`
	Frames    int    `json:"frames"`
	Time      int64  `json:"time"`
}

// AckRecord journals one inbound acknowledgement.
type AckRecord struct {
	Conn      string `json:"conn"`
	AckID     int    `json:"ack_id"`
	PingNanos int64  `json:"ping_nanos"`
	Time      int64  `json:"time"`
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, w.prefix+"-"+hour+".jsonl.zst")
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		err2 := w.f.Close()
		w.f = nil
		if err1 == nil {
			err1 = err2
		}
	}
	w.curHour = ""
	return err1
}
