// Package log persists the interaction history: every inbound command with
// its outcome and every flushed update batch, as zstd-compressed JSONL with
// hourly rotation. The log is analysis-only; nothing ever restores world
// state from it.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/world"
)

// Record is one interaction log line.
type Record struct {
	Kind    string                `json:"kind"` // "command" or "update"
	Time    time.Time             `json:"time"`
	Command *world.CommandRecord  `json:"command,omitempty"`
	Update  *protocol.UpdateBatch `json:"update,omitempty"`
}

const (
	KindCommand = "command"
	KindUpdate  = "update"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
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

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// InteractionLogger records commands and update batches. It satisfies both
// world.CommandRecorder and world.UpdateSink; the writer mutex makes the
// two call paths safe against each other.
type InteractionLogger struct {
	w      *JSONLZstdWriter
	errsMu sync.Mutex
	lastEr error
}

func NewInteractionLogger(dir string) *InteractionLogger {
	return &InteractionLogger{w: NewJSONLZstdWriter(dir, "interactions")}
}

func (l *InteractionLogger) RecordCommand(rec world.CommandRecord) {
	l.note(l.w.Write(Record{Kind: KindCommand, Time: rec.Time, Command: &rec}))
}

func (l *InteractionLogger) PushUpdate(batch protocol.UpdateBatch) {
	l.note(l.w.Write(Record{Kind: KindUpdate, Time: time.Now().UTC(), Update: &batch}))
}

func (l *InteractionLogger) Close() error { return l.w.Close() }

// Err returns the most recent write failure, if any. Write errors never
// propagate into the command path.
func (l *InteractionLogger) Err() error {
	l.errsMu.Lock()
	defer l.errsMu.Unlock()
	return l.lastEr
}

func (l *InteractionLogger) note(err error) {
	if err == nil {
		return
	}
	l.errsMu.Lock()
	l.lastEr = err
	l.errsMu.Unlock()
}

// ListFiles returns the interaction log files under dir, oldest first.
func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > len(".jsonl.zst") && filepath.Ext(name) == ".zst" {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

// ReadFile streams one log file's records through fn, stopping at the first
// error fn returns.
func ReadFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}
