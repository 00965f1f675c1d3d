package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log is the append-only record of every submission attempt. Appends are
// serialized and fsynced before they count; a write failure is fatal to the
// calling cycle, never silent.
type Log struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *zap.Logger
	mirror *Mirror
}

// Option customises the log.
type Option func(*Log)

// WithMirror attaches a best-effort Redis stream mirror.
func WithMirror(m *Mirror) Option {
	return func(l *Log) { l.mirror = m }
}

// Open opens (creating if needed) the audit file for appending.
func Open(path string, logger *zap.Logger, opts ...Option) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := &Log{path: path, f: f, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append durably persists one record, then mirrors it best-effort. Records
// land in the order their cycles reach this call.
func (l *Log) Append(ctx context.Context, rec Record) error {
	l.mu.Lock()
	err := func() error {
		w := csv.NewWriter(l.f)
		if err := w.Write(rec.fields()); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush audit record: %w", err)
		}
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("sync audit log: %w", err)
		}
		return nil
	}()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	if l.mirror != nil {
		l.mirror.Publish(ctx, rec)
	}
	return nil
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Statuses []Status
	From     time.Time
	To       time.Time
	TopicID  *uint64
}

func (f Filter) match(rec Record) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	if f.TopicID != nil && rec.TopicID != *f.TopicID {
		return false
	}
	return true
}

// Query streams matching records to fn in file order. fn returning false
// stops the scan early.
func (l *Log) Query(filter Filter, fn func(Record) bool) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	// Tolerate additional trailing fields written by newer versions.
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audit log: %w", err)
		}
		rec, perr := parseRecord(row)
		if perr != nil {
			l.logger.Warn("skipping malformed audit row", zap.Error(perr))
			continue
		}
		if !filter.match(rec) {
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
}

// HasActiveSubmission reports whether a confirmed or submitted record exists
// for the nonce. This is the sole source of truth for duplicate detection.
func (l *Log) HasActiveSubmission(topicID uint64, workerAddr string, nonce uint64) (bool, error) {
	found := false
	err := l.Query(Filter{}, func(rec Record) bool {
		if rec.TopicID == topicID && rec.WorkerAddr == workerAddr && rec.Nonce == nonce && rec.Active() {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Close closes the underlying file and mirror.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mirror != nil {
		_ = l.mirror.Close()
	}
	return l.f.Close()
}
