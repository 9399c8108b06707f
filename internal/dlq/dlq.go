// Package dlq keeps lines that could not be ingested in dated NDJSON files so
// they can be inspected and replayed.
package dlq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/telhawk-systems/homehawk/internal/eventfile"
)

const filePrefix = "rejected"

// Source values recorded with each entry.
const (
	SourceParse  = "parse"
	SourceUpsert = "upsert"
)

// Record is one rejected line.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	File      string    `json:"file,omitempty"`
	Line      string    `json:"line"`
	Reason    string    `json:"reason"`
}

// Queue appends rejected lines to <dir>/rejected-YYYY-MM-DD.ndjson. A nil
// *Queue is valid and drops everything.
type Queue struct {
	basePath string
	now      func() time.Time

	mu      sync.Mutex
	written uint64
}

// NewQueue creates a DLQ that writes to the specified directory.
func NewQueue(basePath string) (*Queue, error) {
	if basePath == "" {
		return nil, fmt.Errorf("dlq directory is required")
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &Queue{
		basePath: basePath,
		now:      time.Now,
	}, nil
}

// Write appends a rejected line.
func (q *Queue) Write(ctx context.Context, source, file string, line []byte, reason error) error {
	if q == nil {
		return nil
	}

	now := q.now().UTC()
	rec := Record{
		Timestamp: now,
		Source:    source,
		File:      file,
		Line:      string(line),
	}
	if reason != nil {
		rec.Reason = reason.Error()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}
	data = append(data, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.pathFor(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dlq file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write dlq record: %w", err)
	}

	q.written++
	return nil
}

// Written returns how many records this queue has appended.
func (q *Queue) Written() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// List returns the records of the file for day t, oldest first.
func (q *Queue) List(t time.Time, limit int) ([]Record, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.pathFor(t.UTC()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dlq file: %w", err)
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		if limit > 0 && len(records) >= limit {
			break
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("decode dlq record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (q *Queue) pathFor(t time.Time) string {
	return filepath.Join(q.basePath, eventfile.Name(filePrefix, t))
}
