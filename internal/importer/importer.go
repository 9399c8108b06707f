// Package importer loads historical event files into the document store, one
// bulk upsert per file.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/telhawk-systems/homehawk/internal/dlq"
	"github.com/telhawk-systems/homehawk/internal/event"
	"github.com/telhawk-systems/homehawk/internal/eventfile"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/metrics"
	"github.com/telhawk-systems/homehawk/internal/storage"
	"github.com/telhawk-systems/homehawk/internal/transform"
)

// ErrBulk marks a file whose documents could not be sent to the store.
var ErrBulk = errors.New("bulk upsert failed")

// Store is the bulk side of the document store.
type Store interface {
	BulkUpsert(ctx context.Context, docs []storage.Document) (*storage.BulkResult, error)
}

// FileResult reports what happened to one file.
type FileResult struct {
	Path     string   `json:"path"`
	Index    string   `json:"index"`
	Parsed   int      `json:"parsed"`
	Rejected int      `json:"rejected"`
	Indexed  int      `json:"indexed"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	// Err is set when the file could not be read or sent at all.
	Err string `json:"error,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	Files    []FileResult `json:"files"`
	Parsed   int          `json:"parsed"`
	Rejected int          `json:"rejected"`
	Indexed  int          `json:"indexed"`
	Failed   int          `json:"failed"`
}

func (s *Summary) add(r FileResult) {
	s.Files = append(s.Files, r)
	s.Parsed += r.Parsed
	s.Rejected += r.Rejected
	s.Indexed += r.Indexed
	s.Failed += r.Failed
}

// Importer is safe to reuse across runs but runs files sequentially.
type Importer struct {
	store        Store
	transformer  *transform.Transformer
	indexPrefix  string
	maxLineBytes int
	dlq          *dlq.Queue
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithDLQ records rejected lines in q.
func WithDLQ(q *dlq.Queue) Option {
	return func(i *Importer) { i.dlq = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

// WithMaxLineBytes caps the size of a single line.
func WithMaxLineBytes(n int) Option {
	return func(i *Importer) { i.maxLineBytes = n }
}

// WithClock overrides the clock used for files without a date token.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

func New(store Store, tr *transform.Transformer, indexPrefix string, opts ...Option) *Importer {
	i := &Importer{
		store:       store,
		transformer: tr,
		indexPrefix: indexPrefix,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrDefault(i.logger)
	return i
}

// Run imports every file matching pattern in sorted name order. Patterns may
// use "**". Per-line and per-document failures are reported in the summary;
// only storage.ErrUnavailable aborts the run.
func (i *Importer) Run(ctx context.Context, pattern string) (*Summary, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	summary := &Summary{}
	if len(paths) == 0 {
		i.logger.WarnContext(ctx, "no event files matched", slog.String("pattern", pattern))
		return summary, nil
	}

	i.logger.InfoContext(ctx, "starting import", slog.String("pattern", pattern), logging.Count(len(paths)))

	for _, path := range paths {
		res, err := i.ImportFile(ctx, path)
		summary.add(res)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrUnavailable):
				return summary, err
			case errors.Is(err, ErrBulk):
				i.logger.ErrorContext(ctx, "bulk upsert failed, skipping file", logging.File(path), logging.Error(err))
			default:
				i.logger.ErrorContext(ctx, "skipping unreadable file", logging.File(path), logging.Error(err))
			}
		}
	}

	i.logger.InfoContext(ctx, "import finished",
		slog.Int("files", len(summary.Files)),
		slog.Int("parsed", summary.Parsed),
		slog.Int("rejected", summary.Rejected),
		slog.Int("indexed", summary.Indexed),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// ImportFile parses, transforms and bulk upserts a single file.
func (i *Importer) ImportFile(ctx context.Context, path string) (FileResult, error) {
	res := FileResult{
		Path:  path,
		Index: eventfile.IndexName(i.indexPrefix, path, i.now()),
	}

	f, err := os.Open(path)
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var docs []storage.Document
	r := eventfile.NewReader(f, i.maxLineBytes)
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, eventfile.ErrLineTooLong) {
			res.Err = err.Error()
			return res, fmt.Errorf("read %s: %w", path, err)
		}

		var result transform.Result
		if err == nil {
			result, err = i.transformer.TransformLine(line)
		}
		if err != nil {
			res.Rejected++
			i.reject(ctx, path, r.LineNumber(), line, err)
			continue
		}

		res.Parsed++
		metrics.LinesTotal.WithLabelValues(metrics.ModeImport, "parsed").Inc()
		docs = append(docs, storage.Document{
			Index: res.Index,
			ID:    result.ID,
			Body:  result.Document,
		})
	}

	if len(docs) == 0 {
		i.logger.InfoContext(ctx, "no documents in file", logging.File(path), slog.Int("rejected", res.Rejected))
		return res, nil
	}

	start := time.Now()
	bulk, err := i.store.BulkUpsert(ctx, docs)
	metrics.BulkDuration.Observe(time.Since(start).Seconds())
	if bulk != nil {
		res.Indexed = bulk.Indexed
		res.Failed = bulk.Failed
		res.Errors = bulk.Errors
		metrics.DocumentsTotal.WithLabelValues(metrics.ModeImport, "indexed").Add(float64(bulk.Indexed))
		metrics.DocumentsTotal.WithLabelValues(metrics.ModeImport, "failed").Add(float64(bulk.Failed))
	}
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("%w for %s: %w", ErrBulk, path, err)
	}

	attrs := []any{
		logging.File(path),
		logging.Index(res.Index),
		slog.Int("parsed", res.Parsed),
		slog.Int("rejected", res.Rejected),
		slog.Int("indexed", res.Indexed),
		slog.Int("failed", res.Failed),
	}
	if res.Failed > 0 {
		i.logger.WarnContext(ctx, "some documents failed to index", append(attrs, slog.Any("errors", res.Errors))...)
	} else {
		i.logger.InfoContext(ctx, "file imported", attrs...)
	}
	return res, nil
}

func (i *Importer) reject(ctx context.Context, path string, lineNum int, line []byte, err error) {
	metrics.LinesTotal.WithLabelValues(metrics.ModeImport, "rejected").Inc()
	i.logger.WarnContext(ctx, "skipping malformed line",
		logging.File(path),
		logging.Line(lineNum),
		slog.String(logging.FieldPreview, event.Preview(line)),
		logging.Error(err))

	if dlqErr := i.dlq.Write(ctx, dlq.SourceParse, path, line, err); dlqErr != nil {
		i.logger.ErrorContext(ctx, "failed to write dead-letter record", logging.File(path), logging.Error(dlqErr))
	}
}
