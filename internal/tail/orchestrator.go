// Package tail follows the current day's event file and upserts each new line
// as it is appended.
package tail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/telhawk-systems/homehawk/internal/dlq"
	"github.com/telhawk-systems/homehawk/internal/event"
	"github.com/telhawk-systems/homehawk/internal/eventfile"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/metrics"
	"github.com/telhawk-systems/homehawk/internal/storage"
	"github.com/telhawk-systems/homehawk/internal/transform"
)

// State is the orchestrator's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateWatchingForFile
	StateTailing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatchingForFile:
		return "watching_for_file"
	case StateTailing:
		return "tailing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the tail settings.
type Config struct {
	Dir          string
	FilePrefix   string
	IndexPrefix  string
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	DrainTimeout time.Duration
	MaxLineBytes int
}

// Orchestrator watches Config.Dir for the dated event file of the current
// day, tails it, and moves on to the next day's file when it appears.
type Orchestrator struct {
	cfg         Config
	store       Store
	transformer *transform.Transformer
	dlq         *dlq.Queue
	logger      *slog.Logger
	now         func() time.Time

	state      atomic.Int32
	targetPath atomic.Value

	// Owned by the Run goroutine.
	target string
	tail   *tailer
	pool   *Pool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDLQ records rejected lines and failed upserts in q.
func WithDLQ(q *dlq.Queue) Option {
	return func(o *Orchestrator) { o.dlq = q }
}

// WithClock overrides the clock that decides which day's file is current.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(cfg Config, store Store, tr *transform.Transformer, opts ...Option) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		transformer: tr,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

// State returns the current lifecycle state. Safe to call from any goroutine.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Target returns the file currently tailed or waited for.
func (o *Orchestrator) Target() string {
	p, _ := o.targetPath.Load().(string)
	return p
}

func (o *Orchestrator) setState(ctx context.Context, s State) {
	if prev := State(o.state.Swap(int32(s))); prev != s {
		o.logger.InfoContext(ctx, "tail state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
			logging.File(o.target))
	}
}

// Run blocks until ctx is cancelled. On cancellation it stops reacting to
// filesystem events, waits for queued upserts (bounded by DrainTimeout) and
// then releases the watcher. Only setup failures are returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := os.MkdirAll(o.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(o.cfg.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", o.cfg.Dir, err)
	}

	o.pool = NewPool(o.store, o.cfg.Workers, o.cfg.QueueSize, o.dlq, o.logger)

	o.retarget(ctx, eventfile.Path(o.cfg.Dir, o.cfg.FilePrefix, o.now()), true)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.loop(ctx, watcher, ticker.C)

	o.logger.InfoContext(ctx, "shutting down tail, draining upserts")
	if err := o.pool.Close(o.cfg.DrainTimeout); err != nil {
		o.logger.WarnContext(ctx, "upserts abandoned at shutdown", logging.Error(err))
	}
	if err := watcher.Close(); err != nil {
		o.logger.WarnContext(ctx, "failed to close watcher", logging.Error(err))
	}
	o.tail = nil
	o.setState(ctx, StateStopped)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, watcher *fsnotify.Watcher, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			o.handleFSEvent(ctx, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.logger.WarnContext(ctx, "watch error", logging.Error(err))
		case <-tick:
			o.poll(ctx)
		}
	}
}

func (o *Orchestrator) handleFSEvent(ctx context.Context, ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	if !eventfile.IsEventFile(o.cfg.FilePrefix, name) {
		return
	}

	if name == o.target {
		switch {
		case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
			o.logger.WarnContext(ctx, "tailed file went away", logging.File(name))
			o.tail = nil
			o.setState(ctx, StateWatchingForFile)
		case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
			if o.tail == nil {
				o.startTail(ctx, false)
			}
			o.read(ctx)
		}
		return
	}

	// A later day's file showed up before our clock rolled over.
	if ev.Has(fsnotify.Create) && newer(name, o.target) {
		o.retarget(ctx, name, false)
	}
}

// poll catches day rollover and fsnotify events that were missed.
func (o *Orchestrator) poll(ctx context.Context) {
	today := eventfile.Path(o.cfg.Dir, o.cfg.FilePrefix, o.now())
	if newer(today, o.target) {
		o.retarget(ctx, today, false)
		return
	}

	if o.tail == nil {
		o.startTail(ctx, false)
	}
	if o.tail != nil {
		o.read(ctx)
	}
}

// retarget drains the current file and switches to path. A file found at
// startup is tailed from its end; any later file is read from the start.
func (o *Orchestrator) retarget(ctx context.Context, path string, atStartup bool) {
	if o.tail != nil {
		o.read(ctx)
		o.logger.InfoContext(ctx, "rolling over to next event file",
			slog.String("previous", o.target), logging.File(path))
	}

	o.target = path
	o.tail = nil
	if o.State() == StateIdle || o.State() == StateTailing {
		o.setState(ctx, StateWatchingForFile)
	}
	o.targetPath.Store(path)
	o.startTail(ctx, atStartup)
	if o.tail != nil && !atStartup {
		o.read(ctx)
	}
}

// startTail moves to Tailing if the target exists.
func (o *Orchestrator) startTail(ctx context.Context, fromEnd bool) {
	t, err := newTailer(o.target, fromEnd, o.cfg.MaxLineBytes)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			o.logger.WarnContext(ctx, "cannot open event file", logging.File(o.target), logging.Error(err))
		}
		return
	}
	o.tail = t
	o.setState(ctx, StateTailing)
}

func (o *Orchestrator) read(ctx context.Context) {
	lines, err := o.tail.readNew()
	for _, l := range lines {
		o.process(ctx, l)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.tail = nil
			o.setState(ctx, StateWatchingForFile)
			return
		}
		o.logger.WarnContext(ctx, "tail read error", logging.File(o.target), logging.Error(err))
	}
}

func (o *Orchestrator) process(ctx context.Context, l lineResult) {
	var (
		res transform.Result
		err = l.err
	)
	if err == nil {
		res, err = o.transformer.TransformLine(l.line)
	}
	if err != nil {
		metrics.LinesTotal.WithLabelValues(metrics.ModeTail, "rejected").Inc()
		o.logger.WarnContext(ctx, "skipping malformed line",
			logging.File(o.target),
			slog.String(logging.FieldPreview, event.Preview(l.line)),
			logging.Error(err))
		if dlqErr := o.dlq.Write(ctx, dlq.SourceParse, o.target, l.line, err); dlqErr != nil {
			o.logger.ErrorContext(ctx, "failed to write dead-letter record", logging.Error(dlqErr))
		}
		return
	}
	metrics.LinesTotal.WithLabelValues(metrics.ModeTail, "parsed").Inc()

	doc := storage.Document{
		Index: eventfile.IndexName(o.cfg.IndexPrefix, o.target, o.now()),
		ID:    res.ID,
		Body:  res.Document,
	}
	// Lines that cannot be queued before shutdown are dead-lettered.
	if err := o.pool.Submit(ctx, doc, l.line); err != nil {
		metrics.DocumentsTotal.WithLabelValues(metrics.ModeTail, "failed").Inc()
		o.logger.ErrorContext(ctx, "failed to queue upsert", logging.DocID(doc.ID), logging.Error(err))
		if dlqErr := o.dlq.Write(context.WithoutCancel(ctx), dlq.SourceUpsert, o.target, l.line, err); dlqErr != nil {
			o.logger.ErrorContext(ctx, "failed to write dead-letter record", logging.Error(dlqErr))
		}
	}
}

// newer reports whether a's date token sorts after b's.
func newer(a, b string) bool {
	ta, ok := eventfile.DateToken(a)
	if !ok {
		return false
	}
	tb, ok := eventfile.DateToken(b)
	if !ok {
		return true
	}
	return ta > tb
}
