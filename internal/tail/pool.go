package tail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/homehawk/internal/dlq"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/metrics"
	"github.com/telhawk-systems/homehawk/internal/storage"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("upsert pool closed")

// Store is the single-document side of the document store. It must be safe
// for concurrent use.
type Store interface {
	Upsert(ctx context.Context, doc storage.Document) error
}

type job struct {
	doc  storage.Document
	line []byte
}

// Pool runs upserts on a fixed number of workers fed by a bounded queue.
type Pool struct {
	store  Store
	dlq    *dlq.Queue
	logger *slog.Logger

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines. queueSize is the number of documents
// that may wait for a worker; 0 makes every Submit hand off directly.
func NewPool(store Store, workers, queueSize int, q *dlq.Queue, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	// In-flight upserts outlive the caller's context until Close gives up.
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		store:  store,
		dlq:    q,
		logger: logging.OrDefault(logger),
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues doc, blocking while the queue is full. It gives up with
// ctx.Err() once ctx is done; a free slot is still taken after that.
func (p *Pool) Submit(ctx context.Context, doc storage.Document, line []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	j := job{doc: doc, line: line}
	select {
	case p.queue <- j:
		metrics.TailQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
	}

	select {
	case p.queue <- j:
		metrics.TailQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits up to timeout for queued and
// in-flight upserts. Upserts still running after the timeout are cancelled.
// Close must not race with Submit.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer:
		p.cancel()
		<-done
		return fmt.Errorf("upsert pool did not drain within %s", timeout)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		metrics.TailQueueDepth.Set(float64(len(p.queue)))
		p.upsert(j)
	}
}

func (p *Pool) upsert(j job) {
	if err := p.store.Upsert(p.ctx, j.doc); err != nil {
		metrics.DocumentsTotal.WithLabelValues(metrics.ModeTail, "failed").Inc()
		p.logger.Error("upsert failed",
			logging.Index(j.doc.Index),
			logging.DocID(j.doc.ID),
			logging.Error(err))
		if dlqErr := p.dlq.Write(p.ctx, dlq.SourceUpsert, "", j.line, err); dlqErr != nil {
			p.logger.Error("failed to write dead-letter record", logging.Error(dlqErr))
		}
		return
	}

	metrics.DocumentsTotal.WithLabelValues(metrics.ModeTail, "indexed").Inc()
	p.logger.Debug("document upserted", logging.Index(j.doc.Index), logging.DocID(j.doc.ID))
}
