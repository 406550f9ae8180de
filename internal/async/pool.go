package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/form-filler/internal/common"
)

// WorkerPool runs a Handler over enqueued jobs with a fixed number of workers.
type WorkerPool struct {
	handle  Handler
	logger  *slog.Logger
	base    context.Context
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
}

type Option func(*WorkerPool)

func WithWorkers(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *WorkerPool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewWorkerPool starts the workers immediately. Job contexts derive from ctx,
// so cancelling it aborts in-flight jobs.
func NewWorkerPool(ctx context.Context, handle Handler, logger *slog.Logger, opts ...Option) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		handle:  handle,
		logger:  logger.With("component", "worker_pool"),
		base:    ctx,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *WorkerPool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker.start", "worker_id", workerID)
				for job := range p.ch {
					p.run(workerID, job)
				}
				p.logger.Debug("worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *WorkerPool) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(p.base, p.timeout)
	defer cancel()
	ctx = common.WithRequestID(ctx, job.TraceID)

	start := time.Now()
	err := p.handle(ctx, job)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("job.failed",
			"worker_id", workerID,
			"job", job.Name,
			"req_id", job.TraceID,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	p.logger.Info("job.ok",
		"worker_id", workerID,
		"job", job.Name,
		"req_id", job.TraceID,
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// Enqueue blocks while the queue is full, until ctx is done.
func (p *WorkerPool) Enqueue(ctx context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("enqueue.rejected", "job", job.Name)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}
	select {
	case p.ch <- job:
		p.logger.Debug("job.queued", "job", job.Name, "force", job.Force)
		return nil
	default:
	}
	p.logger.Warn("queue full, applying backpressure", "job", job.Name)
	select {
	case p.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Debug("queue drained")
	}
}

// Stats reports jobs handled so far and how many of them failed.
func (p *WorkerPool) Stats() (processed, failed int64) {
	return p.processed.Load(), p.failed.Load()
}

var _ Queue = (*WorkerPool)(nil)
