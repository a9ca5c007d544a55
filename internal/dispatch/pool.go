package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolOptions sizes a WorkerPool.
type PoolOptions struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func (o *PoolOptions) applyDefaults() {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.QueueSize < 1 {
		o.QueueSize = 256
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
}

// WorkerPool is an in-process Queue: a buffered channel drained by a fixed
// number of goroutines, each job bounded by JobTimeout.
type WorkerPool struct {
	handler Handler
	opts    PoolOptions
	logger  *zap.Logger

	mu     sync.RWMutex
	jobs   chan Job
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool starts the workers.
func NewWorkerPool(handler Handler, opts PoolOptions, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()

	p := &WorkerPool{
		handler: handler,
		opts:    opts,
		logger:  logger,
		jobs:    make(chan Job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Enqueue buffers job without blocking. It fails with ErrQueueFull when the
// buffer is full and ErrClosed after Close.
func (p *WorkerPool) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		EnqueueErrors.WithLabelValues("local").Inc()
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case p.jobs <- job:
		QueueDepth.Inc()
		return nil
	default:
		EnqueueErrors.WithLabelValues("local").Inc()
		return ErrQueueFull
	}
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		QueueDepth.Dec()
		p.run(job)
	}
}

func (p *WorkerPool) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("embedding job panicked",
				zap.String("asset_id", job.AssetID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := p.handler.Process(ctx, job); err != nil {
		p.logger.Warn("embedding job failed",
			zap.String("asset_id", job.AssetID),
			zap.String("tenant_id", job.TenantID),
			zap.Error(err),
		)
	}
}

// Close stops accepting jobs and waits for buffered ones to finish.
func (p *WorkerPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

var _ Queue = (*WorkerPool)(nil)
