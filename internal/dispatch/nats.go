package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSOptions configures a NATSQueue.
type NATSOptions struct {
	// Stream is the JetStream stream name. Default: MEDIA_EMBED
	Stream string

	// Subject is the subject prefix; jobs publish to <Subject>.<tenant>.
	// Default: media.embed
	Subject string

	// Durable names the shared pull consumer. Default: mediasearch-embedder
	Durable string

	// Workers is the number of fetch loops. Zero publishes only, for API
	// instances that leave embedding to dedicated workers.
	Workers int

	// JobTimeout bounds one job. Default: 30s
	JobTimeout time.Duration

	// MaxDeliver caps redeliveries of a message. Default: 5
	MaxDeliver int
}

func (o *NATSOptions) applyDefaults() {
	if o.Stream == "" {
		o.Stream = "MEDIA_EMBED"
	}
	if o.Subject == "" {
		o.Subject = "media.embed"
	}
	if o.Durable == "" {
		o.Durable = "mediasearch-embedder"
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 5
	}
}

// NATSQueue is a Queue on a JetStream work-queue stream, so jobs survive
// restarts and are shared by every instance bound to the durable consumer.
type NATSQueue struct {
	js      nats.JetStreamContext
	handler Handler
	opts    NATSOptions
	logger  *zap.Logger

	sub    *nats.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewNATSQueue ensures the stream exists and, when opts.Workers > 0, starts
// consuming with handler. The connection stays owned by the caller.
func NewNATSQueue(nc *nats.Conn, handler Handler, opts NATSOptions, logger *zap.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	q := &NATSQueue{js: js, handler: handler, opts: opts, logger: logger}
	if err := q.ensureStream(); err != nil {
		return nil, err
	}

	if opts.Workers > 0 {
		if handler == nil {
			return nil, errors.New("nats queue: handler required when workers > 0")
		}
		sub, err := js.PullSubscribe(opts.Subject+".*", opts.Durable,
			nats.BindStream(opts.Stream),
			nats.AckExplicit(),
			nats.AckWait(opts.JobTimeout+10*time.Second),
			nats.MaxDeliver(opts.MaxDeliver),
		)
		if err != nil {
			return nil, fmt.Errorf("subscribing %s: %w", opts.Durable, err)
		}
		q.sub = sub

		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		for i := 0; i < opts.Workers; i++ {
			q.wg.Add(1)
			go q.consume(ctx)
		}
	}

	logger.Info("nats dispatch queue ready",
		zap.String("stream", opts.Stream),
		zap.String("subject", opts.Subject),
		zap.Int("workers", opts.Workers),
	)
	return q, nil
}

func (q *NATSQueue) ensureStream() error {
	_, err := q.js.StreamInfo(q.opts.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("looking up stream %s: %w", q.opts.Stream, err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.opts.Stream,
		Subjects:  []string{q.opts.Subject + ".*"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", q.opts.Stream, err)
	}
	q.logger.Info("created JetStream stream", zap.String("stream", q.opts.Stream))
	return nil
}

// Subject returns the subject a tenant's jobs are published on.
func (q *NATSQueue) Subject(tenantID string) string {
	return q.opts.Subject + "." + tenantID
}

// Enqueue publishes job and waits for the stream's acknowledgement.
func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		EnqueueErrors.WithLabelValues("nats").Inc()
		return ErrClosed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.js.Publish(q.Subject(job.TenantID), data, nats.Context(ctx)); err != nil {
		EnqueueErrors.WithLabelValues("nats").Inc()
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *NATSQueue) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			q.logger.Warn("fetching embedding jobs", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			q.handle(ctx, msg)
		}
	}
}

func (q *NATSQueue) handle(ctx context.Context, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.logger.Warn("discarding undecodable job", zap.String("subject", msg.Subject), zap.Error(err))
		_ = msg.Term()
		return
	}

	// A job already fetched runs to completion even during Close.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.JobTimeout)
	err := q.handler.Process(jobCtx, job)
	cancel()

	if err != nil {
		q.logger.Warn("embedding job failed",
			zap.String("asset_id", job.AssetID),
			zap.String("tenant_id", job.TenantID),
			zap.Error(err),
		)
	}
	// Failed jobs were recorded on the asset; reprocess is explicit.
	if err := msg.Ack(); err != nil {
		q.logger.Warn("acking job", zap.String("asset_id", job.AssetID), zap.Error(err))
	}
}

// Close stops publishing and consuming. In-flight jobs finish first.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return nil
}

var _ Queue = (*NATSQueue)(nil)
