// Package dispatch runs embedding jobs for ingested media asynchronously.
//
// A Job names an asset and the ingestion attempt it was queued for. Queues
// (WorkerPool in process, NATSQueue across instances) hand jobs to a Handler,
// normally a Processor, which drives the asset through
// processing → completed | failed.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
)

var (
	// ErrQueueFull is returned by Enqueue when no buffer space is left.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("dispatch queue closed")

	// ErrInvalidJob is returned for jobs without an asset or tenant.
	ErrInvalidJob = errors.New("invalid job")
)

// Job asks for the embedding of one asset at one ingestion attempt.
type Job struct {
	AssetID  string `json:"assetId"`
	TenantID string `json:"tenantId"`
	Attempt  int64  `json:"attempt"`
}

// Validate checks the job is addressable.
func (j Job) Validate() error {
	if j.AssetID == "" {
		return fmt.Errorf("%w: missing asset id", ErrInvalidJob)
	}
	if err := sanitize.ValidateTenantID(j.TenantID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if j.Attempt < 1 {
		return fmt.Errorf("%w: attempt must be positive", ErrInvalidJob)
	}
	return nil
}

// Handler executes jobs.
type Handler interface {
	Process(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

// Process calls f.
func (f HandlerFunc) Process(ctx context.Context, job Job) error { return f(ctx, job) }

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}
