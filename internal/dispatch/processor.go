package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mediasearch.dispatch")

// maxReasonLen bounds the failure reason persisted on an asset.
const maxReasonLen = 500

// failWriteTimeout bounds the failed-state write, which runs even when the
// job context has expired.
const failWriteTimeout = 5 * time.Second

// Embedder turns image bytes into a vector.
type Embedder interface {
	EmbedImage(ctx context.Context, filename string, data []byte) (*embeddings.Result, error)
}

// Processor embeds one asset per job.
//
// Steps: mark processing, read the bytes (a video's thumbnail), embed, save
// the embedding row, index the vector, mark completed. Any failure marks the
// asset failed with the error text and removes its index entry. Jobs for a superseded attempt or a
// deleted asset are dropped without touching the asset.
type Processor struct {
	assets   asset.Store
	objects  objectstore.Store
	embedder Embedder
	index    vectorstore.Index
	logger   *zap.Logger
}

// NewProcessor wires a Processor.
func NewProcessor(assets asset.Store, objects objectstore.Store, embedder Embedder, index vectorstore.Index, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		assets:   assets,
		objects:  objects,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Process implements Handler. It returns nil for dropped jobs and the
// processing error for failed ones, after the asset has been marked failed.
func (p *Processor) Process(ctx context.Context, job Job) (err error) {
	ctx, span := tracer.Start(ctx, "Processor.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("asset_id", job.AssetID),
		attribute.String("tenant_id", job.TenantID),
		attribute.Int64("attempt", job.Attempt),
	)

	start := time.Now()
	result := "completed"
	defer func() {
		JobsTotal.WithLabelValues(result).Inc()
		JobDuration.Observe(time.Since(start).Seconds())
	}()

	if err := job.Validate(); err != nil {
		result = "dropped"
		p.logger.Warn("dropping invalid job", zap.Error(err))
		return nil
	}

	a, err := p.assets.Get(ctx, job.TenantID, job.AssetID)
	if errors.Is(err, asset.ErrNotFound) {
		result = "dropped"
		p.logger.Debug("asset gone, dropping job", zap.String("asset_id", job.AssetID))
		return nil
	}
	if err != nil {
		result = "failed"
		span.RecordError(err)
		return fmt.Errorf("load asset: %w", err)
	}
	if a.Attempt != job.Attempt {
		result = "dropped"
		p.logger.Debug("stale job",
			zap.String("asset_id", a.ID),
			zap.Int64("job_attempt", job.Attempt),
			zap.Int64("asset_attempt", a.Attempt),
		)
		return nil
	}

	if err := p.assets.SetState(ctx, a.ID, job.Attempt, asset.StateProcessing, ""); err != nil {
		if errors.Is(err, asset.ErrStaleAttempt) || errors.Is(err, asset.ErrInvalidTransition) || errors.Is(err, asset.ErrNotFound) {
			result = "dropped"
			p.logger.Debug("job superseded", zap.String("asset_id", a.ID), zap.Error(err))
			return nil
		}
		result = "failed"
		span.RecordError(err)
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.embed(ctx, a); err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, a, job.Attempt, err)
		return err
	}

	if err := p.assets.SetState(ctx, a.ID, job.Attempt, asset.StateCompleted, ""); err != nil {
		if errors.Is(err, asset.ErrStaleAttempt) || errors.Is(err, asset.ErrNotFound) {
			result = "dropped"
			return nil
		}
		result = "failed"
		span.RecordError(err)
		return fmt.Errorf("mark completed: %w", err)
	}

	p.logger.Info("asset embedded",
		zap.String("asset_id", a.ID),
		zap.String("tenant_id", a.TenantID),
		zap.String("kind", string(a.Kind)),
		zap.Duration("duration", time.Since(start)),
	)
	span.SetStatus(codes.Ok, "completed")
	return nil
}

func (p *Processor) embed(ctx context.Context, a *asset.MediaAsset) error {
	key := a.StorageKey
	if a.Kind == asset.KindVideo {
		if a.ThumbnailKey == "" {
			return errors.New("video has no thumbnail to embed")
		}
		key = a.ThumbnailKey
	}

	data, err := p.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	res, err := p.embedder.EmbedImage(ctx, path.Base(key), data)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	emb := asset.Embedding{
		TenantID: a.TenantID,
		AssetID:  a.ID,
		Vector:   res.Vector,
		Model:    res.Model,
	}
	if err := emb.Validate(); err != nil {
		return err
	}
	if err := p.assets.SaveEmbedding(ctx, emb); err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}

	entry := vectorstore.Entry{
		AssetID:      a.ID,
		Kind:         string(a.Kind),
		StorageKey:   a.StorageKey,
		ThumbnailKey: a.ThumbnailKey,
		Vector:       res.Vector,
		CreatedAt:    a.CreatedAt,
	}
	if a.ProductID != nil {
		entry.ProductID = *a.ProductID
	}
	if err := p.index.Upsert(vectorstore.WithTenantID(ctx, a.TenantID), entry); err != nil {
		return fmt.Errorf("index vector: %w", err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, a *asset.MediaAsset, attempt int64, cause error) {
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	err := p.assets.SetState(wctx, a.ID, attempt, asset.StateFailed, reason)
	switch {
	case err == nil:
		p.logger.Warn("asset embedding failed",
			zap.String("asset_id", a.ID),
			zap.String("tenant_id", a.TenantID),
			zap.String("reason", reason),
		)
		// The store dropped the embedding row; drop the vector from an
		// earlier completed attempt too.
		if err := p.index.Delete(vectorstore.WithTenantID(wctx, a.TenantID), a.ID); err != nil {
			p.logger.Warn("removing index entry of failed asset", zap.String("asset_id", a.ID), zap.Error(err))
		}
	case errors.Is(err, asset.ErrStaleAttempt), errors.Is(err, asset.ErrNotFound):
		p.logger.Debug("failure superseded", zap.String("asset_id", a.ID))
	default:
		p.logger.Error("marking asset failed",
			zap.String("asset_id", a.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}
