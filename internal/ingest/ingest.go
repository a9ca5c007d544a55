// Package ingest turns uploaded media into stored, tracked and queued assets.
//
// The Orchestrator runs every check before the first storage write: a
// rejected upload leaves no object, no asset row and no job behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/dispatch"
	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	"github.com/fyrsmithlabs/mediasearch/internal/validation"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mediasearch.ingest")

var (
	// ErrNotFound indicates the asset does not exist or belongs to another tenant.
	ErrNotFound = errors.New("media not found")

	// ErrSKURequired indicates an upload without a product identifier.
	ErrSKURequired = errors.New("sku is required")

	// ErrInvalidTenant indicates a malformed tenant ID.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrStorage indicates the object store rejected a write.
	ErrStorage = errors.New("media storage failed")

	// ErrDispatch indicates a reprocess job could not be queued.
	ErrDispatch = errors.New("embedding dispatch failed")

	// ErrProductNotFound indicates a link to a SKU with no product.
	ErrProductNotFound = errors.New("product not found")

	// ErrDerivedAsset indicates an operation on a video's generated
	// thumbnail, which is embedded and linked only through its video.
	ErrDerivedAsset = errors.New("thumbnail assets follow their video")
)

// ValidationError carries the user-facing reason an upload was rejected.
type ValidationError struct {
	Reason   string
	TooLarge bool
}

func (e *ValidationError) Error() string {
	return "media validation failed: " + e.Reason
}

// Config bounds uploads.
type Config struct {
	MaxUploadBytes int64
	MaxDimension   int
	Sanitize       validation.Options
	URLTTL         time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	if c.URLTTL <= 0 {
		c.URLTTL = objectstore.DefaultTTL
	}
}

// Upload is one file submitted for a product.
type Upload struct {
	TenantID string
	SKU      string
	Filename string
	Data     []byte
}

// Result describes a stored upload.
type Result struct {
	URL          string
	ThumbnailURL string
	Key          string
	ThumbnailKey string
	MediaID      string
	HasThumbnail bool
	Kind         asset.Kind
	Status       asset.State
}

// Scope is the caller's reach for single-asset operations.
type Scope struct {
	TenantID string
	// AnyTenant lets super administrators act on other tenants' assets.
	AnyTenant bool
}

// Orchestrator coordinates validation, storage, the asset store and dispatch.
type Orchestrator struct {
	validator *validation.Validator
	objects   objectstore.Store
	assets    asset.Store
	catalog   catalog.Catalog
	queue     dispatch.Queue
	index     vectorstore.Index
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// New wires an Orchestrator.
func New(cfg Config, objects objectstore.Store, assets asset.Store, cat catalog.Catalog,
	queue dispatch.Queue, index vectorstore.Index, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		validator: validation.New(cfg.MaxDimension),
		objects:   objects,
		assets:    assets,
		catalog:   cat,
		queue:     queue,
		index:     index,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// prepared is an upload that passed every check and is ready to store.
type prepared struct {
	kind      asset.Kind
	format    validation.Format
	data      []byte
	width     int
	height    int
	productID *string
	pending   string
}

// Ingest validates, stores and registers an upload, then queues its
// embedding. A queueing failure does not fail the upload; the asset is
// marked failed instead.
func (o *Orchestrator) Ingest(ctx context.Context, up Upload) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Ingest")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	span.SetAttributes(
		attribute.String("tenant_id", up.TenantID),
		attribute.Int("bytes", len(up.Data)),
	)

	p, err := o.prepare(ctx, up)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("kind", string(p.kind)))

	key, err := sanitize.StorageKey(up.TenantID, up.SKU, string(p.kind), p.format.Ext(), o.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	obj, err := o.objects.Put(ctx, key, p.data, p.format.ContentType())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	res = &Result{URL: obj.URL, Key: key, Kind: p.kind}

	rec := asset.Upsert{
		TenantID:   up.TenantID,
		ProductID:  p.productID,
		Kind:       p.kind,
		StorageKey: key,
		PendingSKU: p.pending,
	}
	if p.kind == asset.KindImage {
		rec.Width, rec.Height = &p.width, &p.height
	} else {
		thumb, err := o.storeThumbnail(ctx, key)
		if err != nil {
			o.removeObjects(ctx, key)
			return nil, err
		}
		rec.ThumbnailKey = thumb.Key
		res.ThumbnailKey, res.ThumbnailURL, res.HasThumbnail = thumb.Key, thumb.URL, true
	}

	a, err := o.assets.UpsertByKey(ctx, rec)
	if err != nil {
		o.removeObjects(ctx, res.Key, res.ThumbnailKey)
		return nil, fmt.Errorf("register asset: %w", err)
	}
	if a.Attempt > 1 {
		o.unindex(ctx, a.TenantID, a.ID)
	}
	if res.HasThumbnail {
		o.registerThumbnail(ctx, up.TenantID, res.ThumbnailKey, p)
	}
	res.MediaID = a.ID
	res.Status = a.Status

	if err := o.dispatch(ctx, a); err != nil {
		res.Status = asset.StateFailed
	}

	o.logger.Info("media ingested",
		zap.String("tenant_id", up.TenantID),
		zap.String("asset_id", a.ID),
		zap.String("kind", string(p.kind)),
		zap.String("key", key),
		zap.Bool("linked", p.productID != nil),
		zap.Int64("attempt", a.Attempt),
	)
	return res, nil
}

// prepare runs every check and transformation that precedes a storage write.
func (o *Orchestrator) prepare(ctx context.Context, up Upload) (*prepared, error) {
	if sanitize.ValidateTenantID(up.TenantID) != nil {
		return nil, ErrInvalidTenant
	}
	sku := strings.TrimSpace(up.SKU)
	if sku == "" {
		return nil, ErrSKURequired
	}

	check := o.validator.Validate(up.Data, up.Filename, o.config.MaxUploadBytes)
	if !check.Valid {
		return nil, &ValidationError{
			Reason:   check.Reason,
			TooLarge: int64(len(up.Data)) > o.config.MaxUploadBytes,
		}
	}

	p := &prepared{format: check.Format, data: up.Data}
	switch check.Kind() {
	case validation.KindImage:
		clean, err := validation.Sanitize(up.Data, o.config.Sanitize)
		if err != nil {
			return nil, &ValidationError{Reason: validation.ReasonInvalidImage}
		}
		p.kind = asset.KindImage
		p.format, p.data = clean.Format, clean.Data
		p.width, p.height = clean.Width, clean.Height
	case validation.KindVideo:
		p.kind = asset.KindVideo
	default:
		return nil, &ValidationError{Reason: validation.ReasonUnsupportedType}
	}

	product, err := o.catalog.ProductBySKU(ctx, up.TenantID, sku)
	switch {
	case err == nil:
		p.productID = &product.ID
	case errors.Is(err, catalog.ErrProductNotFound):
		p.pending = sku
	default:
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	return p, nil
}

// storeThumbnail writes a video's poster image next to the video.
func (o *Orchestrator) storeThumbnail(ctx context.Context, videoKey string) (objectstore.Object, error) {
	data, err := validation.VideoThumbnail()
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("render thumbnail: %w", err)
	}
	obj, err := o.objects.Put(ctx, sanitize.ThumbnailKey(videoKey), data, validation.FormatJPEG.ContentType())
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("%w: thumbnail: %v", ErrStorage, err)
	}
	return obj, nil
}

// registerThumbnail records a stored poster as its own completed image
// asset. It runs after the video row exists; a failure leaves the video
// intact and is only logged.
func (o *Orchestrator) registerThumbnail(ctx context.Context, tenantID, thumbKey string, p *prepared) {
	w, h := validation.ThumbnailWidth, validation.ThumbnailHeight
	_, err := o.assets.UpsertByKey(ctx, asset.Upsert{
		TenantID:   tenantID,
		ProductID:  p.productID,
		Kind:       asset.KindImage,
		StorageKey: thumbKey,
		Width:      &w,
		Height:     &h,
		PendingSKU: p.pending,
		Status:     asset.StateCompleted,
	})
	if err != nil {
		o.logger.Warn("registering thumbnail asset",
			zap.String("tenant_id", tenantID),
			zap.String("key", thumbKey),
			zap.Error(err))
	}
}

// dispatch queues the embedding job, marking the asset failed when the
// queue refuses it.
func (o *Orchestrator) dispatch(ctx context.Context, a *asset.MediaAsset) error {
	err := o.queue.Enqueue(ctx, dispatch.Job{AssetID: a.ID, TenantID: a.TenantID, Attempt: a.Attempt})
	if err == nil {
		return nil
	}

	o.logger.Warn("embedding dispatch failed",
		zap.String("asset_id", a.ID),
		zap.String("tenant_id", a.TenantID),
		zap.Error(err),
	)
	reason := fmt.Sprintf("%v: %v", ErrDispatch, err)
	if serr := o.assets.SetState(context.WithoutCancel(ctx), a.ID, a.Attempt, asset.StateFailed, reason); serr != nil {
		o.logger.Error("marking undispatched asset failed", zap.String("asset_id", a.ID), zap.Error(serr))
	}
	return fmt.Errorf("%w: %v", ErrDispatch, err)
}

// unindex drops index entries. A failure is only logged; enrichment drops
// hits whose asset is gone or not completed.
func (o *Orchestrator) unindex(ctx context.Context, tenantID string, ids ...string) {
	if err := o.index.Delete(vectorstore.WithTenantID(context.WithoutCancel(ctx), tenantID), ids...); err != nil {
		o.logger.Warn("removing index entries", zap.Strings("asset_ids", ids), zap.Error(err))
	}
}

func (o *Orchestrator) removeObjects(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := o.objects.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			o.logger.Warn("removing object", zap.String("key", key), zap.Error(err))
		}
	}
}

// lookup reads an asset within scope, hiding other tenants' assets.
func (o *Orchestrator) lookup(ctx context.Context, scope Scope, id string) (*asset.MediaAsset, error) {
	var (
		a   *asset.MediaAsset
		err error
	)
	if scope.AnyTenant {
		a, err = o.assets.GetAny(ctx, id)
	} else {
		a, err = o.assets.Get(ctx, scope.TenantID, id)
	}
	if errors.Is(err, asset.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	return a, nil
}

// Reprocess resets an asset to pending and queues a fresh embedding job.
// Any state may be reprocessed. A video's generated thumbnail may not: it is
// embedded on the video's behalf.
func (o *Orchestrator) Reprocess(ctx context.Context, scope Scope, id string) (*asset.MediaAsset, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Reprocess")
	defer span.End()
	span.SetAttributes(attribute.String("asset_id", id))

	current, err := o.lookup(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if isThumbnail(current) {
		return nil, ErrDerivedAsset
	}

	a, err := o.assets.Reset(ctx, id)
	if errors.Is(err, asset.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reset asset: %w", err)
	}
	o.unindex(ctx, a.TenantID, a.ID)

	if err := o.dispatch(ctx, a); err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.logger.Info("media queued for reprocessing",
		zap.String("asset_id", a.ID),
		zap.String("tenant_id", a.TenantID),
		zap.Int64("attempt", a.Attempt),
	)
	return a, nil
}

// DeleteProduct removes the product's asset links, deletes assets left
// without a product and reclaims their objects and index entries. It
// returns the number of assets deleted.
func (o *Orchestrator) DeleteProduct(ctx context.Context, tenantID, productID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.DeleteProduct")
	defer span.End()

	orphans, err := o.assets.DeleteProduct(ctx, tenantID, productID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("delete product media: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(orphans))
	for _, orphan := range orphans {
		ids = append(ids, orphan.AssetID)
		o.removeObjects(ctx, orphan.Keys()...)
	}
	o.unindex(ctx, tenantID, ids...)

	o.logger.Info("product media deleted",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", productID),
		zap.Int("assets", len(orphans)),
	)
	return len(orphans), nil
}
