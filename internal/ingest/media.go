package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AssetView is an asset with freshly signed URLs.
type AssetView struct {
	*asset.MediaAsset
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Asset returns one asset within scope with signed URLs.
func (o *Orchestrator) Asset(ctx context.Context, scope Scope, id string) (*AssetView, error) {
	a, err := o.lookup(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	view := &AssetView{MediaAsset: a}
	if view.URL, err = o.objects.SignedURL(ctx, a.StorageKey, o.config.URLTTL); err != nil {
		return nil, fmt.Errorf("sign media url: %w", err)
	}
	if a.ThumbnailKey != "" {
		if view.ThumbnailURL, err = o.objects.SignedURL(ctx, a.ThumbnailKey, o.config.URLTTL); err != nil {
			return nil, fmt.Errorf("sign thumbnail url: %w", err)
		}
	}
	return view, nil
}

// ProductMedia lists a product's media: legacy URL arrays first, then
// normalized assets oldest first.
func (o *Orchestrator) ProductMedia(ctx context.Context, tenantID, productID string) ([]catalog.Media, error) {
	product, err := o.catalog.Product(ctx, tenantID, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	assets, err := o.assets.ListByProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("list product media: %w", err)
	}

	media, err := catalog.ResolveMedia(ctx, catalog.Refs(product, assets), o.objects, o.config.URLTTL)
	if err != nil {
		return nil, err
	}
	if media == nil {
		media = []catalog.Media{}
	}
	return media, nil
}

// Link attaches an asset to the product with sku, defaulting to the SKU the
// asset was uploaded under. A video's generated thumbnail follows the video.
func (o *Orchestrator) Link(ctx context.Context, scope Scope, id, sku string) (*asset.MediaAsset, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Link")
	defer span.End()
	span.SetAttributes(attribute.String("asset_id", id))

	a, err := o.lookup(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if isThumbnail(a) {
		return nil, ErrDerivedAsset
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		sku = a.PendingSKU
	}
	if sku == "" {
		return nil, ErrSKURequired
	}

	product, err := o.catalog.ProductBySKU(ctx, a.TenantID, sku)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}

	if err := o.assets.LinkProduct(ctx, a.TenantID, a.ID, product.ID); err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("link product: %w", err)
	}
	if a.ThumbnailKey != "" {
		o.linkThumbnail(ctx, a, product.ID)
	}

	linked, err := o.assets.Get(ctx, a.TenantID, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	o.logger.Info("media linked",
		zap.String("tenant_id", a.TenantID),
		zap.String("asset_id", a.ID),
		zap.String("product_id", product.ID),
	)
	return linked, nil
}

func (o *Orchestrator) linkThumbnail(ctx context.Context, video *asset.MediaAsset, productID string) {
	thumb, err := o.assets.GetByKey(ctx, video.TenantID, video.ThumbnailKey)
	if errors.Is(err, asset.ErrNotFound) {
		return
	}
	if err == nil {
		err = o.assets.LinkProduct(ctx, video.TenantID, thumb.ID, productID)
	}
	if err != nil {
		o.logger.Warn("linking thumbnail asset", zap.String("asset_id", video.ID), zap.Error(err))
	}
}

// isThumbnail reports whether a is a video's generated poster image.
func isThumbnail(a *asset.MediaAsset) bool {
	return a.Kind == asset.KindImage && sanitize.IsThumbnailKey(a.StorageKey)
}
