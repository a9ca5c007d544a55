package http

import (
	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/ingest"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// UploadResponse is the response body for POST /api/v1/media/upload.
type UploadResponse struct {
	Success      bool        `json:"success"`
	URL          string      `json:"url"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Key          string      `json:"key"`
	ThumbnailKey string      `json:"thumbnailKey,omitempty"`
	MediaID      string      `json:"mediaId"`
	HasThumbnail bool        `json:"hasThumbnail"`
	Kind         asset.Kind  `json:"kind"`
	Status       asset.State `json:"status"`
}

// ReprocessResponse is the response body for POST /api/v1/media/:id/reprocess.
type ReprocessResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Media   ReprocessMedia `json:"media"`
}

// ReprocessMedia summarizes the reset asset.
type ReprocessMedia struct {
	ID      string      `json:"id"`
	Status  asset.State `json:"status"`
	Attempt int64       `json:"attempt"`
}

// LinkRequest is the request body for POST /api/v1/media/:id/link.
type LinkRequest struct {
	SKU string `json:"sku"`
}

// LinkResponse is the response body for POST /api/v1/media/:id/link.
type LinkResponse struct {
	Success bool              `json:"success"`
	Media   *asset.MediaAsset `json:"media"`
}

// MediaResponse is the response body for GET /api/v1/media/:id.
type MediaResponse struct {
	Success bool              `json:"success"`
	Media   *ingest.AssetView `json:"media"`
}

// ProductMediaResponse is the response body for GET /api/v1/products/:id/media.
type ProductMediaResponse struct {
	Success   bool            `json:"success"`
	ProductID string          `json:"productId"`
	Media     []catalog.Media `json:"media"`
	Total     int             `json:"total"`
}

// DeleteMediaResponse is the response body for DELETE /api/v1/products/:id/media.
type DeleteMediaResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}
