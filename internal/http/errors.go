package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	"github.com/fyrsmithlabs/mediasearch/internal/ingest"
	"github.com/fyrsmithlabs/mediasearch/internal/search"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error              string   `json:"error"`
	Message            string   `json:"message,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	AllowedTypes       []string `json:"allowedTypes,omitempty"`
	MaxSize            string   `json:"maxSize,omitempty"`
	UsePresignedUpload bool     `json:"usePresignedUpload,omitempty"`
}

const (
	msgNoFile       = "No file provided"
	msgInvalidType  = "Invalid file type. Only JPEG, PNG, and WebP images are allowed."
	msgMediaMissing = "Media not found or access denied"
	msgBadTenant    = "Unauthorized: Invalid tenant"
)

// megabytes renders a byte limit the way error messages quote it ("10MB").
func megabytes(n int64) string {
	return fmt.Sprintf("%dMB", n>>20)
}

func tooLarge(limit int64) string {
	return fmt.Sprintf("File too large. Maximum size is %s.", megabytes(limit))
}

// handleError renders errors returned by handlers and echo itself (unknown
// routes, recovered panics) in the ErrorResponse shape.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	body := ErrorResponse{Error: http.StatusText(code)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		body.Error = http.StatusText(code)
		if msg, ok := he.Message.(string); ok && msg != body.Error {
			body.Message = msg
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("path", c.Path()), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response", zap.Error(err))
	}
}

// mediaError maps ingestion errors to responses.
func (s *Server) mediaError(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var ve *ingest.ValidationError
	switch {
	case errors.As(err, &ve) && ve.TooLarge:
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   tooLarge(s.config.UploadMaxBytes),
			Reason:  ve.Reason,
			MaxSize: megabytes(s.config.UploadMaxBytes),
		})
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "File validation failed", Reason: ve.Reason})
	case errors.Is(err, ingest.ErrSKURequired):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Product SKU is required for file organization"})
	case errors.Is(err, ingest.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: msgMediaMissing})
	case errors.Is(err, ingest.ErrProductNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Product not found for SKU"})
	case errors.Is(err, ingest.ErrDerivedAsset):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Thumbnail assets follow their video",
			Message: "Reprocess or link the video instead",
		})
	case errors.Is(err, ingest.ErrInvalidTenant):
		s.logger.Security(ctx, "malformed tenant id reached ingestion", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msgBadTenant})
	case errors.Is(err, ingest.ErrStorage):
		s.logger.Error(ctx, "media storage failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to store media"})
	case errors.Is(err, ingest.ErrDispatch):
		s.logger.Error(ctx, "media dispatch failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Failed to queue media for processing"})
	default:
		s.logger.Error(ctx, "media request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

// searchError maps image search errors to responses. Query problems are the
// caller's; embedding and index problems are upstream failures.
func (s *Server) searchError(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var qe *search.QueryError
	switch {
	case errors.As(err, &qe) && qe.TooLarge:
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   tooLarge(s.config.SearchMaxBytes),
			MaxSize: megabytes(s.config.SearchMaxBytes),
		})
	case errors.As(err, &qe) && qe.Unsupported:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgInvalidType, AllowedTypes: search.AllowedTypes})
	case errors.As(err, &qe):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Image validation failed", Reason: qe.Reason})
	case errors.Is(err, search.ErrInvalidTenant):
		s.logger.Security(ctx, "malformed tenant id reached search", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msgBadTenant})
	case errors.Is(err, embeddings.ErrServiceUnavailable):
		s.logger.Warn(ctx, "embedding service unavailable", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Embedding service unavailable"})
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(ctx, "image search timed out", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Search timed out"})
	default:
		s.logger.Error(ctx, "image search failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to process image for search"})
	}
}
