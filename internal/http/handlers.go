package http

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/mediasearch/internal/ingest"
	"github.com/fyrsmithlabs/mediasearch/internal/search"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// multipartOverhead is the slack allowed on top of a file limit for the
// multipart envelope and other form fields.
const multipartOverhead = 1 << 20

// handleHealth pings the configured dependencies.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.deps.Checks) == 0 {
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()
	resp.Checks = make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
			resp.Status = "unavailable"
			resp.Checks[name] = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleSearchHealth reports the embedding service's state.
func (s *Server) handleSearchHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Search.Health(c.Request().Context()))
}

// handleSearchByImage runs an image similarity search for the caller's tenant.
func (s *Server) handleSearchByImage(c echo.Context) error {
	limit := s.config.SearchMaxBytes
	tc := callerOf(c)

	fh, err := formFile(c, limit)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: tooLarge(limit), MaxSize: megabytes(limit)})
	case err != nil:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgNoFile})
	}

	if ct := fh.Header.Get(echo.HeaderContentType); ct != "" && !slices.Contains(search.AllowedTypes, ct) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgInvalidType, AllowedTypes: search.AllowedTypes})
	}
	if fh.Size > limit {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: tooLarge(limit), MaxSize: megabytes(limit)})
	}
	data, err := readFile(fh)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgNoFile})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.SearchTimeout)
	defer cancel()
	resp, err := s.deps.Search.SearchByImage(ctx, tc.TenantID, fh.Filename, data)
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleUpload stores a product image or video.
func (s *Server) handleUpload(c echo.Context) error {
	limit := s.config.UploadMaxBytes
	tc := callerOf(c)

	// Refuse oversized bodies before reading them; large files go straight
	// to object storage through a presigned URL instead.
	if c.Request().ContentLength > limit+multipartOverhead {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:              tooLarge(limit),
			MaxSize:            megabytes(limit),
			UsePresignedUpload: true,
		})
	}

	fh, err := formFile(c, limit)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: tooLarge(limit), MaxSize: megabytes(limit)})
	case err != nil:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgNoFile})
	}
	sku := strings.TrimSpace(c.FormValue("sku"))
	if sku == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Product SKU is required for file organization"})
	}
	if fh.Size > limit {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: tooLarge(limit), MaxSize: megabytes(limit)})
	}
	data, err := readFile(fh)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgNoFile})
	}

	res, err := s.deps.Media.Ingest(c.Request().Context(), ingest.Upload{
		TenantID: tc.TenantID,
		SKU:      sku,
		Filename: fh.Filename,
		Data:     data,
	})
	if err != nil {
		return s.mediaError(c, err)
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Success:      true,
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
		Key:          res.Key,
		ThumbnailKey: res.ThumbnailKey,
		MediaID:      res.MediaID,
		HasThumbnail: res.HasThumbnail,
		Kind:         res.Kind,
		Status:       res.Status,
	})
}

// handleReprocess resets an asset and queues a new embedding job.
func (s *Server) handleReprocess(c echo.Context) error {
	a, err := s.deps.Media.Reprocess(c.Request().Context(), scopeOf(c), c.Param("id"))
	if err != nil {
		return s.mediaError(c, err)
	}
	return c.JSON(http.StatusOK, ReprocessResponse{
		Success: true,
		Message: "Media queued for reprocessing",
		Media:   ReprocessMedia{ID: a.ID, Status: a.Status, Attempt: a.Attempt},
	})
}

// handleLink attaches an asset to a product by SKU. An empty body links the
// SKU the asset was uploaded under, once that product exists.
func (s *Server) handleLink(c echo.Context) error {
	var req LinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}
	a, err := s.deps.Media.Link(c.Request().Context(), scopeOf(c), c.Param("id"), req.SKU)
	if err != nil {
		return s.mediaError(c, err)
	}
	return c.JSON(http.StatusOK, LinkResponse{Success: true, Media: a})
}

// handleGetMedia returns one asset with fresh signed URLs.
func (s *Server) handleGetMedia(c echo.Context) error {
	view, err := s.deps.Media.Asset(c.Request().Context(), scopeOf(c), c.Param("id"))
	if err != nil {
		return s.mediaError(c, err)
	}
	return c.JSON(http.StatusOK, MediaResponse{Success: true, Media: view})
}

// handleProductMedia lists a product's legacy and normalized media.
func (s *Server) handleProductMedia(c echo.Context) error {
	productID := c.Param("id")
	media, err := s.deps.Media.ProductMedia(c.Request().Context(), callerOf(c).TenantID, productID)
	if err != nil {
		return s.mediaError(c, err)
	}
	return c.JSON(http.StatusOK, ProductMediaResponse{
		Success:   true,
		ProductID: productID,
		Media:     media,
		Total:     len(media),
	})
}

// handleDeleteProductMedia removes a product's media.
func (s *Server) handleDeleteProductMedia(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := s.deps.Media.DeleteProduct(ctx, callerOf(c).TenantID, c.Param("id"))
	if err != nil {
		return s.mediaError(c, err)
	}
	s.logger.Info(ctx, "product media deleted via api",
		zap.String("product_id", c.Param("id")), zap.Int("deleted", n))
	return c.JSON(http.StatusOK, DeleteMediaResponse{Success: true, Deleted: n})
}

func scopeOf(c echo.Context) ingest.Scope {
	tc := callerOf(c)
	return ingest.Scope{TenantID: tc.TenantID, AnyTenant: tc.CrossTenant()}
}

var errBodyTooLarge = errors.New("request body too large")

// formFile caps the request body at limit plus the multipart envelope and
// returns the "file" part.
func formFile(c echo.Context, limit int64) (*multipart.FileHeader, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit+multipartOverhead)
	fh, err := c.FormFile("file")
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return nil, errBodyTooLarge
	}
	return fh, err
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
