package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	"github.com/fyrsmithlabs/mediasearch/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AllowedTypes are the query image MIME types.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// QueryError rejects a query image before it reaches the embedding service.
type QueryError struct {
	Reason      string
	TooLarge    bool
	Unsupported bool
}

func (e *QueryError) Error() string {
	return "invalid search image: " + e.Reason
}

// QueryInfo echoes the query file and the model that embedded it.
type QueryInfo struct {
	FileName string `json:"fileName"`
	FileSize int    `json:"fileSize"`
	FileType string `json:"fileType"`
	Model    string `json:"model"`
	Device   string `json:"device"`
}

// RawScore is a debug view of one result.
type RawScore struct {
	ProductName       string  `json:"productName"`
	RawScore          float32 `json:"rawScore"`
	SimilarityPercent int     `json:"similarityPercent"`
}

// Debug carries diagnostics for non-production deployments.
type Debug struct {
	RawScores []RawScore `json:"rawScores"`
}

// Response is the outcome of an image search.
type Response struct {
	Success bool      `json:"success"`
	Results []Result  `json:"results"`
	Total   int       `json:"total"`
	Query   QueryInfo `json:"query"`
	Debug   *Debug    `json:"debug,omitempty"`
}

// SearchByImage embeds the query image and returns the best match of each of
// the tenant's most similar products.
func (e *Engine) SearchByImage(ctx context.Context, tenantID, filename string, data []byte) (resp *Response, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.SearchByImage")
	defer func() {
		SearchDuration.Observe(time.Since(start).Seconds())
		result := "success"
		var qe *QueryError
		switch {
		case errors.As(err, &qe):
			result = "invalid"
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		Searches.WithLabelValues(result).Inc()
		span.End()
	}()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.Int("bytes", len(data)))

	format, err := e.checkQuery(filename, data)
	if err != nil {
		return nil, err
	}

	emb, err := e.embedder.EmbedImage(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}

	// Several hits may belong to one product; fetch extra so grouping still
	// fills the page.
	ranked, err := e.SearchByVector(ctx, emb.Vector, tenantID, e.config.TopK*2)
	if err != nil {
		return nil, err
	}
	results := BestPerProduct(e.Enrich(ctx, tenantID, ranked), e.config.TopK)

	resp = &Response{
		Success: true,
		Results: results,
		Total:   len(results),
		Query: QueryInfo{
			FileName: filename,
			FileSize: len(data),
			FileType: format.ContentType(),
			Model:    emb.Model,
			Device:   emb.Device,
		},
	}
	if e.config.Debug {
		resp.Debug = &Debug{RawScores: make([]RawScore, 0, len(results))}
		for _, r := range results {
			resp.Debug.RawScores = append(resp.Debug.RawScores, RawScore{
				ProductName:       r.ProductName,
				RawScore:          r.Score,
				SimilarityPercent: r.SimilarityPercent,
			})
		}
	}

	e.logger.Info("image search completed",
		zap.String("tenant_id", tenantID),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (e *Engine) checkQuery(filename string, data []byte) (validation.Format, error) {
	if int64(len(data)) > e.config.MaxQueryBytes {
		return "", &QueryError{TooLarge: true, Reason: "file too large"}
	}
	res := e.validator.Validate(data, filename, e.config.MaxQueryBytes)
	if !res.Valid {
		unsupported := res.Reason == validation.ReasonUnsupportedType || res.Reason == validation.ReasonTypeMismatch
		return "", &QueryError{Reason: res.Reason, Unsupported: unsupported}
	}
	if res.Kind() != validation.KindImage {
		return "", &QueryError{Reason: validation.ReasonUnsupportedType, Unsupported: true}
	}
	return res.Format, nil
}

// Health reports the embedding service's state.
type Health struct {
	Service          string   `json:"service"`
	Status           string   `json:"status"`
	EmbeddingService string   `json:"embeddingServiceStatus"`
	ModelLoaded      bool     `json:"modelLoaded"`
	Device           string   `json:"device,omitempty"`
	MaxFileSize      int64    `json:"maxFileSize"`
	AllowedTypes     []string `json:"allowedTypes"`
}

// Health probes the embedding service within HealthTimeout. The engine
// itself stays operational when the probe fails.
func (e *Engine) Health(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	h := &Health{
		Service:      "Search by Image API",
		Status:       "operational",
		MaxFileSize:  e.config.MaxQueryBytes,
		AllowedTypes: AllowedTypes,
	}
	eh, err := e.embedder.Health(ctx)
	switch {
	case err == nil:
		h.EmbeddingService = "healthy"
		h.ModelLoaded = eh.ModelLoaded
		h.Device = eh.Device
	case errors.Is(err, embeddings.ErrServiceUnavailable):
		h.EmbeddingService = "unavailable"
	default:
		h.EmbeddingService = "unhealthy"
	}
	return h
}
