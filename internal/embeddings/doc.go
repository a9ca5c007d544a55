// Package embeddings is the client for the external image embedding service.
//
// The service accepts a multipart image upload at /embed-image and answers
// with a fixed-length vector plus the model and device that produced it.
// Failures are split into sentinels so callers can tell a transient outage
// (ErrServiceUnavailable) from a broken service contract (ErrBadStatus,
// ErrMalformedResponse, ErrInvalidDimension).
package embeddings
