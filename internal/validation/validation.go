// Package validation inspects untrusted media bytes before anything else in
// the pipeline sees them.
//
// Validate never writes anywhere; callers must treat an invalid Result as a
// hard stop before any storage call. Sanitize re-encodes images, which drops
// EXIF, IPTC, XMP and ICC data as a side effect of decoding to pixels.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"strings"

	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	_ "golang.org/x/image/webp" // register decoder
)

// Rejection reasons returned in Result.Reason. They are stable strings that
// the HTTP layer surfaces verbatim.
const (
	ReasonEmpty            = "Empty file"
	ReasonInvalidImage     = "Invalid image file"
	ReasonUnsupportedType  = "Unsupported file type"
	ReasonTypeMismatch     = "File content does not match its extension"
	ReasonDimensionsTooBig = "Image dimensions too large"
	ReasonSuspiciousName   = "Suspicious filename pattern detected"
)

// DefaultMaxDimension bounds either side of an image in pixels.
const DefaultMaxDimension = 10000

const minimumContainerHeader = 12

// ErrInvalid is returned by Sanitize when the payload cannot be decoded.
var ErrInvalid = errors.New("invalid media")

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Reason string

	Format Format
	Width  int
	Height int
}

// Kind returns the media family of a valid result.
func (r Result) Kind() Kind {
	return r.Format.Kind()
}

// Validator checks raw uploads.
type Validator struct {
	maxDimension int
}

// New returns a Validator rejecting images wider or taller than maxDimension.
// A non-positive value selects DefaultMaxDimension.
func New(maxDimension int) *Validator {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Validator{maxDimension: maxDimension}
}

// Validate checks size, filename, container type and pixel dimensions, in
// that order. Size is checked before any decoding.
func (v *Validator) Validate(data []byte, filename string, maxSize int64) Result {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return invalid(fmt.Sprintf("File size %dMB exceeds maximum %dMB",
			roundMB(int64(len(data))), roundMB(maxSize)))
	}
	if len(data) == 0 {
		return invalid(ReasonEmpty)
	}
	if err := sanitize.CheckFilename(filename); err != nil {
		return invalid(ReasonSuspiciousName)
	}

	format := Sniff(data)
	if format == FormatUnknown {
		return invalid(ReasonUnsupportedType)
	}
	if want, ok := formatForExt[sanitize.Extension(filename, "")]; ok && want.Kind() != format.Kind() {
		return invalid(ReasonTypeMismatch)
	}

	res := Result{Valid: true, Format: format}
	if format.Kind() == KindVideo {
		if len(data) < minimumContainerHeader {
			return invalid(ReasonUnsupportedType)
		}
		return res
	}

	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return invalid(ReasonInvalidImage)
	}
	if !strings.EqualFold(decoded, string(format)) {
		return invalid(ReasonInvalidImage)
	}
	if cfg.Width > v.maxDimension || cfg.Height > v.maxDimension {
		return invalid(ReasonDimensionsTooBig)
	}
	res.Width, res.Height = cfg.Width, cfg.Height
	return res
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

func roundMB(n int64) int64 {
	return (n + (1 << 19)) >> 20
}
