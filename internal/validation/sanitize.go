package validation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Defaults for Sanitize.
const (
	DefaultMaxSide = 2048
	DefaultQuality = 85
)

// Options controls image re-encoding.
type Options struct {
	MaxSide int // longest side after resize; images are never enlarged
	Quality int // JPEG quality 1-100
}

// Sanitized is a metadata-free re-encoding of an image.
type Sanitized struct {
	Data    []byte
	Format  Format
	Width   int
	Height  int
	HadExif bool
}

// Sanitize decodes an image, shrinks it to fit opts.MaxSide and re-encodes it.
// PNG stays PNG to keep transparency; JPEG and WebP are written as JPEG.
// Videos are returned untouched.
func Sanitize(data []byte, opts Options) (*Sanitized, error) {
	if opts.MaxSide <= 0 {
		opts.MaxSide = DefaultMaxSide
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	format := Sniff(data)
	if format.Kind() == KindVideo {
		return &Sanitized{Data: data, Format: format}, nil
	}
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: unsupported format", ErrInvalid)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	img := fit(src, opts.MaxSide)
	out := &Sanitized{
		HadExif: hasExif(data, format),
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
	}

	var buf bytes.Buffer
	if format == FormatPNG {
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		out.Format = FormatPNG
	} else {
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: opts.Quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		out.Format = FormatJPEG
	}
	out.Data = buf.Bytes()
	return out, nil
}

// fit scales img down so neither side exceeds maxSide, preserving aspect ratio.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// flatten composites img over white so transparent WebP pixels do not turn
// black when written as JPEG.
func flatten(img image.Image) image.Image {
	if _, opaque := img.(*image.YCbCr); opaque {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
