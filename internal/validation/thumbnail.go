package validation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// Thumbnail dimensions for synthesized video posters.
const (
	ThumbnailWidth  = 400
	ThumbnailHeight = 300
)

var (
	posterBackground = color.RGBA{R: 0x33, G: 0x33, B: 0x3a, A: 0xff}
	posterGlyph      = color.RGBA{R: 0xe6, G: 0xe6, B: 0xe6, A: 0xff}
)

// VideoThumbnail synthesizes a poster JPEG for a video. Frame extraction needs
// a video decoder, so the poster is a neutral frame with a play glyph.
func VideoThumbnail() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, ThumbnailWidth, ThumbnailHeight))
	cx, cy := ThumbnailWidth/2, ThumbnailHeight/2
	const half = 40
	for y := 0; y < ThumbnailHeight; y++ {
		for x := 0; x < ThumbnailWidth; x++ {
			img.SetRGBA(x, y, posterBackground)
			// Right-pointing triangle centred on (cx, cy).
			dx, dy := x-(cx-half/2), y-cy
			if dx >= 0 && dx <= half && abs(dy) <= half-dx {
				img.SetRGBA(x, y, posterGlyph)
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
