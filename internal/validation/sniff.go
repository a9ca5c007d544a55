package validation

import (
	"bytes"
	"encoding/binary"
)

// Format is a detected container format.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatMP4     Format = "mp4"
	FormatWebM    Format = "webm"
	FormatUnknown Format = ""
)

// Kind is the media family of a payload.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Kind returns the media family of f.
func (f Format) Kind() Kind {
	switch f {
	case FormatMP4, FormatWebM:
		return KindVideo
	case FormatJPEG, FormatPNG, FormatWebP:
		return KindImage
	}
	return ""
}

// ContentType returns the MIME type stored with objects of format f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatMP4:
		return "video/mp4"
	case FormatWebM:
		return "video/webm"
	}
	return "application/octet-stream"
}

// Ext returns the canonical file extension for f.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatUnknown:
		return "bin"
	}
	return string(f)
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	exifID    = []byte("Exif\x00\x00")
)

// Sniff detects the container format from magic bytes only.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		return FormatMP4
	case bytes.HasPrefix(data, ebmlMagic):
		return FormatWebM
	}
	return FormatUnknown
}

// formatForExt maps a lower-case extension to the format it promises.
var formatForExt = map[string]Format{
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"webp": FormatWebP,
	"mp4":  FormatMP4,
	"m4v":  FormatMP4,
	"mov":  FormatMP4,
	"webm": FormatWebM,
}

// hasExif reports whether the payload carries an EXIF block.
func hasExif(data []byte, f Format) bool {
	switch f {
	case FormatJPEG:
		return jpegHasExif(data)
	case FormatPNG:
		return pngHasChunk(data, "eXIf")
	case FormatWebP:
		return riffHasChunk(data, "EXIF")
	}
	return false
}

// jpegHasExif walks marker segments up to start-of-scan looking for an APP1
// segment whose payload starts with the Exif identifier.
func jpegHasExif(data []byte) bool {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return false
		}
		marker := data[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return false
		}
		size := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if size < 2 || i+2+size > len(data) {
			return false
		}
		if marker == 0xE1 && bytes.HasPrefix(data[i+4:i+2+size], exifID) {
			return true
		}
		i += 2 + size
	}
	return false
}

func pngHasChunk(data []byte, name string) bool {
	i := len(pngMagic)
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		typ := string(data[i+4 : i+8])
		if typ == name {
			return true
		}
		if typ == "IEND" {
			return false
		}
		i += 12 + length
	}
	return false
}

func riffHasChunk(data []byte, name string) bool {
	i := 12
	for i+8 <= len(data) {
		typ := string(data[i : i+4])
		if typ == name {
			return true
		}
		size := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		i += 8 + size + size&1
	}
	return false
}
