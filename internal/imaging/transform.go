// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Size is a width/height pair.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SizeOf returns the dimensions of img.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// Decode parses JPEG bytes.
func Decode(b []byte) (image.Image, error) {
	if !IsJPEG(b) {
		return nil, ErrNotJPEG
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return img, nil
}

// Thumbnail scales img to fit within maxW x maxH, preserving aspect ratio.
// Images already inside the bounds are returned unchanged.
func Thumbnail(img image.Image, maxW, maxH int) image.Image {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if w <= maxW && h <= maxH || w == 0 || h == 0 {
		return img
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	tw := max(1, int(float64(w)*scale))
	th := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality (1..100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
