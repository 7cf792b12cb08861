// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
)

var gray128 = color.RGBA{R: 128, G: 128, B: 128, A: 255}

func TestCleanBase64(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "QUJD", want: "QUJD"},
		{in: " QU\nJ\r D ", want: "QUJD"},
		{in: "data:image/jpeg;base64,QUJD", want: "QUJD"},
		{in: "data:image/jpeg;base64,\nQU JD", want: "QUJD"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanBase64(tt.in))
	}
}

func TestDecodeBase64(t *testing.T) {
	b, err := DecodeBase64("QUJD")
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), b)

	b, err = DecodeBase64("QUI")
	require.NoError(t, err)
	assert.Equal(t, []byte("AB"), b)

	_, err = DecodeBase64("   ")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeBase64("!!!not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidBase64)
}

func TestDecodeRejectsNonJPEG(t *testing.T) {
	_, err := Decode([]byte("\x89PNG\r\n"))
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name        string
		img         image.Image
		wantLevel   string
		wantScore   int
		wantFactors []string
		orientation string
	}{
		{
			name:        "well exposed VGA",
			img:         solidImage(640, 480, gray128),
			wantLevel:   QualityExcellent,
			wantScore:   100,
			wantFactors: []string{"Good quality"},
			orientation: "landscape",
		},
		{
			name:        "dark low resolution",
			img:         solidImage(160, 120, color.RGBA{R: 10, G: 10, B: 10, A: 255}),
			wantLevel:   QualityFair,
			wantScore:   50,
			wantFactors: []string{"Low resolution", "Too dark"},
			orientation: "landscape",
		},
		{
			name:        "red cast overexposed square",
			img:         solidImage(400, 400, color.RGBA{R: 255, G: 200, B: 190, A: 255}),
			wantLevel:   QualityGood,
			wantScore:   70,
			wantFactors: []string{"Overexposed", "Color imbalance"},
			orientation: "square",
		},
		{
			name:        "grayscale skips exposure",
			img:         image.NewGray(image.Rect(0, 0, 480, 640)),
			wantLevel:   QualityExcellent,
			wantScore:   100,
			wantFactors: []string{"Good quality"},
			orientation: "portrait",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(tt.img)
			assert.Equal(t, tt.wantLevel, a.QualityLevel)
			assert.Equal(t, tt.wantScore, a.QualityScore)
			assert.Equal(t, tt.wantFactors, a.QualityFactors)
			assert.Equal(t, tt.orientation, a.Orientation)
		})
	}
}

func TestAnalyzeColorChannels(t *testing.T) {
	a := Analyze(solidImage(640, 480, gray128))
	require.NotNil(t, a.ColorChannels)
	require.NotNil(t, a.AverageBrightness)
	assert.Equal(t, 128.0, *a.AverageBrightness)
	assert.Equal(t, 1.33, a.AspectRatio)
	assert.Equal(t, 640*480, a.TotalPixels)
}

func TestThumbnailPreservesAspect(t *testing.T) {
	thumb := Thumbnail(solidImage(640, 480, gray128), 320, 240)
	assert.Equal(t, Size{Width: 320, Height: 240}, SizeOf(thumb))

	thumb = Thumbnail(solidImage(800, 200, gray128), 320, 240)
	assert.Equal(t, Size{Width: 320, Height: 80}, SizeOf(thumb))

	small := solidImage(100, 100, gray128)
	assert.Same(t, small, Thumbnail(small, 320, 240))
}

func TestProcessorProcess(t *testing.T) {
	clk := clock.NewFixed(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	archive, err := NewFSArchive(t.TempDir(), clk)
	require.NoError(t, err)
	p := NewProcessor(archive, DefaultOptions(), clk)

	frame := jpegBytes(t, 640, 480, gray128)
	res, err := p.Process(context.Background(), "data:image/jpeg;base64,"+EncodeBase64(frame), true)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, Size{Width: 640, Height: 480}, res.Metadata.OriginalSize)
	assert.Equal(t, Size{Width: 320, Height: 240}, res.Metadata.ThumbnailSize)
	assert.Equal(t, len(frame), res.Metadata.DecodedBytes)
	assert.NotEmpty(t, res.ThumbnailBase64)
	require.NotNil(t, res.Saved)
	assert.Equal(t, "baby_image_20240501_090000.jpg", res.Saved.Name)
	assert.Equal(t, frame, res.JPEG)
}

func TestProcessorRejectsGarbage(t *testing.T) {
	p := NewProcessor(nil, DefaultOptions(), nil)

	_, err := p.Process(context.Background(), EncodeBase64([]byte("hello")), false)
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestProcessorSaveJPEG(t *testing.T) {
	archive, err := NewFSArchive(t.TempDir(), nil)
	require.NoError(t, err)
	p := NewProcessor(archive, DefaultOptions(), nil)

	info, analysis, err := p.SaveJPEG(context.Background(), jpegBytes(t, 320, 240, gray128))
	require.NoError(t, err)
	assert.True(t, ValidName(info.Name))
	assert.Equal(t, 320, analysis.Width)
}
