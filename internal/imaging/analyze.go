// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"image"
	"math"
)

// Quality levels.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// ColorChannels are per-channel mean intensities on a 0..255 scale.
type ColorChannels struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Analysis is a heuristic quality report for one frame.
type Analysis struct {
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	AspectRatio       float64        `json:"aspect_ratio"`
	TotalPixels       int            `json:"total_pixels"`
	Orientation       string         `json:"orientation"`
	AverageBrightness *float64       `json:"average_brightness,omitempty"`
	ColorChannels     *ColorChannels `json:"color_channels,omitempty"`
	QualityFactors    []string       `json:"quality_factors"`
	QualityScore      int            `json:"quality_score"`
	QualityLevel      string         `json:"quality_level"`
}

// Analyze inspects resolution, exposure and colour balance. Grayscale frames
// only get the resolution checks.
func Analyze(img image.Image) Analysis {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	a := Analysis{
		Width:       w,
		Height:      h,
		TotalPixels: w * h,
		Orientation: orientation(w, h),
	}
	if h > 0 {
		a.AspectRatio = round2(float64(w) / float64(h))
	}

	var factors []string
	score := 100

	switch {
	case w < 320 || h < 240:
		factors = append(factors, "Low resolution")
		score -= 20
	case w > 1920 || h > 1080:
		factors = append(factors, "Very high resolution")
	}

	if _, gray := img.(*image.Gray); !gray && w > 0 && h > 0 {
		ch := channelMeans(img)
		brightness := round2((ch.Red + ch.Green + ch.Blue) / 3)
		a.AverageBrightness = &brightness
		a.ColorChannels = &ColorChannels{Red: round2(ch.Red), Green: round2(ch.Green), Blue: round2(ch.Blue)}

		switch {
		case brightness < 50:
			factors = append(factors, "Too dark")
			score -= 30
		case brightness > 200:
			factors = append(factors, "Overexposed")
			score -= 20
		}

		spread := math.Max(ch.Red, math.Max(ch.Green, ch.Blue)) - math.Min(ch.Red, math.Min(ch.Green, ch.Blue))
		if spread > 50 {
			factors = append(factors, "Color imbalance")
			score -= 10
		}
	}

	if len(factors) == 0 {
		factors = []string{"Good quality"}
	}
	a.QualityFactors = factors
	a.QualityScore = max(0, min(100, score))
	switch {
	case a.QualityScore >= 90:
		a.QualityLevel = QualityExcellent
	case a.QualityScore >= 70:
		a.QualityLevel = QualityGood
	case a.QualityScore >= 50:
		a.QualityLevel = QualityFair
	default:
		a.QualityLevel = QualityPoor
	}
	return a
}

func orientation(w, h int) string {
	switch {
	case w > h:
		return "landscape"
	case h > w:
		return "portrait"
	default:
		return "square"
	}
}

func channelMeans(img image.Image) ColorChannels {
	b := img.Bounds()
	var rs, gs, bs float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rs += float64(r >> 8)
			gs += float64(g >> 8)
			bs += float64(bl >> 8)
		}
	}
	n := float64(b.Dx() * b.Dy())
	return ColorChannels{Red: rs / n, Green: gs / n, Blue: bs / n}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
