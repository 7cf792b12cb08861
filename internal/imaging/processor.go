// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// Options tune the frame pipeline.
type Options struct {
	ThumbnailWidth   int
	ThumbnailHeight  int
	ThumbnailQuality int
	ArchiveQuality   int
}

// DefaultOptions mirror the built-in config.
func DefaultOptions() Options {
	return Options{ThumbnailWidth: 320, ThumbnailHeight: 240, ThumbnailQuality: 70, ArchiveQuality: 90}
}

// Metadata summarises a processed frame.
type Metadata struct {
	OriginalSize        Size `json:"original_size"`
	ThumbnailSize       Size `json:"thumbnail_size"`
	DecodedBytes        int  `json:"decoded_size"`
	Base64Chars         int  `json:"base64_size_chars"`
	ThumbnailBase64Size int  `json:"thumbnail_base64_size"`
}

// Result is the outcome of Process.
type Result struct {
	ProcessedAt     time.Time  `json:"processed_at"`
	Success         bool       `json:"success"`
	Analysis        *Analysis  `json:"analysis,omitempty"`
	ThumbnailBase64 string     `json:"thumbnail_base64,omitempty"`
	Saved           *ImageInfo `json:"saved_file,omitempty"`
	SaveError       string     `json:"save_error,omitempty"`
	Metadata        *Metadata  `json:"metadata,omitempty"`

	// JPEG is the validated original frame, for relaying to live viewers.
	JPEG []byte `json:"-"`
}

// Processor runs decode, analyse, thumbnail and optional archival.
type Processor struct {
	archive Archive
	opts    Options
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewProcessor wires a processor. A nil archive disables saving.
func NewProcessor(archive Archive, opts Options, clk clock.Clock) *Processor {
	if archive == nil {
		archive = NopArchive{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Processor{archive: archive, opts: opts, clock: clk, logger: log.WithComponent("imaging")}
}

// Archive returns the backing archive.
func (p *Processor) Archive() Archive { return p.archive }

// Process decodes a base64 frame and derives analysis and thumbnail. Archive
// failures are reported in the result rather than failing the frame.
func (p *Processor) Process(ctx context.Context, b64 string, save bool) (Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveImageProcessing(time.Since(start)) }()

	now := p.clock.Now()
	res := Result{ProcessedAt: now}

	raw, err := DecodeBase64(b64)
	if err != nil {
		return res, err
	}
	img, err := Decode(raw)
	if err != nil {
		return res, err
	}

	analysis := Analyze(img)
	res.Analysis = &analysis

	thumb := Thumbnail(img, p.opts.ThumbnailWidth, p.opts.ThumbnailHeight)
	thumbJPEG, err := EncodeJPEG(thumb, p.opts.ThumbnailQuality)
	if err != nil {
		return res, fmt.Errorf("thumbnail: %w", err)
	}
	res.ThumbnailBase64 = EncodeBase64(thumbJPEG)
	res.JPEG = raw

	if save {
		info, err := p.save(ctx, now, img, raw)
		if err != nil {
			p.logger.Warn().Err(err).Str(log.FieldEvent, "imaging.save_failed").Msg("failed to archive frame")
			res.SaveError = err.Error()
		} else {
			res.Saved = &info
		}
	}

	res.Metadata = &Metadata{
		OriginalSize:        SizeOf(img),
		ThumbnailSize:       SizeOf(thumb),
		DecodedBytes:        len(raw),
		Base64Chars:         len(b64),
		ThumbnailBase64Size: len(res.ThumbnailBase64),
	}
	res.Success = true
	return res, nil
}

// SaveJPEG validates and archives raw JPEG bytes, e.g. from a multipart upload.
func (p *Processor) SaveJPEG(ctx context.Context, raw []byte) (ImageInfo, Analysis, error) {
	img, err := Decode(raw)
	if err != nil {
		return ImageInfo{}, Analysis{}, err
	}
	analysis := Analyze(img)
	info, err := p.archive.Save(ctx, p.clock.Now(), raw)
	if err != nil {
		return ImageInfo{}, analysis, fmt.Errorf("archive: %w", err)
	}
	return info, analysis, nil
}

// Cleanup removes frames older than maxAge.
func (p *Processor) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := p.archive.Cleanup(ctx, maxAge)
	if err != nil {
		return n, err
	}
	if n > 0 {
		p.logger.Info().
			Str(log.FieldEvent, "imaging.cleanup").
			Int("deleted", n).
			Dur("max_age", maxAge).
			Msg("removed old frames")
	}
	return n, nil
}

// save re-encodes at archive quality when that shrinks the frame.
func (p *Processor) save(ctx context.Context, at time.Time, img image.Image, raw []byte) (ImageInfo, error) {
	data := raw
	if p.opts.ArchiveQuality > 0 && p.opts.ArchiveQuality < 100 {
		if enc, err := EncodeJPEG(img, p.opts.ArchiveQuality); err == nil && len(enc) < len(raw) {
			data = enc
		}
	}
	return p.archive.Save(ctx, at, data)
}
