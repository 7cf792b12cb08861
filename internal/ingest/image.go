// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
	"github.com/ManuGH/babybridge/internal/state"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// ErrInvalidImage is returned for uploads that are not decodable JPEGs.
var ErrInvalidImage = errors.New("invalid image")

// ImageProcessing reports what happened to a frame.
type ImageProcessing struct {
	ImageStored     bool              `json:"image_stored"`
	ImageSize       int               `json:"image_size"`
	ImageValid      bool              `json:"image_valid"`
	AlertLevel      string            `json:"alert_level"`
	VisionScore     int               `json:"vision_score"`
	VisionAlerts    []string          `json:"vision_alerts"`
	AppsNotified    int               `json:"apps_notified"`
	SavedFile       string            `json:"saved_file,omitempty"`
	Analysis        *imaging.Analysis `json:"analysis,omitempty"`
	Metadata        *imaging.Metadata `json:"metadata,omitempty"`
	ThumbnailBase64 string            `json:"thumbnail_base64,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// ImageResult is returned to the camera after a frame.
type ImageResult struct {
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	DeviceType string          `json:"device_type"`
	Timestamp  string          `json:"timestamp"`
	Processing ImageProcessing `json:"processing_results"`
}

// Image handles a base64 frame from the ESP Eye. An undecodable frame is
// reported as invalid rather than failing the request, matching what the
// camera firmware expects.
func (s *Service) Image(ctx context.Context, raw device.Raw, ip string) ImageResult {
	ctx, span := s.tracer.Start(ctx, "ingest.image")
	defer span.End()
	span.SetAttributes(telemetry.DeviceAttributes(string(device.KindEye), ip)...)

	now := s.deps.Clock.Now().In(clock.KST)
	frame := device.NormalizeEye(raw, ip, now)
	s.deps.Registry.MarkSeen(device.KindEye, ip)
	metrics.RecordAlert("vision", frame.AlertLevel)

	res := ImageResult{
		Status:     "success",
		Message:    "ESP Eye 이미지 처리 완료",
		DeviceType: string(device.KindEye),
		Timestamp:  clock.ISO(now),
		Processing: ImageProcessing{
			AlertLevel:   frame.AlertLevel,
			VisionScore:  frame.VisionScore,
			VisionAlerts: frame.VisionAlerts,
		},
	}

	clean := imaging.CleanBase64(frame.ImageBase64)
	if clean == "" {
		metrics.RecordIngest("image", "invalid")
		return res
	}

	logger := log.WithComponentFromContext(ctx, "ingest")
	out, err := s.deps.Images.Process(ctx, clean, s.archiveFrames.Load())
	if err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "ingest.image_invalid").
			Str(log.FieldDeviceIP, ip).
			Int("chars", len(clean)).
			Msg("discarding undecodable frame")
		metrics.RecordIngest("image", "invalid")
		res.Processing.Error = err.Error()
		return res
	}

	res.Processing.ImageValid = true
	res.Processing.ImageSize = len(clean)
	res.Processing.Analysis = out.Analysis
	res.Processing.Metadata = out.Metadata
	res.Processing.ThumbnailBase64 = out.ThumbnailBase64
	if out.Saved != nil {
		res.Processing.SavedFile = out.Saved.Name
	}

	rec := s.frameRecord(now, frame.AlertLevel, "esp_eye", clean, out.JPEG, out.Analysis, res.Processing.SavedFile)
	res.Processing.ImageStored, res.Processing.AppsNotified = s.storeFrame(ctx, now, rec, out.JPEG, out.Analysis)

	metrics.RecordIngest("image", "ok")
	span.SetAttributes(telemetry.IngestAttributes("image", true, false)...)
	return res
}

// UploadResult is returned for a multipart JPEG upload.
type UploadResult struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Timestamp    string            `json:"timestamp"`
	Filename     string            `json:"filename,omitempty"`
	SizeBytes    int               `json:"size_bytes"`
	ImageStored  bool              `json:"image_stored"`
	AppsNotified int               `json:"apps_notified"`
	Analysis     *imaging.Analysis `json:"analysis"`
}

// Upload archives a raw JPEG posted as a file and publishes it like a frame.
func (s *Service) Upload(ctx context.Context, jpeg []byte, ip string) (UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.upload")
	defer span.End()

	now := s.deps.Clock.Now().In(clock.KST)
	info, analysis, err := s.deps.Images.SaveJPEG(ctx, jpeg)
	if err != nil {
		// SaveJPEG only analyses frames it managed to decode.
		if analysis.Width == 0 {
			metrics.RecordIngest("upload", "invalid")
			return UploadResult{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		metrics.RecordIngest("upload", "error")
		return UploadResult{}, err
	}
	s.deps.Registry.MarkSeen(device.KindEye, ip)

	b64 := imaging.EncodeBase64(jpeg)
	rec := s.frameRecord(now, device.VisionNormal, "upload", b64, jpeg, &analysis, info.Name)
	stored, notified := s.storeFrame(ctx, now, rec, jpeg, &analysis)

	metrics.RecordIngest("upload", "ok")
	span.SetAttributes(telemetry.IngestAttributes("upload", true, false)...)
	return UploadResult{
		Status:       "success",
		Message:      "이미지 업로드 완료",
		Timestamp:    clock.ISO(now),
		Filename:     info.Name,
		SizeBytes:    len(jpeg),
		ImageStored:  stored,
		AppsNotified: notified,
		Analysis:     &analysis,
	}, nil
}

func (s *Service) frameRecord(now time.Time, level, source, b64 string, jpeg []byte, a *imaging.Analysis, saved string) state.ImageRecord {
	rec := state.ImageRecord{
		Timestamp:   clock.ISO(now),
		ImageBase64: b64,
		HasImage:    true,
		AlertLevel:  level,
		Source:      source,
		SavedFile:   saved,
		Metadata: state.ImageMetadata{
			Format:      "jpeg",
			Size:        len(b64),
			DecodedSize: len(jpeg),
		},
	}
	if a != nil {
		rec.Metadata.Width, rec.Metadata.Height = a.Width, a.Height
	}
	return rec
}

// storeFrame relays, stores, records and announces a decoded frame.
func (s *Service) storeFrame(ctx context.Context, now time.Time, rec state.ImageRecord, jpeg []byte, a *imaging.Analysis) (stored bool, notified int) {
	logger := log.WithComponentFromContext(ctx, "ingest")

	if s.deps.Relay != nil {
		s.deps.Relay.Publish(ctx, jpeg)
	}

	if err := s.deps.State.SaveImage(ctx, rec); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "ingest.state_failed").Msg("failed to store latest image")
	} else {
		stored = true
	}

	if s.deps.History != nil {
		c := history.Capture{
			At:         now,
			Filename:   rec.SavedFile,
			Source:     rec.Source,
			SizeBytes:  len(jpeg),
			Width:      rec.Metadata.Width,
			Height:     rec.Metadata.Height,
			AlertLevel: rec.AlertLevel,
		}
		if a != nil {
			c.QualityScore = a.QualityScore
		}
		if err := s.deps.History.RecordCapture(ctx, c); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "ingest.history_failed").Msg("failed to record capture")
		}
	}

	if s.deps.Apps != nil {
		notified = s.deps.Apps.SendImageUpdate(rec.Timestamp, rec.AlertLevel)
	}
	return stored, notified
}
