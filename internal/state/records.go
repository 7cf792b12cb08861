// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
)

const streamStatusTTL = 60 * time.Second

// StoredReading is a sensor reading plus the time it was stored.
type StoredReading struct {
	device.Reading
	StoredAt string `json:"stored_at"`
}

// SaveReading stores the latest sensor reading.
func (s *Store) SaveReading(ctx context.Context, r device.Reading) error {
	return s.PutJSON(ctx, KeyCurrentData, StoredReading{
		Reading:  r,
		StoredAt: clock.ISO(s.clock.Now()),
	}, s.cfg.DataTTL)
}

// LatestReading returns the last stored reading, if it has not expired.
func (s *Store) LatestReading(ctx context.Context) (StoredReading, bool, error) {
	var r StoredReading
	ok, err := s.GetJSON(ctx, KeyCurrentData, &r)
	return r, ok, err
}

// ImageMetadata describes a stored frame.
type ImageMetadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	Size        int    `json:"size"`
	DecodedSize int    `json:"decoded_size,omitempty"`
}

// ImageRecord is the latest camera frame kept for polling clients.
type ImageRecord struct {
	Timestamp   string        `json:"timestamp"`
	ImageBase64 string        `json:"image_base64,omitempty"`
	HasImage    bool          `json:"has_image"`
	AlertLevel  string        `json:"alert_level,omitempty"`
	Source      string        `json:"source,omitempty"`
	SavedFile   string        `json:"saved_file,omitempty"`
	Metadata    ImageMetadata `json:"metadata"`
}

// SaveImage stores rec as the latest image and prepends its metadata
// (without the payload) to the recent image list.
func (s *Store) SaveImage(ctx context.Context, rec ImageRecord) error {
	if rec.Timestamp == "" {
		rec.Timestamp = clock.ISO(s.clock.Now())
	}
	if err := s.PutJSON(ctx, KeyLatestImage, rec, s.cfg.ImageTTL); err != nil {
		return err
	}
	meta := rec
	meta.ImageBase64 = ""
	return s.PushJSON(ctx, KeyRecentImages, meta, s.cfg.RecentImages)
}

// LatestImage returns the last stored frame.
func (s *Store) LatestImage(ctx context.Context) (ImageRecord, bool, error) {
	var rec ImageRecord
	ok, err := s.GetJSON(ctx, KeyLatestImage, &rec)
	return rec, ok, err
}

// RecentImages lists up to n recent frame records, newest first.
func (s *Store) RecentImages(ctx context.Context, n int) ([]ImageRecord, error) {
	if n <= 0 || n > s.cfg.RecentImages {
		n = s.cfg.RecentImages
	}
	out := make([]ImageRecord, 0, n)
	err := s.RangeJSON(ctx, KeyRecentImages, n, func(b []byte) error {
		var rec ImageRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// CommandEntry is one forwarded device command.
type CommandEntry struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Source    string         `json:"source"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// AppendCommand adds e to the capped command log.
func (s *Store) AppendCommand(ctx context.Context, e CommandEntry) error {
	if e.Timestamp == "" {
		e.Timestamp = clock.ISO(s.clock.Now())
	}
	return s.PushJSON(ctx, KeyCommandLog, e, s.cfg.CommandLog)
}

// RecentCommands lists up to n commands, newest first.
func (s *Store) RecentCommands(ctx context.Context, n int) ([]CommandEntry, error) {
	if n <= 0 || n > s.cfg.CommandLog {
		n = s.cfg.CommandLog
	}
	out := make([]CommandEntry, 0, n)
	err := s.RangeJSON(ctx, KeyCommandLog, n, func(b []byte) error {
		var e CommandEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// StreamStatus is the MJPEG relay state shared with other instances.
type StreamStatus struct {
	Active     bool   `json:"active"`
	Viewers    int    `json:"viewers"`
	Frames     int64  `json:"frames"`
	LastFrame  string `json:"last_frame,omitempty"`
	UpdatedAt  string `json:"updated_at"`
	FrameBytes int    `json:"frame_bytes,omitempty"`
}

// SaveStreamStatus stores st with a short TTL.
func (s *Store) SaveStreamStatus(ctx context.Context, st StreamStatus) error {
	st.UpdatedAt = clock.ISO(s.clock.Now())
	return s.PutJSON(ctx, KeyStreamStatus, st, streamStatusTTL)
}

// LatestStreamStatus returns the last stream status.
func (s *Store) LatestStreamStatus(ctx context.Context) (StreamStatus, bool, error) {
	var st StreamStatus
	ok, err := s.GetJSON(ctx, KeyStreamStatus, &st)
	return st, ok, err
}
