// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
)

// ErrNotFound is returned when an archived image does not exist.
var ErrNotFound = errors.New("image not found")

// ErrInvalidName is returned for names that are not archive names.
var ErrInvalidName = errors.New("invalid image name")

// ImageInfo describes one archived frame.
type ImageInfo struct {
	Name      string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive persists full-quality frames.
type Archive interface {
	Save(ctx context.Context, at time.Time, jpeg []byte) (ImageInfo, error)
	Get(ctx context.Context, name string) ([]byte, ImageInfo, error)
	// List returns up to n images, newest first.
	List(ctx context.Context, n int) ([]ImageInfo, error)
	// Cleanup deletes images older than maxAge and reports how many went.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

const namePrefix = "baby_image_"

var namePattern = regexp.MustCompile(`^baby_image_\d{8}_\d{6}(_\d+)?\.jpg$`)

// FileName returns the archive name for a capture at t, e.g.
// baby_image_20240101_093000.jpg. seq > 0 disambiguates captures within
// the same second.
func FileName(t time.Time, seq int) string {
	base := namePrefix + t.In(clock.KST).Format("20060102_150405")
	if seq > 0 {
		return fmt.Sprintf("%s_%d.jpg", base, seq)
	}
	return base + ".jpg"
}

// ValidName reports whether name is a well-formed archive name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// NopArchive discards frames. It backs the "none" image backend.
type NopArchive struct{}

func (NopArchive) Save(context.Context, time.Time, []byte) (ImageInfo, error) {
	return ImageInfo{}, nil
}

func (NopArchive) Get(context.Context, string) ([]byte, ImageInfo, error) {
	return nil, ImageInfo{}, ErrNotFound
}

func (NopArchive) List(context.Context, int) ([]ImageInfo, error) { return nil, nil }

func (NopArchive) Cleanup(context.Context, time.Duration) (int, error) { return 0, nil }

func (NopArchive) Close() error { return nil }
