// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package imaging decodes, analyses, thumbnails and archives camera frames.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyImage is returned for an empty payload.
	ErrEmptyImage = errors.New("empty image")
	// ErrInvalidBase64 wraps base64 decode failures.
	ErrInvalidBase64 = errors.New("invalid base64 image")
	// ErrNotJPEG is returned when decoded bytes lack the JPEG SOI marker.
	ErrNotJPEG = errors.New("not a JPEG image")
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

var whitespace = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "")

// CleanBase64 strips whitespace and any data URL prefix from a camera payload.
func CleanBase64(s string) string {
	s = strings.TrimSpace(whitespace.Replace(s))
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	return s
}

// DecodeBase64 cleans and decodes a payload. Unpadded input is accepted
// because some camera firmwares drop the trailing '='.
func DecodeBase64(s string) ([]byte, error) {
	s = CleanBase64(s)
	if s == "" {
		return nil, ErrEmptyImage
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		b, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
	}
	return b, nil
}

// IsJPEG reports whether b starts with a JPEG SOI marker.
func IsJPEG(b []byte) bool {
	return bytes.HasPrefix(b, jpegMagic)
}

// EncodeBase64 is the inverse of DecodeBase64 for stored frames.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
