// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/log"
)

const (
	defaultArchiveList = 50
	maxArchiveList     = 500
	debugPreviewChars  = 50
)

func (s *Server) handleLatestImage(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.deps.State.LatestImage(r.Context())
	if err != nil {
		writeInternal(w, "이미지 조회 실패: "+err.Error())
		return
	}
	if !ok || rec.ImageBase64 == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "no_image",
			"has_image": false,
			"message":   "최신 이미지가 없습니다",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"has_image":    true,
		"image_base64": rec.ImageBase64,
		"timestamp":    rec.Timestamp,
		"alert_level":  rec.AlertLevel,
		"saved_file":   rec.SavedFile,
		"metadata":     rec.Metadata,
		"size":         len(rec.ImageBase64),
	})
}

func (s *Server) handleLatestImageData(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.deps.State.LatestImage(r.Context())
	if err != nil {
		writeInternal(w, err.Error())
		return
	}
	if !ok || rec.ImageBase64 == "" {
		writeJSON(w, http.StatusOK, map[string]any{"image": nil, "timestamp": nil})
		return
	}
	format := rec.Metadata.Format
	if format == "" {
		format = "jpeg"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"image":     rec.ImageBase64,
		"timestamp": rec.Timestamp,
		"format":    format,
	})
}

func (s *Server) handleImageDebug(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.deps.State.LatestImage(r.Context())
	if err != nil {
		writeInternal(w, err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"has_data": false, "message": "No image data found"})
		return
	}
	b64 := rec.ImageBase64
	head, tail := b64, b64
	if len(b64) > debugPreviewChars {
		head = b64[:debugPreviewChars]
		tail = b64[len(b64)-debugPreviewChars:]
	}
	if head == "" {
		head = "empty"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_data":           true,
		"timestamp":          rec.Timestamp,
		"image_length":       len(b64),
		"image_starts_with":  head,
		"image_ends_with":    tail,
		"metadata":           rec.Metadata,
		"valid_base64_chars": imaging.CleanBase64(b64) == b64,
	})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveList
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxArchiveList)
	}

	images, err := s.deps.Images.Archive().List(r.Context(), limit)
	if err != nil {
		writeInternal(w, err.Error())
		return
	}
	if images == nil {
		images = []imaging.ImageInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"count":     len(images),
		"images":    images,
		"timestamp": clock.ISO(s.now()),
	})
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !imaging.ValidName(name) {
		writeBadRequest(w, imaging.ErrInvalidName.Error())
		return
	}
	data, info, err := s.deps.Images.Archive().Get(r.Context(), name)
	switch {
	case errors.Is(err, imaging.ErrNotFound):
		writeNotFound(w, name)
		return
	case err != nil:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "images.archive_read_failed").
			Str("filename", name).
			Msg("failed to read archived frame")
		writeInternal(w, "failed to read image")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if !info.CreatedAt.IsZero() {
		w.Header().Set("Last-Modified", info.CreatedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRedisReconnect(w http.ResponseWriter, r *http.Request) {
	err := s.deps.State.Reconnect(r.Context())
	body := map[string]any{
		"status":          "success",
		"redis_available": s.deps.State.Available(),
		"storage_mode":    s.deps.State.Mode(),
		"message":         "Redis 재연결 성공",
		"connection":      s.deps.State.TestConnection(r.Context()),
		"timestamp":       clock.ISO(s.now()),
	}
	if err != nil {
		body["status"] = "failed"
		body["message"] = "Redis 재연결 실패"
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleImageCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := s.cfg.Images.Retention
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeBadRequest(w, "max_age must be a positive duration, e.g. 72h")
			return
		}
		maxAge = d
	}
	if maxAge <= 0 {
		writeBadRequest(w, "image retention is disabled")
		return
	}

	n, err := s.deps.Images.Cleanup(r.Context(), maxAge)
	if err != nil {
		writeInternal(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"deleted":   n,
		"max_age":   maxAge.String(),
		"timestamp": clock.ISO(s.now()),
	})
}
