// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/ingest"
	"github.com/ManuGH/babybridge/internal/log"
)

const uploadField = "file"

// readPayload decodes a device JSON object.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (device.Raw, bool) {
	var raw device.Raw
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &raw); err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	if raw == nil {
		writeBadRequest(w, "payload must be a JSON object")
		return nil, false
	}
	return raw, true
}

func (s *Server) handleESP32Data(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ingest.Data(r.Context(), raw, s.clientIP(r)))
}

func (s *Server) handleESP32Sensor(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ingest.Sensor(r.Context(), raw, s.clientIP(r)))
}

// handleESP32Image keeps the camera's legacy endpoint working; payloads go
// through the unified path.
func (s *Server) handleESP32Image(w http.ResponseWriter, r *http.Request) {
	s.handleESP32Data(w, r)
}

func (s *Server) handleESP32Upload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxBodyBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	mem := limit
	if mem <= 0 {
		mem = 32 << 20
	}
	if err := r.ParseMultipartForm(mem); err != nil {
		writeBadRequest(w, "multipart form required: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile(uploadField)
	if err != nil {
		writeBadRequest(w, "file field is required")
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.deps.Ingest.Upload(r.Context(), data, s.clientIP(r))
	switch {
	case errors.Is(err, ingest.ErrInvalidImage):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "esp32.upload_failed").
			Str("filename", hdr.Filename).
			Msg("failed to archive upload")
		writeInternal(w, "이미지 저장 실패: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleESP32Command(w http.ResponseWriter, r *http.Request) {
	var cmd esp32.Command
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &cmd); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.validate.Struct(cmd); err != nil {
		writeBadRequest(w, validationDetail(err))
		return
	}

	err := s.sendCommand(r.Context(), cmd, SourceAPI)
	body := map[string]any{
		"status":    "success",
		"message":   "Command sent to ESP32",
		"command":   cmd.Command,
		"timestamp": clock.ISO(s.now()),
		"esp32_ip":  nullable(s.deps.Registry.IP(device.KindESP32)),
	}
	if err != nil {
		body["status"] = "failed"
		body["message"] = "Command failed to send to ESP32"
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
