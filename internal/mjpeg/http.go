// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mjpeg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// ServeStream writes frames to the viewer until it disconnects or the relay
// closes.
func (r *Relay) ServeStream(w http.ResponseWriter, req *http.Request) {
	v, ok := r.subscribe()
	if !ok {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	defer r.unsubscribe(v)

	h := w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace;boundary="+Boundary)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	logger := log.WithContext(req.Context(), r.logger)
	logger.Info().Str(log.FieldRemoteAddr, req.RemoteAddr).Msg("stream viewer connected")
	defer logger.Info().Str(log.FieldRemoteAddr, req.RemoteAddr).Msg("stream viewer disconnected")

	for {
		select {
		case <-req.Context().Done():
			return
		case <-v.done:
			return
		case frame := <-v.frames:
			if err := writePart(w, frame); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writePart(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// ErrNotJPEG is returned for bodies that are not JPEG frames.
var ErrNotJPEG = errors.New("frame is not a JPEG image")

// ServeIngest accepts the camera push. Multipart bodies are split into
// frames; any other body is treated as a single JPEG.
func (r *Relay) ServeIngest(w http.ResponseWriter, req *http.Request) {
	r.publishers.Add(1)
	defer r.publishers.Add(-1)

	// A camera push lasts as long as the camera runs; the server-wide
	// timeouts would cut it off mid-stream.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	logger := log.WithContext(req.Context(), r.logger)
	logger.Info().Str(log.FieldRemoteAddr, req.RemoteAddr).Str(log.FieldEvent, "mjpeg.publisher_connected").Msg("camera stream connected")

	n, err := r.ingest(req)
	status := http.StatusOK
	switch {
	case errors.Is(err, ErrNotJPEG):
		status = http.StatusUnsupportedMediaType
		metrics.RecordIngest("mjpeg", "invalid")
	case err != nil:
		status = http.StatusBadRequest
		metrics.RecordIngest("mjpeg", "error")
	default:
		metrics.RecordIngest("mjpeg", "ok")
	}
	logger.Info().Err(err).Int("frames", n).Str(log.FieldEvent, "mjpeg.publisher_disconnected").Msg("camera stream ended")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{"status": "success", "frames_received": n}
	if err != nil {
		resp["status"] = "error"
		resp["detail"] = err.Error()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (r *Relay) ingest(req *http.Request) (int, error) {
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		frame, err := io.ReadAll(io.LimitReader(req.Body, r.opts.MaxFrameBytes+1))
		if err != nil {
			return 0, fmt.Errorf("read frame: %w", err)
		}
		if int64(len(frame)) > r.opts.MaxFrameBytes {
			return 0, fmt.Errorf("frame exceeds %d bytes", r.opts.MaxFrameBytes)
		}
		if !imaging.IsJPEG(frame) {
			return 0, ErrNotJPEG
		}
		r.Publish(req.Context(), frame)
		return 1, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return 0, errors.New("multipart body without boundary")
	}
	mr := multipart.NewReader(req.Body, boundary)
	count := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			if count > 0 && req.Context().Err() != nil {
				return count, nil
			}
			return count, fmt.Errorf("read part: %w", err)
		}
		frame, err := io.ReadAll(io.LimitReader(part, r.opts.MaxFrameBytes+1))
		_ = part.Close()
		if err != nil {
			return count, fmt.Errorf("read part body: %w", err)
		}
		if int64(len(frame)) > r.opts.MaxFrameBytes || !imaging.IsJPEG(frame) {
			continue
		}
		r.Publish(req.Context(), frame)
		count++
	}
}

// ServeStatus writes Status as JSON.
func (r *Relay) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.Status())
}
