package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
)

const doneEvent = "data: [DONE]\n\n"

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseWriter flushes one data event per write.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	s.rc.Flush()
	return s
}

func (s *sseWriter) WriteContent(text string) error {
	return s.event(map[string]string{"content": text})
}

func (s *sseWriter) WriteError(msg string) error {
	return s.event(map[string]string{"error": msg})
}

func (s *sseWriter) WriteDone() error {
	return s.write([]byte(doneEvent))
}

func (s *sseWriter) event(payload any) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return err
	}
	// Encode ends with one newline; an event needs a blank line after it.
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

func (s *sseWriter) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.rc.Flush()
}
