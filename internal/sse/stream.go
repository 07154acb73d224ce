// Package sse provides Server-Sent Events framing for the scan event stream.
// Unlike a fan-out notification bus, a scan stream is request-scoped: one
// producer writes a finite event sequence to one client and the stream dies
// with the request.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStreamingNotSupported is returned when the response writer cannot flush.
var ErrStreamingNotSupported = errors.New("streaming not supported")

// DefaultHeartbeatInterval is the keepalive cadence for scan streams.
const DefaultHeartbeatInterval = 15 * time.Second

// Stream writes SSE-framed events to one HTTP response. The mutex serializes
// event writes with heartbeat frames.
type Stream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream prepares w for event streaming and emits the SSE headers.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable nginx buffering so progress events arrive as they happen.
	w.Header().Set("X-Accel-Buffering", "no")
	return &Stream{w: w, flusher: flusher}, nil
}

// Send marshals data and writes one event, flushing immediately. A write
// error means the client is gone; callers should abandon the scan.
func (s *Stream) Send(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", eventType, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, FormatEvent(eventType, uuid.New().String(), payload)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Heartbeat writes an SSE comment frame every interval so proxies keep the
// connection open across long fetch pauses. The returned stop function blocks
// until the writer goroutine has exited, so no frame can land after the
// response completes; calling it more than once is safe.
func (s *Stream) Heartbeat(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.mu.Lock()
				if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
					s.mu.Unlock()
					return
				}
				s.flusher.Flush()
				s.mu.Unlock()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-stopped
	}
}

// FormatEvent renders one SSE message.
// Format: event: <type>\ndata: <json>\nid: <id>\n\n
func FormatEvent(eventType, id string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", eventType, data, id)
}
