package a2a

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	sseInitialBuf = 64 * 1024
	sseMaxBuf     = 4 * 1024 * 1024
)

// SSEEvent is one dispatched text/event-stream event.
type SSEEvent struct {
	Type string
	ID   string
	Data []byte
}

// EventReader splits a text/event-stream body into events. Multiple data
// lines are joined with '\n'. Comment lines and unknown fields are ignored.
type EventReader struct {
	scanner *bufio.Scanner
}

func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, sseInitialBuf), sseMaxBuf)
	return &EventReader{scanner: scanner}
}

// Next returns the next event. Blank-line separated blocks without any
// field are skipped. A block cut short by EOF is still returned; the
// following call reports io.EOF.
func (r *EventReader) Next() (SSEEvent, error) {
	var (
		ev      SSEEvent
		data    bytes.Buffer
		hasData bool
		seen    bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if !seen {
				continue
			}
			ev.Data = bytes.Clone(data.Bytes())
			if ev.Type == "" {
				ev.Type = "message"
			}
			return ev, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			ev.Type = string(value)
			seen = true
		case "id":
			ev.ID = string(value)
			seen = true
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
			seen = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	if seen {
		ev.Data = bytes.Clone(data.Bytes())
		if ev.Type == "" {
			ev.Type = "message"
		}
		return ev, nil
	}
	return SSEEvent{}, io.EOF
}

// sseWriter frames JSON payloads as text/event-stream events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) write(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
