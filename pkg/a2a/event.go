package a2a

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Event is one decoded stream payload. It is either a *ResultEvent or an
// *ErrorEvent.
type Event interface {
	isEvent()
}

type ResultEvent struct {
	ID       string
	Status   *TaskStatus
	Artifact *Artifact
	Final    bool
}

type ErrorEvent struct {
	Err *JSONRPCError
}

func (*ResultEvent) isEvent() {}
func (*ErrorEvent) isEvent()  {}

// ParseEvent decodes the data field of one SSE event. Payloads carrying
// both fields resolve to the error.
func ParseEvent(data []byte) (Event, error) {
	var raw struct {
		Result json.RawMessage `json:"result"`
		Error  *JSONRPCError   `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ProtocolError{Data: data, Err: err}
	}

	if raw.Error != nil {
		return &ErrorEvent{Err: raw.Error}, nil
	}

	if len(raw.Result) == 0 || bytes.Equal(raw.Result, []byte("null")) {
		return nil, &ProtocolError{Data: data, Err: errors.New("event has neither result nor error")}
	}

	var update TaskStatusUpdate
	if err := json.Unmarshal(raw.Result, &update); err != nil {
		return nil, &ProtocolError{Data: data, Err: err}
	}
	return &ResultEvent{
		ID:       update.ID,
		Status:   update.Status,
		Artifact: update.Artifact,
		Final:    update.Final,
	}, nil
}
