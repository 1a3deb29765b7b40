// Package mpv implements the bridge to an external mpv process: process
// supervision and a duplex JSON line-framed control channel over the
// platform-local IPC transport.
//
// Reference: https://mpv.io/manual/stable/#json-ipc
package mpv

import (
	"encoding/json"
)

// Request is a command frame sent to the player. The first command element
// is the verb, the rest are its arguments.
type Request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id,omitempty"`
	Async     bool  `json:"async,omitempty"`
}

// Response is the reply frame matching a Request by id.
type Response struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Succeeded reports whether the player accepted the command.
func (r *Response) Succeeded() bool {
	return r.Error == "success"
}

// Event is an unsolicited frame from the player.
type Event struct {
	Event  string          `json:"event"`
	ID     int64           `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Args   []string        `json:"args,omitempty"`
}

// Event names and end-file reasons of interest.
const (
	EventPropertyChange = "property-change"
	EventEndFile        = "end-file"
	EventClientMessage  = "client-message"

	EndFileEOF = "eof"
)

// Bool decodes the event payload as a boolean, returning ok=false when the
// payload is absent or of another type.
func (e *Event) Bool() (value, ok bool) {
	if e.Data == nil {
		return false, false
	}
	err := json.Unmarshal(e.Data, &value)
	return value, err == nil
}

// Float decodes the event payload as a number.
func (e *Event) Float() (float64, bool) {
	if e.Data == nil {
		return 0, false
	}
	var value float64
	err := json.Unmarshal(e.Data, &value)
	return value, err == nil
}

// frame is the wire envelope used to classify inbound lines: replies carry a
// request id, events carry an event name.
type frame struct {
	RequestID *int64          `json:"request_id"`
	Error     string          `json:"error"`
	Event     string          `json:"event"`
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	Args      []string        `json:"args"`
}

// parseFrame decodes one inbound line. Exactly one of the returned pointers
// is non-nil on success.
func parseFrame(line []byte) (*Response, *Event, error) {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, nil, err
	}

	if f.RequestID != nil {
		return &Response{RequestID: *f.RequestID, Error: f.Error, Data: f.Data}, nil, nil
	}

	return nil, &Event{
		Event:  f.Event,
		ID:     f.ID,
		Name:   f.Name,
		Data:   f.Data,
		Reason: f.Reason,
		Args:   f.Args,
	}, nil
}
