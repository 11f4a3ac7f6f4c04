package link

import (
	"bytes"
	"encoding/json"
	"fmt"

	"decoywatch/pkg/models"
)

// Envelope is the frame the backend pushes on the live channel. The
// backend names the discriminator event_type; type is accepted too.
type Envelope struct {
	Type      string           `json:"type,omitempty"`
	EventType string           `json:"event_type,omitempty"`
	Timestamp models.Timestamp `json:"timestamp"`
	Severity  string           `json:"severity,omitempty"`
	Data      json.RawMessage  `json:"data"`
}

func (e Envelope) Kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventType
}

// TransportError is a dial failure or a dropped connection. The link
// recovers from it on its own.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live link %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is an inbound frame that was dropped.
type ValidationError struct {
	Kind    string
	Payload string
	Err     error
}

const maxPayloadEcho = 256

func (e *ValidationError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("invalid %q message: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("invalid live message: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(kind string, raw []byte, err error) *ValidationError {
	payload := string(raw)
	if len(payload) > maxPayloadEcho {
		payload = payload[:maxPayloadEcho] + "..."
	}
	return &ValidationError{Kind: kind, Payload: payload, Err: err}
}

// decodeEnvelope extracts the event record from one text frame. A pong
// reply to our keepalive is reported separately and is not an error.
func decodeEnvelope(raw []byte) (models.EventRecord, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == "pong" {
		return models.EventRecord{}, true, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return models.EventRecord{}, false, newValidationError("", raw, fmt.Errorf("decode envelope: %w", err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return models.EventRecord{}, false, newValidationError(env.Kind(), raw, fmt.Errorf("missing data"))
	}

	var rec models.EventRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return models.EventRecord{}, false, newValidationError(env.Kind(), raw, fmt.Errorf("decode data: %w", err))
	}
	// The forensic payload may omit its own timestamp and rely on the
	// envelope's.
	if rec.Timestamp.IsZero() {
		rec.Timestamp = env.Timestamp
	}
	if err := rec.Validate(); err != nil {
		return models.EventRecord{}, false, newValidationError(env.Kind(), raw, err)
	}
	return rec, false, nil
}
