package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates stream frames. Exactly one payload interpretation
// is valid per type; types outside this set are routed to the caller-defined
// handler registry on the transport client.
type MessageType string

const (
	TypeEvent        MessageType = "event"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeSubscribed   MessageType = "subscribed"
	TypeAcknowledge  MessageType = "acknowledge"
	TypeAcknowledged MessageType = "acknowledged"
	TypeError        MessageType = "error"
)

// Envelope is the wire frame: one frame carries exactly one Envelope,
// text-encoded as JSON. Payload stays raw until the type tag has been
// inspected, so a malformed payload never poisons frame routing.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds a frame for transmission, stamping the current time.
// A nil payload produces an empty-body frame (ping/pong/unsubscribe).
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// DecodePayload unmarshals the raw payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope: empty %s payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("envelope: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// AckPayload is the body of an acknowledge frame.
type AckPayload struct {
	EventID string `json:"event_id"`
	Notes   string `json:"notes,omitempty"`
}

// ErrorPayload is the body of an error frame from the server.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
