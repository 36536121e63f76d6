package events

import (
	"encoding/json"
	"time"

	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// StateChangeEvent is the event the guard produces and the bus delivers.
type StateChangeEvent = lifecycle.StateChangeEvent

// EventType identifies the kind of event relayed to external consumers.
type EventType string

const (
	StateChanged EventType = "lifecycle.state_changed"
	WebhookTest  EventType = "webhook.test"
)

// Envelope is the standard wrapper published to the outbound queue.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	EntityID  string            `json:"entity_id"`
	Kind      string            `json:"kind,omitempty"`
	Action    string            `json:"action,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewStateChangedEnvelope wraps evt for the outbound queue. The envelope id
// is the event id so consumers can deduplicate redeliveries.
func NewStateChangedEnvelope(source string, evt StateChangeEvent) (Envelope, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ID:        evt.ID,
		Type:      StateChanged,
		Source:    source,
		EntityID:  evt.EntityID,
		Kind:      string(evt.Kind),
		Action:    string(evt.Action),
		Timestamp: evt.Timestamp,
		Data:      raw,
	}
	if evt.LinkedID != "" {
		env.Metadata = map[string]string{"linked_id": evt.LinkedID}
	}
	return env, nil
}

// WebhookTestData is the payload for webhook.test events.
type WebhookTestData struct {
	WebhookID string `json:"webhook_id"`
	Message   string `json:"message"`
}
