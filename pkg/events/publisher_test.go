package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

func TestRelayWrapsEvent(t *testing.T) {
	var sent []Envelope
	p := NewPublisherFunc("campaignflow", func(_ context.Context, env Envelope) error {
		sent = append(sent, env)
		return nil
	})

	evt := StateChangeEvent{
		ID:        "evt-1",
		EntityID:  "t1",
		Kind:      lifecycle.KindTelephonyCampaign,
		From:      lifecycle.CampaignActive,
		To:        lifecycle.CampaignFinished,
		Action:    lifecycle.ActionFinalization,
		LinkedID:  "c1",
		Timestamp: time.Now().UTC(),
	}
	if err := p.Relay(t.Context(), evt); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d envelopes, want 1", len(sent))
	}

	env := sent[0]
	if env.ID != "evt-1" || env.Type != StateChanged || env.Source != "campaignflow" {
		t.Errorf("envelope header = %+v", env)
	}
	if env.Action != "FINALIZATION" || env.Kind != "telephony_campaign" {
		t.Errorf("action/kind = %q/%q", env.Action, env.Kind)
	}
	if env.Metadata["linked_id"] != "c1" {
		t.Errorf("metadata = %v", env.Metadata)
	}

	var payload StateChangeEvent
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.To != lifecycle.CampaignFinished {
		t.Errorf("payload to = %q", payload.To)
	}
}

func TestRelaySwallowsTransportErrors(t *testing.T) {
	p := NewPublisherFunc("campaignflow", func(context.Context, Envelope) error {
		return errors.New("queue down")
	})
	if err := p.Relay(t.Context(), StateChangeEvent{ID: "e", Kind: lifecycle.KindCall}); err != nil {
		t.Errorf("Relay returned %v, want nil", err)
	}
}

func TestLocalSubscribers(t *testing.T) {
	p := NewPublisherFunc("campaignflow", func(context.Context, Envelope) error { return nil })
	ch := p.Subscribe("ui", 1)

	_ = p.Relay(t.Context(), StateChangeEvent{ID: "a", Kind: lifecycle.KindCall})
	_ = p.Relay(t.Context(), StateChangeEvent{ID: "b", Kind: lifecycle.KindCall})

	env := <-ch
	if env.ID != "a" {
		t.Errorf("first envelope = %q, want a", env.ID)
	}

	p.Unsubscribe("ui")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestEmitFillsHeaderAndReturnsTransportError(t *testing.T) {
	transportErr := errors.New("queue down")
	var got Envelope
	p := NewPublisherFunc("campaignflow", func(_ context.Context, env Envelope) error {
		got = env
		return transportErr
	})

	err := p.Emit(t.Context(), Envelope{Type: WebhookTest, Data: json.RawMessage(`{}`)})
	if !errors.Is(err, transportErr) {
		t.Errorf("err = %v, want %v", err, transportErr)
	}
	if got.ID == "" || got.Source != "campaignflow" || got.Timestamp.IsZero() {
		t.Errorf("envelope = %+v", got)
	}
}
