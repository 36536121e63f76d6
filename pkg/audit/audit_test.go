package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

type fakeStore struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *fakeStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) List(_ context.Context, kind lifecycle.Kind, id string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.Kind == kind && r.EntityID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDescribe(t *testing.T) {
	got := Describe(lifecycle.CampaignActive, lifecycle.CampaignFinished, "budget spent")
	want := "state change: Active → Finished. reason: budget spent"
	if got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

func TestWriterRecordsEveryKind(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, discardLogger())
	bus := events.NewBus(events.WithLogger(discardLogger()))
	w.Register(bus)

	bus.Publish(t.Context(), events.StateChangeEvent{
		EntityID: "c1", Kind: lifecycle.KindCampaign,
		From: lifecycle.CampaignActive, To: lifecycle.CampaignFinished,
		Action: lifecycle.ActionFinalization, Reason: "done",
	})
	bus.Publish(t.Context(), events.StateChangeEvent{
		EntityID: "k1", Kind: lifecycle.KindCall,
		From: lifecycle.CallPending, To: lifecycle.CallInCall,
		Action: lifecycle.ActionCallStarted,
	})

	hist, err := w.History(t.Context(), lifecycle.KindCampaign, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history = %d records, want 1", len(hist))
	}
	rec := hist[0]
	if rec.EventID == "" || rec.ID == "" {
		t.Error("expected record and event ids")
	}
	if rec.Description != "state change: Active → Finished. reason: done" {
		t.Errorf("description = %q", rec.Description)
	}
	if rec.OccurredAt.IsZero() || rec.RecordedAt.IsZero() {
		t.Error("expected timestamps")
	}

	calls, _ := w.History(t.Context(), lifecycle.KindCall, "k1")
	if len(calls) != 1 || calls[0].Action != lifecycle.ActionCallStarted {
		t.Errorf("call history = %+v", calls)
	}
}

func TestWriterSwallowsStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	w := NewWriter(store, discardLogger())
	w.now = func() time.Time { return time.Unix(0, 0) }

	err := w.Handle(t.Context(), events.StateChangeEvent{ID: "e1", Kind: lifecycle.KindLead, EntityID: "l1"})
	if err != nil {
		t.Errorf("Handle returned %v, want nil", err)
	}
}
