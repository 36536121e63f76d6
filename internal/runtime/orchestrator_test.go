package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voicetyped/campaignflow/internal/storage/memstore"
	"github.com/voicetyped/campaignflow/internal/telemetry"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

type harness struct {
	store *memstore.EntityStore
	bus   *events.Bus
	orch  *Orchestrator

	mu        sync.Mutex
	published []events.StateChangeEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := lifecycle.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	h := &harness{
		store: memstore.NewEntityStore(),
		bus:   events.NewBus(),
	}
	h.bus.SubscribeAll(func(_ context.Context, evt events.StateChangeEvent) error {
		h.mu.Lock()
		h.published = append(h.published, evt)
		h.mu.Unlock()
		return nil
	})
	h.orch = NewOrchestrator(h.store, lifecycle.NewGuard(reg), h.bus, WithMetrics(telemetry.NewMetrics()))
	return h
}

func (h *harness) publishedEvents() []events.StateChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.StateChangeEvent(nil), h.published...)
}

func TestCallPendingToInCall(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	if _, err := h.orch.Create(ctx, lifecycle.KindCall, "k1", "t1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	evt, err := h.orch.RequestTransition(ctx, lifecycle.KindCall, "k1", lifecycle.CallInCall, "agent dialled")
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if evt.From != lifecycle.CallPending || evt.To != lifecycle.CallInCall {
		t.Errorf("event = %s → %s", evt.From, evt.To)
	}
	if evt.ID == "" || evt.Timestamp.IsZero() {
		t.Error("returned event should be stamped")
	}
	if evt.LinkedID != "t1" {
		t.Errorf("linked id = %q", evt.LinkedID)
	}

	pub := h.publishedEvents()
	if len(pub) != 1 || pub[0].ID != evt.ID {
		t.Fatalf("published = %+v", pub)
	}

	rec, _ := h.store.Load(ctx, lifecycle.KindCall, "k1")
	if rec.State != lifecycle.CallInCall || rec.Version != 2 {
		t.Errorf("stored = %s v%d", rec.State, rec.Version)
	}
}

func TestClosedCallRejected(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.store.Put(lifecycle.Record{Kind: lifecycle.KindCall, ID: "k1", State: lifecycle.CallClosed, Version: 4})

	_, err := h.orch.RequestTransition(ctx, lifecycle.KindCall, "k1", lifecycle.CallInCall, "")
	var ite *lifecycle.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
	if ite.From != lifecycle.CallClosed || ite.To != lifecycle.CallInCall {
		t.Errorf("error = %s → %s", ite.From, ite.To)
	}

	rec, _ := h.store.Load(ctx, lifecycle.KindCall, "k1")
	if rec.State != lifecycle.CallClosed || rec.Version != 4 {
		t.Errorf("stored = %s v%d, want Closed v4", rec.State, rec.Version)
	}
	if len(h.publishedEvents()) != 0 {
		t.Error("rejected transition must not publish")
	}
}

func TestUnknownStoredState(t *testing.T) {
	h := newHarness(t)
	h.store.Put(lifecycle.Record{Kind: lifecycle.KindCampaign, ID: "c1", State: "Vigente", Version: 1})

	_, err := h.orch.RequestTransition(t.Context(), lifecycle.KindCampaign, "c1", lifecycle.CampaignPaused, "")
	var use *lifecycle.UnknownStateError
	if !errors.As(err, &use) {
		t.Fatalf("err = %v, want UnknownStateError", err)
	}
	if use.Name != "Vigente" {
		t.Errorf("name = %q", use.Name)
	}
	if errors.Is(err, lifecycle.ErrTransitionRejected) {
		t.Error("corrupt state is not a rejection")
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.RequestTransition(t.Context(), lifecycle.KindLead, "nope", lifecycle.LeadInCall, "")
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// racingStore lets a second writer win between Load and Save.
type racingStore struct {
	*memstore.EntityStore
	once sync.Once
}

func (s *racingStore) Save(ctx context.Context, rec *lifecycle.Record) error {
	s.once.Do(func() {
		winner, _ := s.EntityStore.Load(ctx, rec.Kind, rec.ID)
		winner.State = lifecycle.CampaignCancelled
		_ = s.EntityStore.Save(ctx, winner)
	})
	return s.EntityStore.Save(ctx, rec)
}

func TestConcurrentUpdateIsRejected(t *testing.T) {
	reg, _ := lifecycle.DefaultRegistry()
	store := &racingStore{EntityStore: memstore.NewEntityStore()}
	store.Put(lifecycle.Record{Kind: lifecycle.KindCampaign, ID: "c1", State: lifecycle.CampaignActive, Version: 1})

	bus := events.NewBus()
	published := 0
	bus.SubscribeAll(func(context.Context, events.StateChangeEvent) error {
		published++
		return nil
	})
	orch := NewOrchestrator(store, lifecycle.NewGuard(reg), bus)

	_, err := orch.RequestTransition(t.Context(), lifecycle.KindCampaign, "c1", lifecycle.CampaignFinished, "")
	if !errors.Is(err, lifecycle.ErrConcurrencyConflict) {
		t.Errorf("err = %v, want ErrConcurrencyConflict", err)
	}
	if !errors.Is(err, lifecycle.ErrTransitionRejected) {
		t.Error("conflict should surface as a rejection")
	}
	if published != 0 {
		t.Error("lost update must not publish")
	}

	rec, _ := store.Load(t.Context(), lifecycle.KindCampaign, "c1")
	if rec.State != lifecycle.CampaignCancelled {
		t.Errorf("state = %s, want the winner's Cancelled", rec.State)
	}
}

func TestCreateUnknownKind(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.Create(t.Context(), "invoice", "i1", ""); !errors.Is(err, lifecycle.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestFailingSubscribersDoNotUndoTransition(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.bus.Subscribe(lifecycle.KindCampaign, func(context.Context, events.StateChangeEvent) error {
		return errors.New("crm unreachable")
	}, events.WithName("erroring"))
	h.bus.Subscribe(lifecycle.KindCampaign, func(context.Context, events.StateChangeEvent) error {
		panic("subscriber bug")
	}, events.WithName("panicking"))

	if _, err := h.orch.Create(ctx, lifecycle.KindCampaign, "c1", ""); err != nil {
		t.Fatal(err)
	}
	evt, err := h.orch.RequestTransition(ctx, lifecycle.KindCampaign, "c1", lifecycle.CampaignScheduled, "planned")
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if evt.From != lifecycle.CampaignDraft || evt.To != lifecycle.CampaignScheduled || evt.Action != lifecycle.ActionScheduling {
		t.Errorf("event = %+v", evt)
	}

	rec, err := h.store.Load(ctx, lifecycle.KindCampaign, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != lifecycle.CampaignScheduled {
		t.Errorf("stored state = %s, want Scheduled", rec.State)
	}
	if got := h.bus.Failures(); got != 2 {
		t.Errorf("failures = %d, want 2", got)
	}
	if published := h.publishedEvents(); len(published) != 1 || published[0].ID != evt.ID {
		t.Errorf("published = %+v", published)
	}
}
