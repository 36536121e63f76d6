package sqlitestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "campaignflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaignflow.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := &lifecycle.Record{Kind: lifecycle.KindCall, ID: "k1", State: lifecycle.CallPending}
	if err := store.Create(t.Context(), rec); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.Load(t.Context(), lifecycle.KindCall, "k1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State != lifecycle.CallPending {
		t.Errorf("state = %q", got.State)
	}
}

func TestEntityLifecycle(t *testing.T) {
	store := openTempStore(t)
	ctx := t.Context()

	rec := &lifecycle.Record{Kind: lifecycle.KindTelephonyCampaign, ID: "t1", State: lifecycle.CampaignActive, LinkedID: "c1"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, lifecycle.ErrAlreadyExists) {
		t.Errorf("duplicate err = %v", err)
	}

	a, err := store.Load(ctx, lifecycle.KindTelephonyCampaign, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, _ := store.Load(ctx, lifecycle.KindTelephonyCampaign, "t1")

	a.State = lifecycle.CampaignFinished
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version = %d, want 2", a.Version)
	}

	b.State = lifecycle.CampaignPaused
	if err := store.Save(ctx, b); !errors.Is(err, lifecycle.ErrConcurrencyConflict) {
		t.Errorf("stale save err = %v", err)
	}

	missing := &lifecycle.Record{Kind: lifecycle.KindCall, ID: "nope", Version: 1}
	if err := store.Save(ctx, missing); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("save missing err = %v", err)
	}

	linked, err := store.ListLinked(ctx, lifecycle.KindTelephonyCampaign, "c1")
	if err != nil {
		t.Fatalf("ListLinked: %v", err)
	}
	if len(linked) != 1 || linked[0].State != lifecycle.CampaignFinished {
		t.Errorf("linked = %+v", linked)
	}
}

func TestUnregisteredStateIsReturnedVerbatim(t *testing.T) {
	store := openTempStore(t)
	ctx := t.Context()
	if err := store.Create(ctx, &lifecycle.Record{Kind: lifecycle.KindCampaign, ID: "c1", State: "Vigente"}); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Load(ctx, lifecycle.KindCampaign, "c1")
	if err != nil {
		t.Fatal(err)
	}
	reg, _ := lifecycle.DefaultRegistry()
	var use *lifecycle.UnknownStateError
	if _, err := reg.ParseState(rec.Kind, string(rec.State)); !errors.As(err, &use) {
		t.Errorf("ParseState err = %v, want UnknownStateError", err)
	}
}

func TestAuditTrail(t *testing.T) {
	store := openTempStore(t)
	ctx := t.Context()
	occurred := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

	for i, to := range []lifecycle.State{lifecycle.CampaignActive, lifecycle.CampaignPaused} {
		rec := &audit.Record{
			ID:          []string{"a1", "a2"}[i],
			EventID:     []string{"e1", "e2"}[i],
			EntityID:    "c1",
			Kind:        lifecycle.KindCampaign,
			From:        lifecycle.CampaignScheduled,
			To:          to,
			Action:      lifecycle.ActionActivation,
			Description: audit.Describe(lifecycle.CampaignScheduled, to, ""),
			OccurredAt:  occurred,
			RecordedAt:  occurred.Add(time.Second),
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, lifecycle.KindCampaign, "c1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].To != lifecycle.CampaignPaused {
		t.Fatalf("trail = %+v", got)
	}
	if !got[0].OccurredAt.Equal(occurred) {
		t.Errorf("occurred_at = %v", got[0].OccurredAt)
	}

	other, _ := store.List(ctx, lifecycle.KindCall, "c1")
	if len(other) != 0 {
		t.Errorf("other kind trail = %+v", other)
	}
}
