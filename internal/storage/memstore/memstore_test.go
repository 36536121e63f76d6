package memstore

import (
	"errors"
	"testing"

	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
)

func TestEntityStoreOptimisticSave(t *testing.T) {
	s := NewEntityStore()
	ctx := t.Context()

	rec := &lifecycle.Record{Kind: lifecycle.KindCampaign, ID: "c1", State: lifecycle.CampaignDraft}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, rec); !errors.Is(err, lifecycle.ErrAlreadyExists) {
		t.Errorf("duplicate Create err = %v", err)
	}

	a, _ := s.Load(ctx, lifecycle.KindCampaign, "c1")
	b, _ := s.Load(ctx, lifecycle.KindCampaign, "c1")

	a.State = lifecycle.CampaignScheduled
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version = %d, want 2", a.Version)
	}

	b.State = lifecycle.CampaignScheduled
	err := s.Save(ctx, b)
	if !errors.Is(err, lifecycle.ErrConcurrencyConflict) {
		t.Errorf("stale Save err = %v, want conflict", err)
	}

	if _, err := s.Load(ctx, lifecycle.KindCampaign, "missing"); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("Load missing err = %v", err)
	}
}

func TestEntityStoreListLinked(t *testing.T) {
	s := NewEntityStore()
	s.Put(lifecycle.Record{Kind: lifecycle.KindTelephonyCampaign, ID: "t2", LinkedID: "c1"})
	s.Put(lifecycle.Record{Kind: lifecycle.KindTelephonyCampaign, ID: "t1", LinkedID: "c1"})
	s.Put(lifecycle.Record{Kind: lifecycle.KindTelephonyCampaign, ID: "t3", LinkedID: "c2"})
	s.Put(lifecycle.Record{Kind: lifecycle.KindCall, ID: "k1", LinkedID: "c1"})

	got, err := s.ListLinked(t.Context(), lifecycle.KindTelephonyCampaign, "c1")
	if err != nil {
		t.Fatalf("ListLinked: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("linked = %+v", got)
	}
}

func TestSnapshotStoreIsolation(t *testing.T) {
	s := NewSnapshotStore()
	ctx := t.Context()

	answers := map[string]string{"q1": "yes"}
	if err := s.Put(ctx, script.Snapshot{CallID: "k1", AgentID: "a1", Answers: answers}); err != nil {
		t.Fatal(err)
	}
	answers["q1"] = "no"

	snap, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Answers["q1"] != "yes" {
		t.Errorf("stored answers aliased caller map: %v", snap.Answers)
	}

	_ = s.Delete(ctx, "k1")
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, script.ErrSnapshotNotFound) {
		t.Errorf("Get after Delete err = %v", err)
	}
}
