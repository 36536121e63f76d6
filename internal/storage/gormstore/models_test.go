package gormstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

func TestTableNames(t *testing.T) {
	if got := (LifecycleEntity{}).TableName(); got != "lifecycle_entities" {
		t.Errorf("LifecycleEntity table = %q", got)
	}
	if got := (AuditEntry{}).TableName(); got != "audit_records" {
		t.Errorf("AuditEntry table = %q", got)
	}
}

func TestLifecycleEntityToRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := &LifecycleEntity{
		Kind:           "telephony_campaign",
		EntityID:       "t1",
		State:          "Active",
		LinkedID:       "c1",
		Revision:       4,
		StateChangedAt: at,
	}
	rec := e.toRecord()
	if rec.Kind != lifecycle.KindTelephonyCampaign || rec.ID != "t1" || rec.LinkedID != "c1" {
		t.Errorf("identity = %+v", rec)
	}
	if rec.State != lifecycle.CampaignActive || rec.Version != 4 || !rec.UpdatedAt.Equal(at) {
		t.Errorf("state fields = %+v", rec)
	}
}

func TestAuditEntryRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := &audit.Record{
		ID:          "a1",
		EventID:     "e1",
		EntityID:    "c1",
		Kind:        lifecycle.KindCampaign,
		From:        lifecycle.CampaignScheduled,
		To:          lifecycle.CampaignActive,
		Action:      lifecycle.ActionActivation,
		Reason:      "start",
		Description: audit.Describe(lifecycle.CampaignScheduled, lifecycle.CampaignActive, "start"),
		OccurredAt:  now,
		RecordedAt:  now,
	}
	out := newAuditEntry(in).toRecord()
	if *out != *in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "idx_le_kind_entity"`), true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := isDuplicate(tt.err); got != tt.want {
			t.Errorf("isDuplicate(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
