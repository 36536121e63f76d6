package gormstore

import (
	"time"

	"github.com/pitabwire/frame/data"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// LifecycleEntity is the persisted lifecycle view of a campaign, call, lead
// or telephony campaign.
type LifecycleEntity struct {
	data.BaseModel

	Kind           string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_le_kind_entity" json:"kind"`
	EntityID       string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_le_kind_entity" json:"entity_id"`
	State          string    `gorm:"type:varchar(50);not null"                                 json:"state"`
	LinkedID       string    `gorm:"type:varchar(100);index:idx_le_linked"                     json:"linked_id,omitempty"`
	Revision       int64     `gorm:"not null;default:1"                                        json:"revision"`
	StateChangedAt time.Time `json:"state_changed_at"`
}

func (LifecycleEntity) TableName() string { return "lifecycle_entities" }

func (e *LifecycleEntity) toRecord() *lifecycle.Record {
	return &lifecycle.Record{
		Kind:      lifecycle.Kind(e.Kind),
		ID:        e.EntityID,
		State:     lifecycle.State(e.State),
		LinkedID:  e.LinkedID,
		Version:   e.Revision,
		UpdatedAt: e.StateChangedAt.UTC(),
	}
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	data.BaseModel

	EventID     string    `gorm:"type:varchar(50);not null"                              json:"event_id"`
	Kind        string    `gorm:"type:varchar(50);not null;index:idx_ae_entity"          json:"kind"`
	EntityID    string    `gorm:"type:varchar(100);not null;index:idx_ae_entity"         json:"entity_id"`
	FromState   string    `gorm:"type:varchar(50);not null"                              json:"from_state"`
	ToState     string    `gorm:"type:varchar(50);not null"                              json:"to_state"`
	Action      string    `gorm:"type:varchar(50);not null"                              json:"action"`
	Reason      string    `gorm:"type:text"                                              json:"reason,omitempty"`
	Description string    `gorm:"type:text"                                              json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedAt  time.Time `gorm:"index:idx_ae_recorded"                                  json:"recorded_at"`
}

func (AuditEntry) TableName() string { return "audit_records" }

func newAuditEntry(rec *audit.Record) *AuditEntry {
	e := &AuditEntry{
		EventID:     rec.EventID,
		Kind:        string(rec.Kind),
		EntityID:    rec.EntityID,
		FromState:   string(rec.From),
		ToState:     string(rec.To),
		Action:      string(rec.Action),
		Reason:      rec.Reason,
		Description: rec.Description,
		OccurredAt:  rec.OccurredAt,
		RecordedAt:  rec.RecordedAt,
	}
	e.ID = rec.ID
	return e
}

func (e *AuditEntry) toRecord() *audit.Record {
	return &audit.Record{
		ID:          e.ID,
		EventID:     e.EventID,
		EntityID:    e.EntityID,
		Kind:        lifecycle.Kind(e.Kind),
		From:        lifecycle.State(e.FromState),
		To:          lifecycle.State(e.ToState),
		Action:      lifecycle.Action(e.Action),
		Reason:      e.Reason,
		Description: e.Description,
		OccurredAt:  e.OccurredAt.UTC(),
		RecordedAt:  e.RecordedAt.UTC(),
	}
}
