package webhook

import (
	"database/sql"
	"encoding/json"
	"slices"

	"github.com/pitabwire/frame/data"

	"github.com/voicetyped/campaignflow/pkg/events"
)

// Envelope metadata set on dead-letter replays.
const (
	MetaReplayOf     = "replay_of"
	MetaReplayTarget = "replay_target"
)

// WebhookEndpoint is an external subscriber to lifecycle state changes.
// Empty Kinds or Actions match everything.
type WebhookEndpoint struct {
	data.BaseModel

	Name          string       `gorm:"type:varchar(255);not null"        json:"name"`
	URL           string       `gorm:"type:varchar(2048);not null"       json:"url"`
	Secret        string       `gorm:"type:varchar(512);not null"        json:"-"`
	Kinds         StringList   `gorm:"type:jsonb;default:'[]'"           json:"kinds"`
	Actions       StringList   `gorm:"type:jsonb;default:'[]'"           json:"actions"`
	IsActive      bool         `gorm:"default:true"                      json:"is_active"`
	Description   string       `gorm:"type:text"                         json:"description,omitempty"`
	FailureCount  int          `gorm:"default:0"                         json:"failure_count"`
	LastFailureAt sql.NullTime `json:"last_failure_at,omitempty"`
	CircuitState  string       `gorm:"type:varchar(20);default:'closed'" json:"circuit_state"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }

// Matches reports whether env falls inside the endpoint's filters. Test
// pings and replays match only the endpoint they name.
func (wh *WebhookEndpoint) Matches(env events.Envelope) bool {
	if env.Type == events.WebhookTest {
		return env.EntityID == wh.ID
	}
	if target := env.Metadata[MetaReplayTarget]; target != "" {
		return target == wh.ID
	}
	if len(wh.Kinds) > 0 && !wh.Kinds.Contains(env.Kind) {
		return false
	}
	if len(wh.Actions) > 0 && !wh.Actions.Contains(env.Action) {
		return false
	}
	return true
}

// StringList is a JSONB-backed list of filter values.
type StringList []string

func (l StringList) Value() (interface{}, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		*l = StringList{}
		return nil
	}
}

// Contains checks whether the list includes v.
func (l StringList) Contains(v string) bool {
	return slices.Contains(l, v)
}

// DeliveryAttempt records one attempt to deliver an event to a webhook.
type DeliveryAttempt struct {
	data.BaseModel

	WebhookID     string       `gorm:"type:varchar(50);not null;index:idx_da_webhook" json:"webhook_id"`
	EventID       string       `gorm:"type:varchar(50);not null"                       json:"event_id"`
	EventType     string       `gorm:"type:varchar(100);not null"                      json:"event_type"`
	RequestBody   string       `gorm:"type:text"                                       json:"-"`
	ResponseCode  int          `gorm:"default:0"                                       json:"response_code"`
	ResponseBody  string       `gorm:"type:text"                                       json:"-"`
	AttemptNumber int          `gorm:"default:1"                                       json:"attempt_number"`
	Status        string       `gorm:"type:varchar(20);not null;index:idx_da_status"   json:"status"`
	Error         string       `gorm:"type:text"                                       json:"error,omitempty"`
	DurationMs    int64        `gorm:"default:0"                                       json:"duration_ms"`
	NextRetryAt   sql.NullTime `json:"next_retry_at,omitempty"`
}

func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

// Delivery statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusDead    = "dead_letter"
)

// DeadLetter holds events that exhausted all delivery retries.
type DeadLetter struct {
	data.BaseModel

	WebhookID  string `gorm:"type:varchar(50);not null;index:idx_dl_webhook" json:"webhook_id"`
	EventID    string `gorm:"type:varchar(50);not null"                       json:"event_id"`
	EventType  string `gorm:"type:varchar(100);not null"                      json:"event_type"`
	Payload    string `gorm:"type:text;not null"                              json:"payload"`
	LastError  string `gorm:"type:text"                                       json:"last_error"`
	Attempts   int    `gorm:"default:0"                                       json:"attempts"`
	Replayable bool   `gorm:"default:true"                                    json:"replayable"`
}

// ReplayEnvelope addresses env to the dead letter's endpoint alone. The
// event id is kept; replay_of lets the subscriber tell the replay apart from
// a queue redelivery.
func (dl *DeadLetter) ReplayEnvelope(env events.Envelope) events.Envelope {
	meta := make(map[string]string, len(env.Metadata)+2)
	for k, v := range env.Metadata {
		meta[k] = v
	}
	meta[MetaReplayOf] = dl.ID
	meta[MetaReplayTarget] = dl.WebhookID
	env.Metadata = meta
	return env
}

func (DeadLetter) TableName() string { return "dead_letters" }
