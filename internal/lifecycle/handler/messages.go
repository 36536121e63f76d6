package handler

import (
	"time"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
)

type CreateEntityRequest struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	LinkedID string `json:"linked_id,omitempty"`
}

type GetEntityRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// EntityResponse carries the current lifecycle view of an entity together
// with the states it may move to next.
type EntityResponse struct {
	Entity   *lifecycle.Record `json:"entity"`
	Next     []lifecycle.State `json:"next"`
	Terminal bool              `json:"terminal"`
}

type TransitionRequest struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

type TransitionResponse struct {
	Event events.StateChangeEvent `json:"event"`
}

type HistoryRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type HistoryResponse struct {
	Records []*audit.Record `json:"records"`
}

type BeginSessionRequest struct {
	CallID  string `json:"call_id"`
	AgentID string `json:"agent_id"`
	Script  string `json:"script"`
}

type AnswerRequest struct {
	CallID string `json:"call_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

type AdvanceRequest struct {
	CallID string `json:"call_id"`
	Step   int    `json:"step"`
}

type SessionRequest struct {
	CallID  string `json:"call_id"`
	AgentID string `json:"agent_id,omitempty"`
}

// SessionResponse is the client view of an active script session.
type SessionResponse struct {
	CallID    string            `json:"call_id"`
	AgentID   string            `json:"agent_id"`
	Script    string            `json:"script"`
	Step      int               `json:"step"`
	Answers   map[string]string `json:"answers"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type CheckpointResponse struct {
	Snapshot script.Snapshot `json:"snapshot"`
}

type Empty struct{}

type WatchRequest struct {
	Kinds   []string `json:"kinds,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

func toSessionResponse(s *script.Session) *SessionResponse {
	return &SessionResponse{
		CallID:    s.CallID(),
		AgentID:   s.AgentID(),
		Script:    s.Script(),
		Step:      s.Step(),
		Answers:   s.Answers(),
		UpdatedAt: s.UpdatedAt(),
	}
}
