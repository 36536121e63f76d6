package script

import (
	"fmt"
	"time"
)

// Snapshot is an immutable copy of a session's progress. It shares no
// mutable state with the session it was taken from.
type Snapshot struct {
	CallID    string            `json:"call_id"`
	AgentID   string            `json:"agent_id"`
	Script    string            `json:"script"`
	Step      int               `json:"step"`
	Answers   map[string]string `json:"answers"`
	UpdatedAt time.Time         `json:"updated_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// IdentityMismatchError is returned when a snapshot is restored into a
// session with a different call or agent.
type IdentityMismatchError struct {
	SessionCall, SessionAgent   string
	SnapshotCall, SnapshotAgent string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("snapshot of call %s agent %s cannot restore session of call %s agent %s",
		e.SnapshotCall, e.SnapshotAgent, e.SessionCall, e.SessionAgent)
}

// CreateSnapshot captures the current progress of s.
func CreateSnapshot(s *Session) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CallID:    s.callID,
		AgentID:   s.agentID,
		Script:    s.script,
		Step:      s.step,
		Answers:   copyAnswers(s.answers),
		UpdatedAt: s.updatedAt,
		CreatedAt: time.Now().UTC(),
	}
}

// Restore overwrites the progress of s with snap. Identity is checked
// first; on mismatch s is left unchanged. Restoring may move the step
// backwards. Later changes to s do not affect snap.
func Restore(s *Session, snap Snapshot) error {
	if s.callID != snap.CallID || s.agentID != snap.AgentID {
		return &IdentityMismatchError{
			SessionCall:   s.callID,
			SessionAgent:  s.agentID,
			SnapshotCall:  snap.CallID,
			SnapshotAgent: snap.AgentID,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = snap.Step
	s.answers = copyAnswers(snap.Answers)
	s.updatedAt = snap.UpdatedAt
	return nil
}

// SessionFromSnapshot builds a fresh session from a stored snapshot.
func SessionFromSnapshot(snap Snapshot) *Session {
	s := NewSession(snap.CallID, snap.AgentID, snap.Script)
	s.step = snap.Step
	s.answers = copyAnswers(snap.Answers)
	s.updatedAt = snap.UpdatedAt
	return s
}
