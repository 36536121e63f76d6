package script

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStepRegression is returned when a session is asked to move backwards.
var ErrStepRegression = errors.New("script step cannot decrease")

// Session holds the progress of one agent through a script on one call.
// CallID and AgentID identify the session and never change. All access is
// thread-safe.
type Session struct {
	mu sync.RWMutex

	callID  string
	agentID string
	script  string

	step      int
	answers   map[string]string
	updatedAt time.Time
}

// NewSession starts a session at step zero.
func NewSession(callID, agentID, script string) *Session {
	return &Session{
		callID:    callID,
		agentID:   agentID,
		script:    script,
		answers:   make(map[string]string),
		updatedAt: time.Now().UTC(),
	}
}

// CallID returns the call the session belongs to.
func (s *Session) CallID() string { return s.callID }

// AgentID returns the agent running the session.
func (s *Session) AgentID() string { return s.agentID }

// Script returns the name of the script being followed.
func (s *Session) Script() string { return s.script }

// Step returns the current step index.
func (s *Session) Step() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// UpdatedAt returns the time of the last change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Answer records the answer to a question, replacing any earlier one.
func (s *Session) Answer(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[key] = value
	s.updatedAt = time.Now().UTC()
}

// Advance moves the session to step. Moving to the current step is a no-op.
func (s *Session) Advance(step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step < s.step {
		return fmt.Errorf("advance to %d from %d: %w", step, s.step, ErrStepRegression)
	}
	if step != s.step {
		s.step = step
		s.updatedAt = time.Now().UTC()
	}
	return nil
}

// Answers returns a copy of the recorded answers.
func (s *Session) Answers() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyAnswers(s.answers)
}

func copyAnswers(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
