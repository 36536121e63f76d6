// Package session tracks the interactive script sessions agents run during
// calls and checkpoints them to a snapshot store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/voicetyped/campaignflow/internal/telemetry"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
)

const (
	defaultTTL     = 30 * time.Minute
	reaperInterval = time.Minute
)

var (
	ErrSessionExists   = errors.New("call already has an active session")
	ErrAgentBusy       = errors.New("agent already runs a session on another call")
	ErrSessionNotFound = errors.New("no active session for call")
	ErrUnknownScript   = errors.New("unknown script")
	ErrStepOutOfRange  = errors.New("step beyond end of script")
	ErrCallEnded       = errors.New("call already reached a terminal state")
)

// Scripts resolves script definitions by name.
type Scripts interface {
	Get(name string) (*script.Definition, bool)
}

// Calls loads lifecycle records. *runtime.Orchestrator satisfies it.
type Calls interface {
	Get(ctx context.Context, kind lifecycle.Kind, id string) (*lifecycle.Record, error)
}

type tracked struct {
	session *script.Session
	touched time.Time
}

// Manager holds the active sessions, at most one per call and one per agent.
type Manager struct {
	scripts  Scripts
	store    script.Store
	registry *lifecycle.Registry
	calls    Calls
	pool     workerpool.WorkerPool
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	byCall  map[string]*tracked
	byAgent map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets how long an untouched session stays in memory.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithCalls makes Begin and Resume refuse calls that do not exist or have
// already ended.
func WithCalls(c Calls) Option {
	return func(m *Manager) { m.calls = c }
}

// WithPool runs the reaper on a frame worker pool.
func WithPool(p workerpool.WorkerPool) Option {
	return func(m *Manager) { m.pool = p }
}

// WithMetrics reports the active session count.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a session manager.
func NewManager(scripts Scripts, store script.Store, registry *lifecycle.Registry, opts ...Option) *Manager {
	m := &Manager{
		scripts:  scripts,
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		ttl:      defaultTTL,
		now:      time.Now,
		byCall:   make(map[string]*tracked),
		byAgent:  make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Begin starts a session for agentID on callID following scriptName.
func (m *Manager) Begin(ctx context.Context, callID, agentID, scriptName string) (*script.Session, error) {
	if _, ok := m.scripts.Get(scriptName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScript, scriptName)
	}
	if err := m.checkCall(ctx, callID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.claimLocked(callID, agentID); err != nil {
		return nil, err
	}
	s := script.NewSession(callID, agentID, scriptName)
	m.trackLocked(s)
	return s, nil
}

// checkCall rejects calls that are unknown or terminal. Without a Calls
// source every call is accepted.
func (m *Manager) checkCall(ctx context.Context, callID string) error {
	if m.calls == nil {
		return nil
	}
	rec, err := m.calls.Get(ctx, lifecycle.KindCall, callID)
	if err != nil {
		return fmt.Errorf("call %s: %w", callID, err)
	}
	if m.registry.IsTerminal(lifecycle.KindCall, rec.State) {
		return fmt.Errorf("%w: call %s is %s", ErrCallEnded, callID, rec.State)
	}
	return nil
}

// Get returns the active session of a call.
func (m *Manager) Get(callID string) (*script.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCall[callID]
	if !ok {
		return nil, false
	}
	return t.session, true
}

// use returns the call's session and marks it as touched.
func (m *Manager) use(callID string) (*script.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCall[callID]
	if !ok {
		return nil, false
	}
	t.touched = m.now()
	return t.session, true
}

// Answer records an answer on the call's session.
func (m *Manager) Answer(callID, key, value string) error {
	s, ok := m.use(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	s.Answer(key, value)
	return nil
}

// Advance moves the call's session forward. Step may equal the number of
// script steps, meaning the script is complete.
func (m *Manager) Advance(callID string, step int) error {
	s, ok := m.use(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	if def, ok := m.scripts.Get(s.Script()); ok && step > def.Steps() {
		return fmt.Errorf("%w: step %d of %d", ErrStepOutOfRange, step, def.Steps())
	}
	return s.Advance(step)
}

// Checkpoint snapshots the call's session and stores it, replacing any
// earlier checkpoint.
func (m *Manager) Checkpoint(ctx context.Context, callID string) (script.Snapshot, error) {
	s, ok := m.use(callID)
	if !ok {
		return script.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	snap := script.CreateSnapshot(s)
	if err := m.store.Put(ctx, snap); err != nil {
		return script.Snapshot{}, fmt.Errorf("store checkpoint of call %s: %w", callID, err)
	}
	return snap, nil
}

// Resume restores the last checkpoint of callID for agentID. An active
// session is rolled back in place; otherwise a new session is built from the
// checkpoint. Either way the idle clock restarts.
func (m *Manager) Resume(ctx context.Context, callID, agentID string) (*script.Session, error) {
	snap, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint of call %s: %w", callID, err)
	}

	m.mu.Lock()
	if t, ok := m.byCall[callID]; ok {
		defer m.mu.Unlock()
		if err := script.Restore(t.session, snap); err != nil {
			return nil, err
		}
		t.touched = m.now()
		return t.session, nil
	}
	m.mu.Unlock()

	if err := m.checkCall(ctx, callID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.AgentID != agentID {
		return nil, &script.IdentityMismatchError{
			SessionCall:   callID,
			SessionAgent:  agentID,
			SnapshotCall:  snap.CallID,
			SnapshotAgent: snap.AgentID,
		}
	}
	if err := m.claimLocked(callID, agentID); err != nil {
		return nil, err
	}
	s := script.SessionFromSnapshot(snap)
	m.trackLocked(s)
	return s, nil
}

// Discard drops the call's session and its stored checkpoint.
func (m *Manager) Discard(ctx context.Context, callID string) error {
	m.mu.Lock()
	m.untrackLocked(callID)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, callID); err != nil {
		return fmt.Errorf("delete checkpoint of call %s: %w", callID, err)
	}
	return nil
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byCall)
}

// Register discards sessions when their call reaches a terminal state.
func (m *Manager) Register(bus *events.Bus) {
	bus.Subscribe(lifecycle.KindCall, m.onCallEvent, events.WithName("script-sessions"))
}

func (m *Manager) onCallEvent(ctx context.Context, evt events.StateChangeEvent) error {
	if !m.registry.IsTerminal(lifecycle.KindCall, evt.To) {
		return nil
	}
	if err := m.Discard(ctx, evt.EntityID); err != nil {
		m.logger.ErrorContext(ctx, "discard script session",
			slog.String("call_id", evt.EntityID),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()))
	}
	return nil
}

// StartReaper begins evicting sessions idle for longer than the TTL. Stored
// checkpoints survive eviction so the agent can resume.
func (m *Manager) StartReaper(ctx context.Context) {
	reap := func() {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}
	if m.pool != nil {
		_ = m.pool.Submit(ctx, reap)
	} else {
		go reap()
	}
}

func (m *Manager) reapIdle() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	for id, t := range m.byCall {
		if now.Sub(t.touched) > m.ttl {
			m.logger.Warn("reaping idle script session", slog.String("call_id", id))
			m.untrackLocked(id)
			reaped++
		}
	}
	return reaped
}

func (m *Manager) claimLocked(callID, agentID string) error {
	if _, ok := m.byCall[callID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, callID)
	}
	if other, ok := m.byAgent[agentID]; ok {
		return fmt.Errorf("%w: agent %s on call %s", ErrAgentBusy, agentID, other)
	}
	return nil
}

func (m *Manager) trackLocked(s *script.Session) {
	m.byCall[s.CallID()] = &tracked{session: s, touched: m.now()}
	m.byAgent[s.AgentID()] = s.CallID()
	m.metrics.SetSessionsActive(len(m.byCall))
}

func (m *Manager) untrackLocked(callID string) {
	t, ok := m.byCall[callID]
	if !ok {
		return
	}
	delete(m.byCall, callID)
	if agent := t.session.AgentID(); m.byAgent[agent] == callID {
		delete(m.byAgent, agent)
	}
	m.metrics.SetSessionsActive(len(m.byCall))
}
