// Package handler exposes lifecycle transitions, audit history and script
// sessions over Connect RPC with a JSON codec.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"github.com/rs/xid"

	"github.com/voicetyped/campaignflow/internal/runtime"
	"github.com/voicetyped/campaignflow/internal/session"
	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
)

// ServiceName is the fully-qualified name of the lifecycle service.
const ServiceName = "campaignflow.lifecycle.v1.LifecycleService"

// Procedure paths.
const (
	CreateEntityProcedure      = "/" + ServiceName + "/CreateEntity"
	GetEntityProcedure         = "/" + ServiceName + "/GetEntity"
	RequestTransitionProcedure = "/" + ServiceName + "/RequestTransition"
	ListHistoryProcedure       = "/" + ServiceName + "/ListHistory"
	BeginSessionProcedure      = "/" + ServiceName + "/BeginSession"
	AnswerProcedure            = "/" + ServiceName + "/Answer"
	AdvanceProcedure           = "/" + ServiceName + "/Advance"
	CheckpointProcedure        = "/" + ServiceName + "/Checkpoint"
	ResumeProcedure            = "/" + ServiceName + "/Resume"
	WatchEventsProcedure       = "/" + ServiceName + "/WatchEvents"
)

// LifecycleHandler serves the lifecycle service.
type LifecycleHandler struct {
	orch     *runtime.Orchestrator
	audit    *audit.Writer
	sessions *session.Manager
	pub      *events.Publisher
}

// NewLifecycleHandler creates a handler. sessions and pub may be nil; the
// corresponding procedures then answer Unavailable.
func NewLifecycleHandler(orch *runtime.Orchestrator, auditWriter *audit.Writer, sessions *session.Manager, pub *events.Publisher) *LifecycleHandler {
	return &LifecycleHandler{orch: orch, audit: auditWriter, sessions: sessions, pub: pub}
}

// Routes returns the path prefix and handler serving every procedure.
func (h *LifecycleHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateEntityProcedure, connect.NewUnaryHandler(CreateEntityProcedure, h.CreateEntity, opts...))
	mux.Handle(GetEntityProcedure, connect.NewUnaryHandler(GetEntityProcedure, h.GetEntity, opts...))
	mux.Handle(RequestTransitionProcedure, connect.NewUnaryHandler(RequestTransitionProcedure, h.RequestTransition, opts...))
	mux.Handle(ListHistoryProcedure, connect.NewUnaryHandler(ListHistoryProcedure, h.ListHistory, opts...))
	mux.Handle(BeginSessionProcedure, connect.NewUnaryHandler(BeginSessionProcedure, h.BeginSession, opts...))
	mux.Handle(AnswerProcedure, connect.NewUnaryHandler(AnswerProcedure, h.Answer, opts...))
	mux.Handle(AdvanceProcedure, connect.NewUnaryHandler(AdvanceProcedure, h.Advance, opts...))
	mux.Handle(CheckpointProcedure, connect.NewUnaryHandler(CheckpointProcedure, h.Checkpoint, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, h.Resume, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, h.WatchEvents, opts...))
	return "/" + ServiceName + "/", mux
}

func (h *LifecycleHandler) kind(name string) (lifecycle.Kind, error) {
	k := lifecycle.Kind(name)
	if _, ok := h.orch.Registry().InitialState(k); !ok {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %q", lifecycle.ErrUnknownKind, name))
	}
	return k, nil
}

func required(field, value string) error {
	if value == "" {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s is required", field))
	}
	return nil
}

func (h *LifecycleHandler) entityResponse(rec *lifecycle.Record) *EntityResponse {
	reg := h.orch.Registry()
	edges := reg.Transitions(rec.Kind, rec.State)
	next := make([]lifecycle.State, 0, len(edges))
	for _, e := range edges {
		next = append(next, e.Target)
	}
	return &EntityResponse{
		Entity:   rec,
		Next:     next,
		Terminal: reg.IsTerminal(rec.Kind, rec.State),
	}
}

func (h *LifecycleHandler) CreateEntity(ctx context.Context, req *connect.Request[CreateEntityRequest]) (*connect.Response[EntityResponse], error) {
	kind, err := h.kind(req.Msg.Kind)
	if err != nil {
		return nil, err
	}
	id := req.Msg.ID
	if id == "" {
		id = xid.New().String()
	}
	rec, err := h.orch.Create(ctx, kind, id, req.Msg.LinkedID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(h.entityResponse(rec)), nil
}

func (h *LifecycleHandler) GetEntity(ctx context.Context, req *connect.Request[GetEntityRequest]) (*connect.Response[EntityResponse], error) {
	kind, err := h.kind(req.Msg.Kind)
	if err != nil {
		return nil, err
	}
	if err := required("id", req.Msg.ID); err != nil {
		return nil, err
	}
	rec, err := h.orch.Get(ctx, kind, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(h.entityResponse(rec)), nil
}

func (h *LifecycleHandler) RequestTransition(ctx context.Context, req *connect.Request[TransitionRequest]) (*connect.Response[TransitionResponse], error) {
	kind, err := h.kind(req.Msg.Kind)
	if err != nil {
		return nil, err
	}
	if err := required("id", req.Msg.ID); err != nil {
		return nil, err
	}
	evt, err := h.orch.RequestTransition(ctx, kind, req.Msg.ID, lifecycle.State(req.Msg.Target), req.Msg.Reason)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TransitionResponse{Event: evt}), nil
}

func (h *LifecycleHandler) ListHistory(ctx context.Context, req *connect.Request[HistoryRequest]) (*connect.Response[HistoryResponse], error) {
	kind, err := h.kind(req.Msg.Kind)
	if err != nil {
		return nil, err
	}
	if err := required("id", req.Msg.ID); err != nil {
		return nil, err
	}
	records, err := h.audit.History(ctx, kind, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if records == nil {
		records = []*audit.Record{}
	}
	return connect.NewResponse(&HistoryResponse{Records: records}), nil
}

func (h *LifecycleHandler) requireSessions() error {
	if h.sessions == nil {
		return connect.NewError(connect.CodeUnavailable, errors.New("script sessions not configured"))
	}
	return nil
}

func (h *LifecycleHandler) BeginSession(ctx context.Context, req *connect.Request[BeginSessionRequest]) (*connect.Response[SessionResponse], error) {
	if err := h.requireSessions(); err != nil {
		return nil, err
	}
	if err := required("call_id", req.Msg.CallID); err != nil {
		return nil, err
	}
	if err := required("agent_id", req.Msg.AgentID); err != nil {
		return nil, err
	}
	if err := required("script", req.Msg.Script); err != nil {
		return nil, err
	}
	s, err := h.sessions.Begin(ctx, req.Msg.CallID, req.Msg.AgentID, req.Msg.Script)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toSessionResponse(s)), nil
}

func (h *LifecycleHandler) Answer(_ context.Context, req *connect.Request[AnswerRequest]) (*connect.Response[SessionResponse], error) {
	if err := h.requireSessions(); err != nil {
		return nil, err
	}
	if err := required("key", req.Msg.Key); err != nil {
		return nil, err
	}
	if err := h.sessions.Answer(req.Msg.CallID, req.Msg.Key, req.Msg.Value); err != nil {
		return nil, toConnectError(err)
	}
	return h.sessionResponse(req.Msg.CallID)
}

func (h *LifecycleHandler) Advance(_ context.Context, req *connect.Request[AdvanceRequest]) (*connect.Response[SessionResponse], error) {
	if err := h.requireSessions(); err != nil {
		return nil, err
	}
	if err := h.sessions.Advance(req.Msg.CallID, req.Msg.Step); err != nil {
		return nil, toConnectError(err)
	}
	return h.sessionResponse(req.Msg.CallID)
}

func (h *LifecycleHandler) sessionResponse(callID string) (*connect.Response[SessionResponse], error) {
	s, ok := h.sessions.Get(callID)
	if !ok {
		return nil, toConnectError(fmt.Errorf("%w: %s", session.ErrSessionNotFound, callID))
	}
	return connect.NewResponse(toSessionResponse(s)), nil
}

func (h *LifecycleHandler) Checkpoint(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[CheckpointResponse], error) {
	if err := h.requireSessions(); err != nil {
		return nil, err
	}
	snap, err := h.sessions.Checkpoint(ctx, req.Msg.CallID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CheckpointResponse{Snapshot: snap}), nil
}

func (h *LifecycleHandler) Resume(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	if err := h.requireSessions(); err != nil {
		return nil, err
	}
	if err := required("agent_id", req.Msg.AgentID); err != nil {
		return nil, err
	}
	s, err := h.sessions.Resume(ctx, req.Msg.CallID, req.Msg.AgentID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toSessionResponse(s)), nil
}

// WatchEvents streams relayed state changes matching the request filters
// until the client disconnects.
func (h *LifecycleHandler) WatchEvents(ctx context.Context, req *connect.Request[WatchRequest], stream *connect.ServerStream[events.Envelope]) error {
	if h.pub == nil {
		return connect.NewError(connect.CodeUnavailable, errors.New("event publisher not configured"))
	}

	subID := xid.New().String()
	eventCh := h.pub.Subscribe(subID, 128)
	defer h.pub.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-eventCh:
			if !ok {
				return nil
			}
			if !watchMatches(req.Msg, env) {
				continue
			}
			if err := stream.Send(&env); err != nil {
				return err
			}
		}
	}
}

func watchMatches(w *WatchRequest, env events.Envelope) bool {
	if len(w.Kinds) > 0 && !slices.Contains(w.Kinds, env.Kind) {
		return false
	}
	if len(w.Actions) > 0 && !slices.Contains(w.Actions, env.Action) {
		return false
	}
	return true
}

// toConnectError maps domain errors onto Connect codes.
func toConnectError(err error) error {
	var unknownState *lifecycle.UnknownStateError
	var mismatch *script.IdentityMismatchError

	code := connect.CodeInternal
	switch {
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrUnknownScript),
		errors.Is(err, script.ErrSnapshotNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, lifecycle.ErrConcurrencyConflict):
		code = connect.CodeAborted
	case errors.Is(err, lifecycle.ErrTransitionRejected),
		errors.Is(err, session.ErrAgentBusy),
		errors.Is(err, session.ErrCallEnded):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, lifecycle.ErrAlreadyExists),
		errors.Is(err, session.ErrSessionExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, lifecycle.ErrUnknownKind),
		errors.Is(err, session.ErrStepOutOfRange),
		errors.Is(err, script.ErrStepRegression):
		code = connect.CodeInvalidArgument
	case errors.As(err, &mismatch):
		code = connect.CodePermissionDenied
	case errors.As(err, &unknownState):
		code = connect.CodeDataLoss
	}
	return connect.NewError(code, err)
}
