// Package api serves the REST admin surface for webhook endpoints: CRUD,
// secret rotation, delivery history, dead-letter replay and test pings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/urlvalidation"
	"github.com/voicetyped/campaignflow/pkg/webhook"
)

const (
	maxRequestBodySize = 1 << 20

	defaultPageSize = 50
	maxPageSize     = 500
)

// Store is the persistence the API needs. *webhook.Repository satisfies it.
type Store interface {
	CreateEndpoint(ctx context.Context, wh *webhook.WebhookEndpoint) error
	GetByID(ctx context.Context, id string) (*webhook.WebhookEndpoint, error)
	ListAll(ctx context.Context) ([]webhook.WebhookEndpoint, error)
	Update(ctx context.Context, wh *webhook.WebhookEndpoint) error
	Delete(ctx context.Context, id string) error
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]webhook.DeliveryAttempt, error)
	ListDeadLetters(ctx context.Context, webhookID string) ([]webhook.DeadLetter, error)
	GetDeadLetterByID(ctx context.Context, id string) (*webhook.DeadLetter, error)
	MarkDeadLetterReplayed(ctx context.Context, id string) error
}

// Emitter re-publishes envelopes to the delivery queue.
type Emitter interface {
	Emit(ctx context.Context, env events.Envelope) error
}

// Handler provides REST endpoints for webhook management.
type Handler struct {
	repo         Store
	publisher    Emitter
	registry     *lifecycle.Registry
	validateOpts []urlvalidation.Option
}

// NewHandler creates a webhook API handler. Kind and action filters are
// checked against registry; target URLs against validateOpts.
func NewHandler(repo Store, publisher Emitter, registry *lifecycle.Registry, validateOpts ...urlvalidation.Option) *Handler {
	return &Handler{repo: repo, publisher: publisher, registry: registry, validateOpts: validateOpts}
}

// RegisterRoutes registers all webhook API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhooks", h.Create)
	mux.HandleFunc("GET /api/v1/webhooks", h.List)
	mux.HandleFunc("GET /api/v1/webhooks/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/webhooks/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/rotate-secret", h.RotateSecret)
	mux.HandleFunc("GET /api/v1/webhooks/{id}/deliveries", h.ListDeliveries)
	mux.HandleFunc("GET /api/v1/webhooks/{id}/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/dead-letters/{dlid}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/test", h.Test)
}

// Create handles POST /api/v1/webhooks. The secret is only ever returned
// here and from RotateSecret.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if err := h.checkTarget(r.Context(), req.URL, req.Kinds, req.Actions); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}
	wh := &webhook.WebhookEndpoint{
		Name:        req.Name,
		URL:         req.URL,
		Secret:      secret,
		Kinds:       webhook.StringList(req.Kinds),
		Actions:     webhook.StringList(req.Actions),
		IsActive:    true,
		Description: req.Description,
	}
	if err := h.repo.CreateEndpoint(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	writeJSON(w, http.StatusCreated, toWebhookResponse(wh, true))
}

// List handles GET /api/v1/webhooks
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.repo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	resp := make([]WebhookResponse, 0, len(endpoints))
	for i := range endpoints {
		resp = append(resp, toWebhookResponse(&endpoints[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/webhooks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if wh, ok := h.endpoint(w, r); ok {
		writeJSON(w, http.StatusOK, toWebhookResponse(wh, false))
	}
}

// Update handles PUT /api/v1/webhooks/{id}. Absent fields are left alone.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	var req UpdateWebhookRequest
	if !decode(w, r, &req) {
		return
	}

	next := *wh
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.URL != nil {
		next.URL = *req.URL
	}
	if req.Kinds != nil {
		next.Kinds = webhook.StringList(*req.Kinds)
	}
	if req.Actions != nil {
		next.Actions = webhook.StringList(*req.Actions)
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if next.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}
	if err := h.checkTarget(r.Context(), next.URL, next.Kinds, next.Actions); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.Update(r.Context(), &next); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(&next, false))
}

// Delete handles DELETE /api/v1/webhooks/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.repo.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// RotateSecret handles POST /api/v1/webhooks/{id}/rotate-secret. The old
// secret stops verifying as soon as the update lands.
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	secret, err := webhook.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}
	wh.Secret = secret
	if err := h.repo.Update(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update secret")
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(wh, true))
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries?limit=&offset=
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempts, err := h.repo.ListDeliveries(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	resp := make([]DeliveryResponse, 0, len(attempts))
	for i := range attempts {
		resp = append(resp, toDeliveryResponse(&attempts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeadLetters handles GET /api/v1/webhooks/{id}/dead-letters
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.repo.ListDeadLetters(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	resp := make([]DeadLetterResponse, 0, len(letters))
	for i := range letters {
		resp = append(resp, toDeadLetterResponse(&letters[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayDeadLetter handles POST /api/v1/webhooks/{id}/dead-letters/{dlid}/replay.
// The stored envelope is re-emitted with its original id.
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	dlid := r.PathValue("dlid")
	dl, err := h.repo.GetDeadLetterByID(r.Context(), dlid)
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load dead letter")
		return
	}
	if dl.WebhookID != r.PathValue("id") || !dl.Replayable {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	var env events.Envelope
	if err := json.Unmarshal([]byte(dl.Payload), &env); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "dead letter payload is not an event envelope")
		return
	}
	if err := h.publisher.Emit(r.Context(), dl.ReplayEnvelope(env)); err != nil {
		writeError(w, http.StatusBadGateway, "failed to re-publish event")
		return
	}
	if err := h.repo.MarkDeadLetterReplayed(r.Context(), dlid); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark dead letter replayed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Test handles POST /api/v1/webhooks/{id}/test. The ping goes through the
// queue like any other event and only matches the endpoint it names.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	data, err := json.Marshal(events.WebhookTestData{
		WebhookID: wh.ID,
		Message:   fmt.Sprintf("test delivery for %q from campaignflow", wh.Name),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode test event")
		return
	}
	env := events.Envelope{
		Type:      events.WebhookTest,
		EntityID:  wh.ID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := h.publisher.Emit(r.Context(), env); err != nil {
		writeError(w, http.StatusBadGateway, "failed to publish test event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test event published"})
}

// endpoint loads the {id} endpoint and writes the error response itself
// when it cannot.
func (h *Handler) endpoint(w http.ResponseWriter, r *http.Request) (*webhook.WebhookEndpoint, bool) {
	wh, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return nil, false
	}
	return wh, true
}

// checkTarget validates the URL and the kind and action filters.
func (h *Handler) checkTarget(ctx context.Context, rawURL string, kinds, actions []string) error {
	if err := urlvalidation.Validate(ctx, rawURL, h.validateOpts...); err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	known := h.registry.Kinds()
	for _, k := range kinds {
		if !slices.Contains(known, lifecycle.Kind(k)) {
			return fmt.Errorf("unknown kind %q", k)
		}
	}
	if len(actions) == 0 {
		return nil
	}
	valid := h.actions(kinds)
	for _, a := range actions {
		if _, ok := valid[lifecycle.Action(a)]; !ok {
			return fmt.Errorf("unknown action %q", a)
		}
	}
	return nil
}

// actions collects every action named on an edge of the given kinds, or of
// all kinds when none are given.
func (h *Handler) actions(kinds []string) map[lifecycle.Action]struct{} {
	scope := h.registry.Kinds()
	if len(kinds) > 0 {
		scope = scope[:0]
		for _, k := range kinds {
			scope = append(scope, lifecycle.Kind(k))
		}
	}
	out := make(map[lifecycle.Action]struct{})
	for _, k := range scope {
		for _, s := range h.registry.States(k) {
			for _, e := range h.registry.Transitions(k, s) {
				if e.Action != "" {
					out[e.Action] = struct{}{}
				}
			}
		}
	}
	return out
}

func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = min(limit, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
