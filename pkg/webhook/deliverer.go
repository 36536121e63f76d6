package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame/workerpool"
	"github.com/sony/gobreaker/v2"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/urlvalidation"
)

// Delivery headers.
const (
	EventHeader    = "X-Campaignflow-Event"
	DeliveryHeader = "X-Campaignflow-Delivery"
	ActionHeader   = "X-Campaignflow-Action"
)

// DelivererConfig holds delivery-related settings.
type DelivererConfig struct {
	MaxRetries        int
	TimeoutSec        int
	BackoffInitialSec int
	BackoffMaxSec     int
	CBFailThreshold   int
	CBResetTimeoutSec int
}

// Recorder persists delivery outcomes. *Repository satisfies it.
type Recorder interface {
	RecordDelivery(ctx context.Context, da *DeliveryAttempt) error
	CreateDeadLetter(ctx context.Context, dl *DeadLetter) error
}

// failureStateRecorder is implemented by recorders that also track the
// endpoint's breaker state.
type failureStateRecorder interface {
	RecordFailureState(ctx context.Context, webhookID, circuitState string, failed bool) error
}

// Observer receives one status per delivery outcome.
type Observer interface {
	RecordWebhookDelivery(status string)
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithURLValidation passes options to the SSRF check run before each attempt.
func WithURLValidation(opts ...urlvalidation.Option) DelivererOption {
	return func(d *Deliverer) { d.validateOpts = append(d.validateOpts, opts...) }
}

// WithObserver reports delivery outcomes to o.
func WithObserver(o Observer) DelivererOption {
	return func(d *Deliverer) { d.observer = o }
}

// Deliverer delivers webhook events to registered endpoints.
type Deliverer struct {
	recorder     Recorder
	httpClient   *http.Client
	config       DelivererConfig
	pool         workerpool.WorkerPool
	validateOpts []urlvalidation.Option
	observer     Observer
	backoffUnit  time.Duration

	breakers *breakerSet
}

// NewDeliverer creates a new webhook deliverer.
func NewDeliverer(recorder Recorder, cfg DelivererConfig, pool workerpool.WorkerPool, opts ...DelivererOption) *Deliverer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	d := &Deliverer{
		recorder: recorder,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:      cfg,
		pool:        pool,
		backoffUnit: time.Second,
		breakers:    newBreakerSet(cfg.CBFailThreshold, time.Duration(cfg.CBResetTimeoutSec)*time.Second),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CircuitState returns the breaker state of a webhook endpoint.
func (d *Deliverer) CircuitState(webhookID string) string {
	return d.breakers.state(webhookID)
}

// Deliver attempts to POST an event envelope to a webhook endpoint. Failed
// attempts are retried with exponential backoff until MaxRetries, then the
// envelope is dead-lettered.
func (d *Deliverer) Deliver(ctx context.Context, wh WebhookEndpoint, env events.Envelope) {
	d.deliverWithRetry(ctx, wh, env, 1)
}

func (d *Deliverer) deliverWithRetry(ctx context.Context, wh WebhookEndpoint, env events.Envelope, attempt int) {
	if err := urlvalidation.Validate(ctx, wh.URL, d.validateOpts...); err != nil {
		slog.ErrorContext(ctx, "webhook URL failed SSRF validation",
			slog.String("webhook_id", wh.ID),
			slog.String("url", wh.URL),
			slog.String("error", err.Error()))
		d.observe(StatusSkipped)
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		d.handleFailure(ctx, wh, env, attempt, fmt.Sprintf("marshal: %v", err))
		return
	}

	cb := d.breakers.get(wh.ID)
	start := time.Now()
	res, err := cb.Execute(func() (attemptResult, error) {
		return d.post(ctx, wh, env, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		d.observe(StatusSkipped)
		d.handleFailure(ctx, wh, env, attempt, "circuit open")
		return
	}

	da := &DeliveryAttempt{
		WebhookID:     wh.ID,
		EventID:       env.ID,
		EventType:     string(env.Type),
		RequestBody:   string(body),
		ResponseCode:  res.code,
		ResponseBody:  res.body,
		AttemptNumber: attempt,
		DurationMs:    time.Since(start).Milliseconds(),
	}

	if err == nil {
		da.Status = StatusSuccess
		d.record(ctx, da)
		d.recordState(ctx, wh.ID, cb.State().String(), false)
		d.observe(StatusSuccess)
		return
	}

	da.Status = StatusFailed
	da.Error = err.Error()
	d.record(ctx, da)
	d.recordState(ctx, wh.ID, cb.State().String(), true)
	d.observe(StatusFailed)
	d.handleFailure(ctx, wh, env, attempt, da.Error)
}

// post performs one HTTP attempt. Non-2xx responses are returned as errors
// so the breaker counts them.
func (d *Deliverer) post(ctx context.Context, wh WebhookEndpoint, env events.Envelope, body []byte) (attemptResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(wh.Secret, body, time.Now()))
	req.Header.Set(EventHeader, string(env.Type))
	req.Header.Set(DeliveryHeader, env.ID)
	if env.Action != "" {
		req.Header.Set(ActionHeader, env.Action)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return attemptResult{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	// Drain remainder for connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	res := attemptResult{code: resp.StatusCode, body: string(respBody)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return res, nil
}

func (d *Deliverer) record(ctx context.Context, da *DeliveryAttempt) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordDelivery(ctx, da); err != nil {
		slog.ErrorContext(ctx, "record delivery failed", slog.String("error", err.Error()))
	}
}

func (d *Deliverer) recordState(ctx context.Context, webhookID, state string, failed bool) {
	sr, ok := d.recorder.(failureStateRecorder)
	if !ok {
		return
	}
	if err := sr.RecordFailureState(ctx, webhookID, state, failed); err != nil {
		slog.ErrorContext(ctx, "record circuit state failed",
			slog.String("webhook_id", webhookID),
			slog.String("error", err.Error()))
	}
}

func (d *Deliverer) observe(status string) {
	if d.observer != nil {
		d.observer.RecordWebhookDelivery(status)
	}
}

func (d *Deliverer) handleFailure(ctx context.Context, wh WebhookEndpoint, env events.Envelope, attempt int, errMsg string) {
	if attempt >= d.config.MaxRetries {
		payload, _ := json.Marshal(env)
		d.observe(StatusDead)
		if d.recorder == nil {
			return
		}
		if err := d.recorder.CreateDeadLetter(ctx, &DeadLetter{
			WebhookID:  wh.ID,
			EventID:    env.ID,
			EventType:  string(env.Type),
			Payload:    string(payload),
			LastError:  errMsg,
			Attempts:   attempt,
			Replayable: true,
		}); err != nil {
			slog.ErrorContext(ctx, "create dead letter failed", slog.String("error", err.Error()))
		}
		return
	}

	// Schedule retry with exponential backoff via worker pool.
	backoff := d.config.BackoffInitialSec * (1 << (attempt - 1))
	if backoff > d.config.BackoffMaxSec {
		backoff = d.config.BackoffMaxSec
	}
	wait := time.Duration(backoff) * d.backoffUnit

	retryFunc := func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.deliverWithRetry(ctx, wh, env, attempt+1)
		}
	}

	if d.pool != nil {
		if err := d.pool.Submit(ctx, retryFunc); err != nil {
			slog.WarnContext(ctx, "retry pool full, dropping retry",
				slog.String("webhook_id", wh.ID),
				slog.Int("attempt", attempt))
		}
	} else {
		time.AfterFunc(wait, func() {
			d.deliverWithRetry(ctx, wh, env, attempt+1)
		})
	}
}
