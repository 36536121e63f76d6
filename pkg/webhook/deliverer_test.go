package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/urlvalidation"
)

type fakeRecorder struct {
	mu          sync.Mutex
	attempts    []DeliveryAttempt
	deadLetters []DeadLetter
	states      []string
}

func (f *fakeRecorder) RecordDelivery(_ context.Context, da *DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *da)
	return nil
}

func (f *fakeRecorder) CreateDeadLetter(_ context.Context, dl *DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, *dl)
	return nil
}

func (f *fakeRecorder) RecordFailureState(_ context.Context, _, state string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeRecorder) snapshot() ([]DeliveryAttempt, []DeadLetter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeliveryAttempt(nil), f.attempts...), append([]DeadLetter(nil), f.deadLetters...)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) RecordWebhookDelivery(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[status]++
}

func (o *countingObserver) count(status string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[status]
}

func testEnvelope(t *testing.T) events.Envelope {
	t.Helper()
	env, err := events.NewStateChangedEnvelope("test", events.StateChangeEvent{
		ID:        "evt-1",
		EntityID:  "c1",
		Kind:      lifecycle.KindCampaign,
		From:      lifecycle.CampaignActive,
		To:        lifecycle.CampaignFinished,
		Action:    lifecycle.ActionFinalization,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("NewStateChangedEnvelope: %v", err)
	}
	return env
}

func testConfig() DelivererConfig {
	return DelivererConfig{
		MaxRetries:        1,
		TimeoutSec:        5,
		BackoffInitialSec: 1,
		BackoffMaxSec:     1,
		CBFailThreshold:   5,
		CBResetTimeoutSec: 60,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDelivererSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Error("missing Content-Type header")
		}
		if r.Header.Get(SignatureHeader) == "" {
			t.Error("missing signature header")
		}
		if r.Header.Get(EventHeader) != string(events.StateChanged) {
			t.Errorf("event header = %q", r.Header.Get(EventHeader))
		}
		if r.Header.Get(ActionHeader) != string(lifecycle.ActionFinalization) {
			t.Errorf("action header = %q", r.Header.Get(ActionHeader))
		}
		if r.Header.Get(DeliveryHeader) != "evt-1" {
			t.Errorf("delivery header = %q", r.Header.Get(DeliveryHeader))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	rec := &fakeRecorder{}
	obs := &countingObserver{}
	d := NewDeliverer(rec, testConfig(), nil,
		WithURLValidation(urlvalidation.AllowPrivateIPs()), WithObserver(obs))

	wh := WebhookEndpoint{URL: ts.URL, Secret: "test-secret"}
	wh.ID = "wh-1"

	d.Deliver(t.Context(), wh, testEnvelope(t))

	attempts, dead := rec.snapshot()
	if len(attempts) != 1 || attempts[0].Status != StatusSuccess || attempts[0].ResponseCode != http.StatusOK {
		t.Fatalf("attempts = %+v", attempts)
	}
	if len(dead) != 0 {
		t.Errorf("dead letters = %d, want 0", len(dead))
	}
	if obs.count(StatusSuccess) != 1 {
		t.Errorf("success observations = %d", obs.count(StatusSuccess))
	}
	if d.CircuitState("wh-1") != StateClosed {
		t.Errorf("circuit = %q", d.CircuitState("wh-1"))
	}
}

func TestDelivererSignatureVerification(t *testing.T) {
	secret := "webhook-secret-123"
	var sigValid atomic.Bool

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if Verify(secret, body, r.Header.Get(SignatureHeader), DefaultTolerance, time.Now()) == nil {
			sigValid.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewDeliverer(&fakeRecorder{}, testConfig(), nil, WithURLValidation(urlvalidation.AllowPrivateIPs()))
	wh := WebhookEndpoint{URL: ts.URL, Secret: secret}
	wh.ID = "wh-sig"

	d.Deliver(t.Context(), wh, testEnvelope(t))

	if !sigValid.Load() {
		t.Error("webhook signature was not valid")
	}
}

func TestDelivererRetriesThenDeadLetters(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.MaxRetries = 3
	rec := &fakeRecorder{}
	d := NewDeliverer(rec, cfg, nil, WithURLValidation(urlvalidation.AllowPrivateIPs()))
	d.backoffUnit = time.Millisecond

	wh := WebhookEndpoint{URL: ts.URL, Secret: "s"}
	wh.ID = "wh-retry"
	d.Deliver(t.Context(), wh, testEnvelope(t))

	waitFor(t, func() bool {
		_, dead := rec.snapshot()
		return len(dead) == 1
	})

	attempts, dead := rec.snapshot()
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a.AttemptNumber != i+1 || a.Status != StatusFailed || a.Error != "HTTP 500" {
			t.Errorf("attempt %d = %+v", i, a)
		}
	}
	if dead[0].Attempts != 3 || dead[0].EventID != "evt-1" || !dead[0].Replayable {
		t.Errorf("dead letter = %+v", dead[0])
	}
}

func TestDelivererCircuitOpens(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.CBFailThreshold = 1
	cfg.CBResetTimeoutSec = 3600
	rec := &fakeRecorder{}
	obs := &countingObserver{}
	d := NewDeliverer(rec, cfg, nil,
		WithURLValidation(urlvalidation.AllowPrivateIPs()), WithObserver(obs))

	wh := WebhookEndpoint{URL: ts.URL, Secret: "s"}
	wh.ID = "wh-cb"

	d.Deliver(t.Context(), wh, testEnvelope(t))
	if d.CircuitState("wh-cb") != StateOpen {
		t.Fatalf("circuit = %q, want open", d.CircuitState("wh-cb"))
	}

	d.Deliver(t.Context(), wh, testEnvelope(t))
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 while circuit is open", got)
	}
	_, dead := rec.snapshot()
	if len(dead) != 2 || dead[1].LastError != "circuit open" {
		t.Errorf("dead letters = %+v", dead)
	}
	if obs.count(StatusSkipped) != 1 {
		t.Errorf("skipped observations = %d", obs.count(StatusSkipped))
	}
}

func TestDelivererRejectsPrivateURL(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDeliverer(rec, testConfig(), nil)
	wh := WebhookEndpoint{URL: "http://127.0.0.1:9/hook", Secret: "s"}
	wh.ID = "wh-ssrf"

	d.Deliver(t.Context(), wh, testEnvelope(t))

	attempts, dead := rec.snapshot()
	if len(attempts) != 0 || len(dead) != 0 {
		t.Errorf("attempts = %d, dead = %d; want none", len(attempts), len(dead))
	}
}
