// Command integration runs webhook delivery on its own. It consumes the
// events queue fed by the lifecycle service and serves the webhook admin API.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"

	cfconfig "github.com/voicetyped/campaignflow/config"
	"github.com/voicetyped/campaignflow/internal/connectutil"
	"github.com/voicetyped/campaignflow/internal/telemetry"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/webhook"
	webhookapi "github.com/voicetyped/campaignflow/pkg/webhook/api"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[cfconfig.IntegrationConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("campaignflow-integration"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)
	metrics := telemetry.NewMetrics()

	registry, err := lifecycle.LoadRegistry(cfg.TransitionTablePath)
	if err != nil {
		log.Fatalf("loading transition tables: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), cfg.EventSource, eventRef)

	whRepo := webhook.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	if err := whRepo.Migrate(ctx); err != nil {
		log.Fatalf("migrating webhook tables: %v", err)
	}
	whDeliverer := webhook.NewDeliverer(whRepo, webhook.DelivererConfig{
		MaxRetries:        cfg.WebhookMaxRetries,
		TimeoutSec:        cfg.WebhookTimeoutSec,
		BackoffInitialSec: cfg.WebhookBackoffSec,
		BackoffMaxSec:     cfg.WebhookBackoffMax,
		CBFailThreshold:   cfg.CBFailThreshold,
		CBResetTimeoutSec: cfg.CBResetTimeoutSec,
	}, pool, webhook.WithObserver(metrics), webhook.WithURLValidation(cfg.URLValidation()...))
	whSubscriber := webhook.NewSubscriber(whRepo, whDeliverer, pool)

	mux := http.NewServeMux()
	whHandler := webhookapi.NewHandler(whRepo, pub, registry, cfg.URLValidation()...)
	restMux := http.NewServeMux()
	whHandler.RegisterRoutes(restMux)
	mux.Handle("/api/", connectutil.AuthenticatedHTTPMiddleware(restMux, authenticator))
	mux.Handle("/metrics", metrics.Handler())

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, whSubscriber),
		frame.WithHTTPHandler(connectutil.H2CHandler(mux)),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
