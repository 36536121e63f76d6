package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	cfconfig "github.com/voicetyped/campaignflow/config"
	"github.com/voicetyped/campaignflow/internal/connectutil"
	lifecyclehandler "github.com/voicetyped/campaignflow/internal/lifecycle/handler"
	"github.com/voicetyped/campaignflow/internal/runtime"
	"github.com/voicetyped/campaignflow/internal/session"
	"github.com/voicetyped/campaignflow/internal/storage/memstore"
	"github.com/voicetyped/campaignflow/internal/storage/redisstore"
	"github.com/voicetyped/campaignflow/internal/telemetry"
	"github.com/voicetyped/campaignflow/internal/telephony"
	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
	"github.com/voicetyped/campaignflow/pkg/webhook"
	webhookapi "github.com/voicetyped/campaignflow/pkg/webhook/api"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[cfconfig.ServiceConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("campaignflow"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)
	dbPool := srv.DatastoreManager().GetPool(ctx, "__default__pool_name__")
	metrics := telemetry.NewMetrics()
	logger := slog.Default()

	registry, err := lifecycle.LoadRegistry(cfg.TransitionTablePath)
	if err != nil {
		log.Fatalf("loading transition tables: %v", err)
	}

	entities, auditStore, closeStore, err := openStorage(ctx, &cfg, dbPool)
	if err != nil {
		log.Fatalf("opening %s storage: %v", cfg.StorageDriver, err)
	}
	defer closeStore()

	// --- Event bus and subscribers ---
	bus := events.NewBus(
		events.WithLogger(logger),
		events.WithFailureHook(metrics.RecordHandlerFailure),
	)

	auditWriter := audit.NewWriter(auditStore, logger)
	auditWriter.Register(bus)

	orch := runtime.NewOrchestrator(entities, lifecycle.NewGuard(registry), bus,
		runtime.WithMetrics(metrics),
		runtime.WithTracer(telemetry.Tracer()),
	)

	telephony.NewSynchronizer(telephony.NewFacade(orch, entities), logger).Register(bus)

	// --- Script sessions ---
	scripts := script.NewLoader(cfg.ScriptDir)
	if _, err := scripts.LoadAll(); err != nil {
		slog.Warn("loading scripts", slog.String("dir", cfg.ScriptDir), slog.String("error", err.Error()))
	} else {
		slog.Info("scripts loaded", slog.String("dir", cfg.ScriptDir), slog.Any("names", scripts.Names()))
		if cfg.ScriptHotReload {
			go func() {
				if err := scripts.WatchAndReload(ctx.Done()); err != nil {
					slog.Warn("script watcher stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	snapshots, err := openSnapshots(ctx, &cfg)
	if err != nil {
		log.Fatalf("opening snapshot store: %v", err)
	}
	sessions := session.NewManager(scripts, snapshots, registry,
		session.WithTTL(cfg.SessionTTL()),
		session.WithCalls(orch),
		session.WithPool(pool),
		session.WithMetrics(metrics),
		session.WithLogger(logger),
	)
	sessions.Register(bus)

	// --- Relay to the events queue ---
	pub := events.NewPublisher(srv.QueueManager(), cfg.EventSource, eventRef)
	bus.SubscribeAll(pub.Relay, events.WithName("queue-relay"))

	// --- Webhooks ---
	whRepo := webhook.NewRepository(dbPool)
	if err := whRepo.Migrate(ctx); err != nil {
		log.Fatalf("migrating webhook tables: %v", err)
	}
	whDeliverer := webhook.NewDeliverer(whRepo, deliveryConfig(cfg.WebhookConfig), pool,
		webhook.WithObserver(metrics),
		webhook.WithURLValidation(cfg.URLValidation()...),
	)
	whSubscriber := webhook.NewSubscriber(whRepo, whDeliverer, pool)

	// --- HTTP Mux ---
	mux := http.NewServeMux()

	opts, err := connectutil.AuthenticatedOptions(ctx, authenticator, connectutil.WithObserver(metrics))
	if err != nil {
		log.Fatalf("setting up auth interceptors: %v", err)
	}
	path, h := lifecyclehandler.NewLifecycleHandler(orch, auditWriter, sessions, pub).Routes(opts...)
	mux.Handle(path, h)

	whHandler := webhookapi.NewHandler(whRepo, pub, registry, cfg.URLValidation()...)
	restMux := http.NewServeMux()
	whHandler.RegisterRoutes(restMux)
	mux.Handle("/api/", connectutil.AuthenticatedHTTPMiddleware(restMux, authenticator))
	mux.Handle("/metrics", metrics.Handler())

	sessions.StartReaper(ctx)

	if cfg.DeliverWebhooks {
		srv.Init(ctx,
			frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, whSubscriber),
			frame.WithHTTPHandler(connectutil.H2CHandler(mux)),
		)
	} else {
		srv.Init(ctx, frame.WithHTTPHandler(connectutil.H2CHandler(mux)))
	}

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}

func deliveryConfig(c cfconfig.WebhookConfig) webhook.DelivererConfig {
	return webhook.DelivererConfig{
		MaxRetries:        c.WebhookMaxRetries,
		TimeoutSec:        c.WebhookTimeoutSec,
		BackoffInitialSec: c.WebhookBackoffSec,
		BackoffMaxSec:     c.WebhookBackoffMax,
		CBFailThreshold:   c.CBFailThreshold,
		CBResetTimeoutSec: c.CBResetTimeoutSec,
	}
}

func openSnapshots(ctx context.Context, cfg *cfconfig.ServiceConfig) (script.Store, error) {
	if cfg.RedisURL == "" {
		return memstore.NewSnapshotStore(), nil
	}
	return redisstore.Connect(ctx, cfg.RedisURL, redisstore.WithTTL(cfg.SnapshotTTL()))
}
