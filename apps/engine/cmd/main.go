package main

import (
	"context"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/util"

	appconfig "github.com/lokeshrajendiran/event-tide/apps/engine/config"
	"github.com/lokeshrajendiran/event-tide/apps/engine/service/admin"
	"github.com/lokeshrajendiran/event-tide/internal/choreo"
	"github.com/lokeshrajendiran/event-tide/internal/workflow"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.EngineConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "eventide_engine"
	}

	// Create service with Frame
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	dbManager := svc.DatastoreManager()
	qMan := svc.QueueManager()

	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	if cfg.DoDatabaseMigrate() {
		if migrateErr := workflow.Migrate(ctx, dbPool.DB(ctx, false)); migrateErr != nil {
			log.WithError(migrateErr).Fatal("could not migrate workflow tables")
		}
		return
	}

	// ==========================================================================
	// Setup Backends and Core Pipeline
	// ==========================================================================

	backends, err := choreo.NewBackendsWithFallback(ctx, cfg.BackendConfig())
	if err != nil {
		log.WithError(err).Fatal("could not initialize dedup backend")
	}
	defer func() {
		_ = backends.Close()
	}()

	workflowRepo := workflow.NewRepository(ctx, dbPool)

	busPublisher := choreo.NewQueueBusPublisher(qMan.Publish)
	dispatcher := choreo.NewDispatcher(busPublisher, &http.Client{
		Timeout: cfg.DispatchHTTPTimeout(),
	})

	dlqService := choreo.NewDLQService(
		busPublisher,
		choreo.WithRetryTopic(cfg.TopicDLQName),
		choreo.WithDeadTopic(cfg.TopicDLQDeadName),
		choreo.WithMaxRetries(cfg.DLQMaxRetries),
	)

	engine := choreo.NewEngine(backends.Dedup, workflowRepo, dispatcher, dlqService)

	// ==========================================================================
	// Register Publishers
	// ==========================================================================

	dlqPublisher := frame.WithRegisterPublisher(
		cfg.TopicDLQName,
		cfg.TopicDLQURI,
	)

	deadPublisher := frame.WithRegisterPublisher(
		cfg.TopicDLQDeadName,
		cfg.TopicDLQDeadURI,
	)

	actionPublishers := make([]frame.Option, 0)
	for name, uri := range cfg.ParseActionTopics() {
		actionPublishers = append(actionPublishers, frame.WithRegisterPublisher(name, uri))
	}

	// ==========================================================================
	// Register Subscribers
	// ==========================================================================

	eventsSubscriber := frame.WithRegisterSubscriber(
		cfg.TopicEventsName,
		cfg.TopicEventsURI,
		choreo.NewIngestHandler(engine, dlqService),
	)

	// ==========================================================================
	// Setup Admin and Health Endpoints
	// ==========================================================================

	limiter := admin.NewRateLimiter(cfg.AdminRateLimitPerMinute, cfg.AdminRateBurst)
	defer limiter.Stop()

	mux := http.NewServeMux()
	admin.NewHandler(workflowRepo, engine, limiter).RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"engine"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthErr := backends.HealthCheck(r.Context()); healthErr != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","service":"engine"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"engine"}`))
	})

	// ==========================================================================
	// Initialize and Start the Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
		dlqPublisher,
		deadPublisher,
		eventsSubscriber,
	}
	serviceOptions = append(serviceOptions, actionPublishers...)

	svc.Init(ctx, serviceOptions...)

	log.Info("Starting choreography engine service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
