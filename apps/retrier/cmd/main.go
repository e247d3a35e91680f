package main

import (
	"context"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/lokeshrajendiran/event-tide/apps/retrier/config"
	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.RetrierConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "eventide_retrier"
	}

	// Create service with Frame
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	qMan := svc.QueueManager()

	// ==========================================================================
	// Setup Backends and Retry Loop
	// ==========================================================================

	backends, err := choreo.NewBackendsWithFallback(ctx, cfg.BackendConfig())
	if err != nil {
		log.WithError(err).Fatal("could not initialize dedup backend")
	}
	defer func() {
		_ = backends.Close()
	}()

	busPublisher := choreo.NewQueueBusPublisher(qMan.Publish)

	dlqService := choreo.NewDLQService(
		busPublisher,
		choreo.WithRetryTopic(cfg.TopicDLQName),
		choreo.WithDeadTopic(cfg.TopicDLQDeadName),
		choreo.WithMaxRetries(cfg.DLQMaxRetries),
	)

	retryHandler := choreo.NewRetryLoopHandler(
		busPublisher,
		dlqService,
		backends.Dedup,
		choreo.WithEventsTopic(cfg.TopicEventsName),
		choreo.WithBaseDelay(cfg.BaseDelay()),
	)

	// ==========================================================================
	// Register Publishers
	// ==========================================================================

	eventsPublisher := frame.WithRegisterPublisher(
		cfg.TopicEventsName,
		cfg.TopicEventsURI,
	)

	deadPublisher := frame.WithRegisterPublisher(
		cfg.TopicDLQDeadName,
		cfg.TopicDLQDeadURI,
	)

	// ==========================================================================
	// Register Subscribers
	// ==========================================================================

	dlqSubscriber := frame.WithRegisterSubscriber(
		cfg.TopicDLQName,
		cfg.TopicDLQURI,
		retryHandler,
	)

	// ==========================================================================
	// Setup Health Endpoints
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"retrier"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthErr := backends.HealthCheck(r.Context()); healthErr != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","service":"retrier"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"retrier"}`))
	})

	// ==========================================================================
	// Initialize and Start the Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
		eventsPublisher,
		deadPublisher,
		dlqSubscriber,
	}

	svc.Init(ctx, serviceOptions...)

	log.Info("Starting DLQ retry loop service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
