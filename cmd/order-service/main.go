package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/orderlab/orderflow/internal/config"
	"github.com/orderlab/orderflow/internal/consumer"
	healthHandler "github.com/orderlab/orderflow/internal/handler/health"
	orderHandler "github.com/orderlab/orderflow/internal/handler/order"
	"github.com/orderlab/orderflow/internal/model"
	"github.com/orderlab/orderflow/internal/repository/postgres"
	"github.com/orderlab/orderflow/internal/router"
	orderService "github.com/orderlab/orderflow/internal/service/order"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/messaging/rabbitmq"
	"github.com/orderlab/orderflow/pkg/metrics"
	"github.com/orderlab/orderflow/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:   logger.InfoLevel,
		Service: cfg.ServiceName,
	})

	db, err := postgres.NewDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := rabbitmq.NewBroker(rabbitmq.Config{URL: cfg.BrokerURL}, log)
	if err != nil {
		log.Fatal(err, "failed to connect to broker")
	}
	defer broker.Close()

	if err := broker.DeclareTopology(model.EventTypeOrderCreated, model.EventTypeOrderProcessed); err != nil {
		log.Fatal(err, "failed to declare broker topology")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	base := postgres.NewBaseRepository(db)
	uow := postgres.NewOrderUnitOfWork(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	orderSvc := orderService.NewService(uow, log, m)

	publisher := worker.NewOutboxPublisher(outboxRepo, broker, cfg.ToPublisherConfig(), log, m)
	applyProcessed := worker.NewConsumer(
		broker,
		consumer.NewOrderProcessedHandler(orderSvc),
		cfg.ToConsumerConfig(rabbitmq.QueueName(model.EventTypeOrderProcessed)),
		log,
		m,
	)

	r := router.New(
		router.Config{
			RateLimitRPS:   rate.Limit(cfg.RateLimitRPS),
			RateLimitBurst: cfg.RateLimitBurst,
		},
		log,
		registry,
		orderHandler.NewHandler(orderSvc),
		healthHandler.NewHandler(db, broker),
	)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r.Engine(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		publisher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := applyProcessed.Start(ctx); err != nil {
			log.Error(err, "consumer stopped")
			stop()
		}
	}()

	go func() {
		log.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "HTTP server shutdown failed")
	}

	wg.Wait()
	log.Info("shutdown complete")
}
