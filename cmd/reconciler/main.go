package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/config"
	"github.com/ignite/sendfabric/internal/eventlog"
	"github.com/ignite/sendfabric/internal/hotstate"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/reconciler"
	"github.com/ignite/sendfabric/internal/repository/postgres"
)

func main() {
	log.Println("Starting sendfabric reconciler...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		redisOpts = &redis.Options{Addr: cfg.Redis.URL}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer redisCancel()
	if err := redisClient.Ping(redisCtx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	log.Println("Connected to redis")

	brokerClient, err := broker.Connect(broker.Config{
		URL:               cfg.Broker.URL,
		MaxReconnects:     cfg.Broker.MaxReconnects,
		ReconnectWait:     cfg.Broker.ReconnectWait(),
		DedupWindow:       cfg.Broker.DedupWindow(),
		JobsMaxAge:        time.Duration(cfg.Broker.JobsMaxAgeHours) * time.Hour,
		WebhooksMaxAge:      time.Duration(cfg.Broker.WebhooksMaxAgeHours) * time.Hour,
		OrchestrationMaxAge: time.Duration(cfg.Broker.OrchestrationMaxAgeHours) * time.Hour,
		MaxMsgsPerSubject:   cfg.Broker.MaxMsgsPerSubject,
	})
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer brokerClient.Close()
	log.Println("Connected to broker")

	recipientRepo := postgres.NewRecipientRepo(db)
	batchRepo := postgres.NewBatchRepo(db)
	eventRepo := postgres.NewEventRepo(db)

	hotstateStore := hotstate.New(redisClient, 24*time.Hour)

	events := eventlog.New(eventRepo, 2*time.Second, 5000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events.Start(ctx)
	log.Println("Event log buffer started")

	processor := reconciler.NewProcessor(hotstateStore, recipientRepo, batchRepo, events)

	// Unlike the orchestrator and scheduler, the reconciler runs every
	// replica active: hotstate.MarkWebhookSeen dedups a redelivered or
	// provider-retried webhook across replicas, so there's no
	// single-active-instance invariant to protect with leader election.
	pool := reconciler.New(brokerClient, processor, reconciler.Config{})
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start reconciler pool: %v", err)
	}
	log.Println("Reconciler pool started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down reconciler...")

	pool.Stop()
	log.Println("Reconciler pool stopped")

	events.Stop()
	log.Println("Event log buffer flushed")

	cancel()

	poolStats := pool.Stats()
	procStats := processor.Stats()
	logger.Info("reconciler stats at shutdown",
		"processed", poolStats["total_processed"], "acked", poolStats["total_acked"], "naked", poolStats["total_naked"],
		"dropped_terminal", procStats["webhook_dropped_terminal"])

	log.Println("Reconciler stopped")
}
