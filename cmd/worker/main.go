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
	"github.com/ignite/sendfabric/internal/modules"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/ratelimit"
	"github.com/ignite/sendfabric/internal/repository/postgres"
	"github.com/ignite/sendfabric/internal/tenantworker"
)

func main() {
	log.Println("Starting sendfabric tenant worker...")

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
	sendConfigRepo := postgres.NewSendConfigRepo(db)
	msgIndexRepo := postgres.NewMessageIndexRepo(db)
	eventRepo := postgres.NewEventRepo(db)

	bucketTTL := time.Duration(cfg.RateLimit.BucketTTLSeconds) * time.Second
	if bucketTTL <= 0 {
		bucketTTL = 24 * time.Hour
	}
	hotstateStore := hotstate.New(redisClient, 24*time.Hour)
	rateFabric := ratelimit.New(redisClient, bucketTTL)

	registry := modules.NewRegistry()
	registry.Register(modules.NewEmailModule(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region))
	registry.Register(modules.NewSMSModule())
	registry.Register(modules.NewPushModule())
	registry.Register(modules.NewWebhookModule())
	log.Println("Module registry initialized: email, sms, push, webhook")

	events := eventlog.New(eventRepo, 2*time.Second, 5000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events.Start(ctx)
	log.Println("Event log buffer started")

	processor := tenantworker.NewProcessor(hotstateStore, rateFabric, registry, recipientRepo, batchRepo, msgIndexRepo, events)
	pool := tenantworker.New(brokerClient, processor, batchRepo, sendConfigRepo, registry.Types(), tenantworker.Config{})
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start tenant worker pool: %v", err)
	}
	log.Println("Tenant worker pool started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down worker...")

	pool.Stop()
	log.Println("Tenant worker pool stopped")

	events.Stop()
	log.Println("Event log buffer flushed")

	cancel()

	stats := pool.Stats()
	logger.Info("tenant worker stats at shutdown", "processed", stats["total_processed"], "acked", stats["total_acked"], "naked", stats["total_naked"])

	log.Println("Worker stopped")
}
