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

	"github.com/ignite/sendfabric/internal/auth"
	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/config"
	"github.com/ignite/sendfabric/internal/leader"
	"github.com/ignite/sendfabric/internal/orchestrator"
	"github.com/ignite/sendfabric/internal/pkg/distlock"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository/postgres"
)

func main() {
	log.Println("Starting sendfabric orchestrator...")

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
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(redisCtx).Err(); err != nil {
		log.Printf("Warning: redis unavailable (%v), falling back to PG advisory locks", err)
		redisClient.Close()
		redisClient = nil
	} else {
		log.Println("Connected to redis")
		defer redisClient.Close()
	}
	redisCancel()

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

	batchRepo := postgres.NewBatchRepo(db)
	recipientRepo := postgres.NewRecipientRepo(db)

	signer := auth.NewServiceTokenManager(cfg.Internal.ServiceTokenSecret, 5*time.Minute)

	// The processor runs on every replica unconditionally: its durable pull
	// consumer on the orchestration stream load-balances notices across
	// however many processors are up, the same scaling model as
	// internal/tenantworker.Pool on the send side.
	processor := orchestrator.NewProcessor(brokerClient, batchRepo, recipientRepo, brokerClient, orchestrator.ProcessorConfig{})
	if err := processor.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start orchestration processor: %v", err)
	}

	// The discoverer only publishes a lightweight notice per queued batch,
	// so it's gated to one active claimant via leader election:
	// BatchRepository.ClaimNextQueued assumes a single active discoverer.
	discoverer := orchestrator.New(batchRepo, brokerClient, orchestrator.Config{})
	recovery := orchestrator.NewRecovery(batchRepo, processor.PublishRecipients, signer, orchestrator.RecoveryConfig{
		Interval: cfg.Recovery.Interval(),
		StaleAge: cfg.Recovery.Threshold(),
	})

	lock := distlock.NewLock(redisClient, db, "sendfabric:leader:orchestrator", cfg.Leader.TTL())
	elector := leader.New(lock, cfg.Leader.TTL(), cfg.Leader.RenewEvery())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go elector.Run(ctx, "orchestrator", func(leaderCtx context.Context) {
		log.Println("Acquired orchestrator leadership, starting discoverer and recovery scan")
		discoverer.Start(leaderCtx)
		recovery.Start(leaderCtx)
		<-leaderCtx.Done()
		discoverer.Stop()
		recovery.Stop()
		log.Println("Lost orchestrator leadership, stopped discoverer and recovery scan")
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down orchestrator...")
	cancel()
	processor.Stop()

	discovererStats := discoverer.Stats()
	processorStats := processor.Stats()
	logger.Info("orchestrator stats at shutdown",
		"batches_claimed", discovererStats["total_batches"],
		"batches_processed", processorStats["total_batches"],
		"recipients_published", processorStats["total_published"])

	time.Sleep(2 * time.Second)
	log.Println("Orchestrator stopped")
}
