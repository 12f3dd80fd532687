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

	"github.com/ignite/sendfabric/internal/config"
	"github.com/ignite/sendfabric/internal/leader"
	"github.com/ignite/sendfabric/internal/pkg/distlock"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository/postgres"
	"github.com/ignite/sendfabric/internal/scheduler"
)

func main() {
	log.Println("Starting sendfabric scheduler...")

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

	batchRepo := postgres.NewBatchRepo(db)
	sched := scheduler.New(batchRepo, scheduler.Config{})

	lock := distlock.NewLock(redisClient, db, "sendfabric:leader:scheduler", cfg.Leader.TTL())
	elector := leader.New(lock, cfg.Leader.TTL(), cfg.Leader.RenewEvery())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go elector.Run(ctx, "scheduler", func(leaderCtx context.Context) {
		log.Println("Acquired scheduler leadership, starting promotion loop")
		sched.Start(leaderCtx)
		<-leaderCtx.Done()
		sched.Stop()
		log.Println("Lost scheduler leadership, stopped promotion loop")
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down scheduler...")
	cancel()

	stats := sched.Stats()
	logger.Info("scheduler stats at shutdown", "promoted", stats["total_promoted"])

	time.Sleep(2 * time.Second)
	log.Println("Scheduler stopped")
}
