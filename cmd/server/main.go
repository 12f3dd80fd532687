package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/config"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/webhookingest"
)

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  sendfabric server (cmd/server/main.go)                   ║")
	log.Println("║  Webhook ingestion surface                                ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

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

	ingestor := webhookingest.NewIngestor(brokerClient, webhookingest.ProviderSecrets{
		HMACSecrets: map[string]string{
			"generic": cfg.Generic.WebhookSecret,
			"resend":  cfg.Resend.WebhookSecret,
		},
		TelnyxPublicKey: cfg.Telnyx.PublicKey,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: ingestor.Routes(),
	}

	go func() {
		log.Printf("Starting webhook ingestor on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	stats := ingestor.Stats()
	logger.Info("webhook ingestor stats at shutdown", "received", stats["total_received"], "rejected", stats["total_rejected"], "enqueued", stats["total_enqueued"])

	log.Println("Server stopped")
}
