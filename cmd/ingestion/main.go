package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"crmgate.io/ingestion/internal/client"
	"crmgate.io/ingestion/internal/config"
	"crmgate.io/ingestion/internal/core/port"
	"crmgate.io/ingestion/internal/core/service"
	"crmgate.io/ingestion/internal/infrastructure/amqp"
	"crmgate.io/ingestion/internal/provider"
	"crmgate.io/ingestion/internal/server"
	"crmgate.io/ingestion/internal/storage"
)

// maintenanceInterval paces the background sweep of expired rate limit
// counters and abandoned authorization attempts.
const maintenanceInterval = time.Hour

func main() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	vault, err := service.NewVault(cfg.MasterSecret)
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}

	// Create AMQP client
	amqpClient, err := amqp.NewClient(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("Failed to create AMQP client: %v", err)
	}
	defer amqpClient.Close()
	publisher := amqp.NewPublisher(amqpClient)
	notifier := client.NewAMQPNotifier(publisher)

	ctx := context.Background()
	db, err := storage.NewPostgresDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	credentials := storage.NewCredentialStorage(db)
	states := storage.NewAuthStateStorage(db)
	rates := storage.NewRateLimitStorage(db)
	dedup := storage.NewDedupStorage(db)
	auditStore := storage.NewAuditStorage(db)
	records := storage.NewRecordStorage(db)

	// Set up topology (exchanges, queues, bindings)
	topologyManager := amqp.NewTopologyManager(amqpClient)
	if err := topologyManager.Setup(); err != nil {
		log.Fatalf("Failed to setup AMQP topology: %v", err)
	}

	providers := make(map[string]port.ProviderClient)
	if cfg.Gmail.Configured() {
		gmail := provider.NewGmailClient(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RedirectURL, cfg.GmailPubSubTopic)
		providers[gmail.Name()] = gmail
	}
	if cfg.Outlook.Configured() {
		outlook := provider.NewOutlookClient(cfg.Outlook.ClientID, cfg.Outlook.ClientSecret, cfg.Outlook.RedirectURL, cfg.OutlookNotifyURL, cfg.WebhookSecret)
		providers[outlook.Name()] = outlook
	}

	auditLog := service.NewAuditLog(auditStore)
	limiter := service.NewRateLimiter(rates)
	tokenService := service.NewTokenService(vault, credentials, states, auditLog, providers)
	ingestionService := service.NewIngestionService(
		credentials,
		dedup,
		records,
		limiter,
		tokenService,
		auditLog,
		notifier,
		providers,
	)

	// Create HTTP server
	httpServer := server.NewHTTPServer(server.Config{
		Tokens:        tokenService,
		Ingest:        ingestionService,
		Limiter:       limiter,
		Audit:         auditLog,
		Secrets:       vault,
		APIToken:      cfg.APIToken,
		WebhookSecret: cfg.WebhookSecret,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Start HTTP server in a goroutine
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	go runMaintenance(workerCtx, limiter, states)

	log.Info("Ingestion service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down ingestion service...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Error shutting down HTTP server: %v", err)
	}
}

func runMaintenance(ctx context.Context, limiter *service.RateLimiter, states port.AuthStateStorage) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(ctx)
			if _, err := states.PurgeExpired(ctx, time.Now()); err != nil {
				log.Errorf("Auth state purge failed: %v", err)
			}
		}
	}
}
