package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/service"
	"crmgate.io/ingestion/internal/handler"
	"crmgate.io/ingestion/internal/infrastructure/amqp"
	"crmgate.io/ingestion/internal/storage"
)

const (
	numWorkers = 4
	queueSize  = 64
)

func main() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	amqpURL := os.Getenv("AMQP_URL")
	dsn := storage.DSN(
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
	)

	// Create AMQP client
	amqpClient, err := amqp.NewClient(amqpURL)
	if err != nil {
		log.Fatalf("Failed to create AMQP client: %v", err)
	}
	defer amqpClient.Close()

	ctx := context.Background()
	db, err := storage.NewPostgresDB(ctx, dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	records := storage.NewRecordStorage(db)

	// Set up topology (exchanges, queues, bindings)
	topologyManager := amqp.NewTopologyManager(amqpClient)
	if err := topologyManager.Setup(); err != nil {
		log.Fatalf("Failed to setup AMQP topology: %v", err)
	}

	validate := validator.New()
	analysisService := service.NewAnalysisService(records)
	messageHandler := handler.NewAMQPConsumer(
		analysisService,
		validate,
		numWorkers,
		queueSize,
	)

	consumer := amqp.NewConsumer(amqpClient, messageHandler, numWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageHandler.Start(ctx)

	if err := consumer.Consume(ctx, domain.MessageAnalysisQueue); err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	log.Info("Analyzer service started successfully")
	log.Infof("Consuming messages from queue: %s", domain.MessageAnalysisQueue)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down analyzer service...")
	cancel()

	// Let in-flight jobs drain before exiting
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	messageHandler.Stop(drainCtx)
}
