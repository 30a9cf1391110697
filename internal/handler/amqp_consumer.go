package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

type analysisJob struct {
	event domain.MessageIngestedEvent
}

// AMQPConsumer feeds ingestion events into a bounded worker pool for
// downstream analysis.
type AMQPConsumer struct {
	analysis   port.AnalysisService
	validate   *validator.Validate
	jobQueue   chan analysisJob
	wg         sync.WaitGroup
	numWorkers int
}

func NewAMQPConsumer(
	analysis port.AnalysisService,
	validate *validator.Validate,
	numWorkers int,
	queueSize int,
) *AMQPConsumer {
	return &AMQPConsumer{
		analysis:   analysis,
		validate:   validate,
		jobQueue:   make(chan analysisJob, queueSize),
		numWorkers: numWorkers,
	}
}

// Start launches the worker pool. Call this before consuming messages.
func (c *AMQPConsumer) Start(ctx context.Context) {
	for i := 0; i < c.numWorkers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	log.Infof("Started %d analysis workers", c.numWorkers)
}

// Stop gracefully shuts down workers after draining the queue.
func (c *AMQPConsumer) Stop(ctx context.Context) {
	close(c.jobQueue)

	workersDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		log.Info("All analysis workers stopped after draining")
	case <-ctx.Done():
		log.Info("Analysis worker shutdown timed out")
	}
}

func (c *AMQPConsumer) worker(ctx context.Context, workerID int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Warnf("[AnalysisWorker %d] Context cancelled, stopping", workerID)
			return
		case job, ok := <-c.jobQueue:
			if !ok {
				log.Infof("[AnalysisWorker %d] Queue closed, stopping", workerID)
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := c.analysis.Run(jobCtx, job.event); err != nil {
				log.WithError(err).WithField("activityID", job.event.ActivityID).Error("Analysis failed")
			}
			cancel()
		}
	}
}

func (c *AMQPConsumer) Handle(ctx context.Context, delivery *amqp.Delivery) {
	var err error

	switch delivery.RoutingKey {
	case domain.RoutingKeyMessageIngested:
		err = c.handleMessageIngested(ctx, delivery)
	default:
		log.Errorf("unsupported routing key %s", delivery.RoutingKey)
	}

	if err != nil {
		delivery.Nack(false, false)
		return
	}
	delivery.Ack(false)
}

func (c *AMQPConsumer) handleMessageIngested(_ context.Context, delivery *amqp.Delivery) error {
	var event domain.MessageIngestedEvent

	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		log.Errorf("failed to unmarshal ingestion event: %v", err)
		return err
	}

	if err := c.validate.Struct(event); err != nil {
		log.Errorf("ingestion event validation failed: %v", err)
		return err
	}

	log.WithFields(log.Fields{
		"activityID": event.ActivityID,
		"contactID":  event.ContactID,
		"channel":    event.Channel,
	}).Info("Received ingestion event for analysis")

	// Submit to worker pool (blocks if queue is full, providing backpressure)
	c.jobQueue <- analysisJob{event: event}

	return nil
}
