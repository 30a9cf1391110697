package amqp

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// DeliveryHandler receives raw deliveries and is responsible for ack/nack.
type DeliveryHandler interface {
	Handle(ctx context.Context, delivery *amqp.Delivery)
}

// Consumer drains a queue and delegates deliveries to a handler.
type Consumer struct {
	client   *Client
	handler  DeliveryHandler
	prefetch int
}

func NewConsumer(client *Client, handler DeliveryHandler, prefetch int) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		client:   client,
		handler:  handler,
		prefetch: prefetch,
	}
}

// Consume starts consuming from the queue until the context is cancelled.
func (c *Consumer) Consume(ctx context.Context, queueName string) error {
	ch := c.client.Channel()

	err := ch.Qos(
		c.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (we'll manually ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.WithField("queue", queueName).Info("Started consuming messages")

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info("Consumer stopped due to context cancellation")
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Warn("Message channel closed")
					return
				}
				log.WithFields(log.Fields{
					"routingKey": msg.RoutingKey,
					"messageId":  msg.MessageId,
				}).Debug("Processing message")
				c.handler.Handle(ctx, &msg)
			}
		}
	}()

	return nil
}
