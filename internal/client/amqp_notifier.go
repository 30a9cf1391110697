package client

import (
	"context"

	"crmgate.io/ingestion/internal/core/domain"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message any) error
}

// AMQPNotifier publishes ingestion events for downstream consumers. Callers
// treat failures as best-effort; ingestion never depends on the broker.
type AMQPNotifier struct {
	publisher Publisher
}

func NewAMQPNotifier(publisher Publisher) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher}
}

func (n *AMQPNotifier) NotifyMessageIngested(ctx context.Context, event *domain.MessageIngestedEvent) error {
	return n.publisher.Publish(ctx, domain.MessageExchange, domain.RoutingKeyMessageIngested, event)
}
