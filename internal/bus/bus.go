package bus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dynacloud/killbill/internal/logger"
	"github.com/dynacloud/killbill/internal/pubsub"
	"github.com/dynacloud/killbill/internal/types"
)

// EventBus posts domain events for downstream consumers (overdue
// re-evaluation, analytics). Delivery is best-effort, at-least-once:
// posting failures are logged and never propagated, so the core operation
// that produced the event still completes.
type EventBus interface {
	Post(ctx context.Context, event *types.BusEvent)
}

type eventBus struct {
	publisher pubsub.Publisher
	logger    *logger.Logger
}

// NewEventBus creates a bus backed by the given publisher.
func NewEventBus(publisher pubsub.Publisher, logger *logger.Logger) EventBus {
	return &eventBus{
		publisher: publisher,
		logger:    logger,
	}
}

func (b *eventBus) Post(ctx context.Context, event *types.BusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Errorw("failed to marshal bus event",
			"error", err,
			"event_name", event.EventName)
		return
	}

	msg := message.NewMessage(event.ID, payload)
	if err := b.publisher.Publish(ctx, types.DefaultBusTopic, msg); err != nil {
		b.logger.Errorw("failed to post bus event",
			"error", err,
			"event_name", event.EventName,
			"account_id", event.AccountID)
	}
}
