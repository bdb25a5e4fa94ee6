package main

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dynacloud/killbill/internal/logger"
	"github.com/dynacloud/killbill/internal/service"
	"github.com/dynacloud/killbill/internal/types"
)

func serviceBusTopic() string {
	return types.DefaultBusTopic
}

// consumeEvents routes bus events into overdue re-evaluation. Invoice
// adjustments and payment outcomes both change an account's billing state;
// the applicator is idempotent, so duplicates and replays are harmless.
func consumeEvents(ctx context.Context, messages <-chan *message.Message, applicator *service.OverdueApplicator, log *logger.Logger) {
	for msg := range messages {
		var event types.BusEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			log.Errorw("dropping malformed bus event", "message_id", msg.UUID, "error", err)
			msg.Ack()
			continue
		}

		switch event.EventName {
		case types.EventInvoiceAdjusted, types.EventPaymentInfo, types.EventPaymentError:
			evalCtx := types.SetTenantID(ctx, event.TenantID)
			if err := applicator.Evaluate(evalCtx, event.AccountID); err != nil {
				log.Errorw("overdue evaluation from bus event failed",
					"event", event.EventName, "account_id", event.AccountID, "error", err)
			}
		}
		msg.Ack()
	}
}
