package service

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/domain/payment"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/types"
)

// RetryService decides whether a failed attempt gets another try and
// schedules it on the notification queue. Three independent schedulers
// exist because a plugin outage and a card decline warrant different
// backoff policies: gateway declines, plugin failures, and AUTO_PAY_OFF
// unsuspension each consult their own delay table and attempt counter.
type RetryService struct {
	ServiceParams
}

func NewRetryService(params ServiceParams) *RetryService {
	return &RetryService{ServiceParams: params}
}

// ScheduleDeclineRetry schedules a retry after a gateway decline. The
// attempt count is recomputed from the payment's attempt history in the
// PAYMENT_FAILURE and UNKNOWN states, including the attempt just recorded.
// Returns false when the delay table is exhausted; the caller then aborts
// the payment.
func (s *RetryService) ScheduleDeclineRetry(ctx context.Context, p *payment.Payment) bool {
	count := p.AttemptCountInStatus(types.PaymentStatusPaymentFailure, types.PaymentStatusUnknown)
	return s.schedule(ctx, p.ID, count, s.Config.Payment.PaymentFailureRetries)
}

// SchedulePluginRetry schedules a retry after a plugin failure, counting
// attempts in the PLUGIN_FAILURE and UNKNOWN states against the plugin
// failure delay table.
func (s *RetryService) SchedulePluginRetry(ctx context.Context, p *payment.Payment) bool {
	count := p.AttemptCountInStatus(types.PaymentStatusPluginFailure, types.PaymentStatusUnknown)
	return s.schedule(ctx, p.ID, count, s.Config.Payment.PluginFailureRetries)
}

// ScheduleUnsuspensionRetry re-schedules a payment parked or failed while
// the account carried AUTO_PAY_OFF, once the tag is removed.
func (s *RetryService) ScheduleUnsuspensionRetry(ctx context.Context, p *payment.Payment) bool {
	delays := s.Config.Payment.AutoPayOffRetries
	if len(delays) == 0 {
		delays = []time.Duration{0}
	}
	return s.schedule(ctx, p.ID, 1, delays)
}

func (s *RetryService) schedule(ctx context.Context, paymentID string, attemptCount int, delays []time.Duration) bool {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount > len(delays) {
		return false
	}
	effectiveTime := s.Clock.UTCNow().Add(delays[attemptCount-1])
	if err := s.Notifications.Schedule(ctx, notification.QueuePaymentRetry, paymentID, effectiveTime); err != nil {
		s.Logger.Errorw("failed to schedule payment retry",
			"payment_id", paymentID, "error", err)
		return false
	}
	s.Logger.Debugw("scheduled payment retry",
		"payment_id", paymentID, "attempt_count", attemptCount, "effective_time", effectiveTime)
	return true
}
