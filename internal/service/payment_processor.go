package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/invoice"
	"github.com/dynacloud/killbill/internal/domain/payment"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/idempotency"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/sourcegraph/conc/pool"
)

// PaymentProcessor drives a payment attempt through the state machine.
// All mutations for an account serialize behind the account lock; gateway
// calls run on a bounded pool with a per-call timeout. A timeout while the
// lock is held leaves the attempt in UNKNOWN rather than rolling it back,
// because the gateway call may still have succeeded.
type PaymentProcessor struct {
	ServiceParams
	retry       *RetryService
	pool        *pool.Pool
	idempotency *idempotency.Generator
}

func NewPaymentProcessor(params ServiceParams, retry *RetryService) *PaymentProcessor {
	p := &PaymentProcessor{
		ServiceParams: params,
		retry:         retry,
		pool:          pool.New().WithMaxGoroutines(params.Config.Payment.PluginPoolSize),
		idempotency:   idempotency.NewGenerator(),
	}
	params.Notifications.RegisterHandler(notification.QueuePaymentRetry, p.handleRetryNotification)
	return p
}

// transitionPayment moves the payment and its current attempt to next,
// rejecting hops the status transition table does not allow.
func (s *PaymentProcessor) transitionPayment(p *payment.Payment, attempt *payment.PaymentAttempt, next types.PaymentStatus) error {
	if !p.PaymentStatus.CanTransitionTo(next) {
		return ierr.NewError("illegal payment status transition").
			WithHintf("Payment %s cannot move from %s to %s", p.ID, p.PaymentStatus, next).
			Mark(ierr.ErrInvalidOperation)
	}
	p.PaymentStatus = next
	attempt.Status = next
	return nil
}

// CreatePayment creates and processes a payment for the invoice's current
// balance. Instant payments propagate failures to the caller; scheduled
// payments swallow them into the retry machinery.
func (s *PaymentProcessor) CreatePayment(ctx context.Context, accountID, invoiceID string, isInstant bool) (*payment.Payment, error) {
	acct, err := s.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	unlocker, err := s.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return nil, err
	}
	defer unlocker.Unlock()

	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	balance := inv.Balance(s.Scale(), s.Rounding())
	if !balance.IsPositive() {
		return nil, ierr.NewError("invoice has no balance to pay").
			WithHintf("Invoice %s balance is %s", invoiceID, balance).
			Mark(ierr.ErrValidation)
	}

	// a payment already in flight for this invoice absorbs the request
	key := s.idempotency.GenerateKey(idempotency.ScopePayment, map[string]interface{}{
		"account_id": acct.ID,
		"invoice_id": inv.ID,
	})
	existing, err := s.findInFlightPayment(ctx, acct.ID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.Logger.Infow("returning in-flight payment for invoice",
			"payment_id", existing.ID, "invoice_id", inv.ID)
		return existing, nil
	}

	base := types.GetDefaultBaseModel(ctx)
	p := payment.New(acct.ID, inv.ID, acct.PaymentMethodID, balance, inv.Currency, base)
	p.IdempotencyKey = key
	attempt := p.NewAttempt(s.Clock.UTCNow(), base)

	if s.Config.Payment.PaymentSystemOff {
		return s.recordWithoutGatewayCall(ctx, acct, p, attempt, types.PaymentStatusPaymentSystemOff, isInstant,
			"payment system is off")
	}

	if acct.PaymentMethodID == "" {
		return s.recordWithoutGatewayCall(ctx, acct, p, attempt, types.PaymentStatusPaymentFailureAborted, isInstant,
			"account has no default payment method")
	}

	if !isInstant {
		parked, err := s.parkIfAutoPayOff(ctx, acct, p, attempt)
		if err != nil {
			return nil, err
		}
		if parked {
			return p, nil
		}
	}

	if err := s.transitionPayment(p, attempt, types.PaymentStatusProcessing); err != nil {
		return nil, err
	}
	if err := s.PaymentRepo.InsertPaymentWithFirstAttempt(ctx, p, attempt); err != nil {
		return nil, err
	}

	if err := s.runGatewayAttempt(ctx, acct, p, attempt); err != nil && isInstant {
		return p, err
	}
	return p, nil
}

// recordWithoutGatewayCall persists the payment and attempt in a final
// state reached without calling the gateway, posts the error event, and
// propagates an error only for instant payments.
func (s *PaymentProcessor) recordWithoutGatewayCall(ctx context.Context, acct *account.Account, p *payment.Payment, attempt *payment.PaymentAttempt, status types.PaymentStatus, isInstant bool, reason string) (*payment.Payment, error) {
	if err := s.transitionPayment(p, attempt, status); err != nil {
		return nil, err
	}
	attempt.GatewayErrorMsg = reason
	if err := s.PaymentRepo.InsertPaymentWithFirstAttempt(ctx, p, attempt); err != nil {
		return nil, err
	}
	s.postPaymentEvent(ctx, types.EventPaymentError, acct.ID, p, reason)

	if isInstant {
		return p, ierr.NewError(reason).
			WithHintf("Payment %s recorded in %s", p.ID, status).
			Mark(ierr.ErrInvalidOperation)
	}
	return p, nil
}

// findInFlightPayment returns the account's payment carrying the given
// idempotency key while its gateway outcome is still open, nil when none
// exists. Idle retryable states (a decline awaiting retry, a parked
// payment) do not block a new explicit request.
func (s *PaymentProcessor) findInFlightPayment(ctx context.Context, accountID, key string) (*payment.Payment, error) {
	payments, err := s.PaymentRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.IdempotencyKey != key {
			continue
		}
		switch p.PaymentStatus {
		case types.PaymentStatusProcessing, types.PaymentStatusPending, types.PaymentStatusUnknown:
			return p, nil
		}
	}
	return nil, nil
}

// parkIfAutoPayOff parks the payment when the account carries
// AUTO_PAY_OFF, tagging the account first when its previous payment ended
// in a state that warrants automatic suspension.
func (s *PaymentProcessor) parkIfAutoPayOff(ctx context.Context, acct *account.Account, p *payment.Payment, attempt *payment.PaymentAttempt) (bool, error) {
	autoPayOff, err := s.TagStore.HasTag(ctx, acct.ID, types.ControlTagAutoPayOff)
	if err != nil {
		return false, err
	}

	if !autoPayOff {
		shouldSuspend, err := s.lastPaymentEndedBadly(ctx, acct)
		if err != nil {
			return false, err
		}
		if shouldSuspend {
			if err := s.TagStore.AddTag(ctx, acct.ID, types.ControlTagAutoPayOff); err != nil {
				return false, err
			}
			s.postTagEvent(ctx, types.EventTagAdded, acct.ID, types.ControlTagAutoPayOff)
			autoPayOff = true
		}
	}
	if !autoPayOff {
		return false, nil
	}

	if err := s.transitionPayment(p, attempt, types.PaymentStatusAutoPayOff); err != nil {
		return false, err
	}
	if err := s.PaymentRepo.InsertPaymentWithFirstAttempt(ctx, p, attempt); err != nil {
		return false, err
	}
	s.postPaymentEvent(ctx, types.EventPaymentInfo, acct.ID, p, "payment parked, account is in AUTO_PAY_OFF")
	return true, nil
}

// lastPaymentEndedBadly reports whether the account's most recent payment
// on its current payment method ended PLUGIN_FAILURE_ABORTED or UNKNOWN.
// Either outcome suspends automatic payments until an operator intervenes.
func (s *PaymentProcessor) lastPaymentEndedBadly(ctx context.Context, acct *account.Account) (bool, error) {
	payments, err := s.PaymentRepo.GetByAccount(ctx, acct.ID)
	if err != nil {
		return false, err
	}
	var last *payment.Payment
	for _, prev := range payments {
		if prev.PaymentMethodID != acct.PaymentMethodID {
			continue
		}
		if last == nil || prev.CreatedAt.After(last.CreatedAt) {
			last = prev
		}
	}
	if last == nil {
		return false, nil
	}
	return last.PaymentStatus == types.PaymentStatusPluginFailureAborted ||
		last.PaymentStatus == types.PaymentStatusUnknown, nil
}

// runGatewayAttempt dispatches the gateway call and applies the outcome to
// the payment and attempt under the already-held account lock.
func (s *PaymentProcessor) runGatewayAttempt(ctx context.Context, acct *account.Account, p *payment.Payment, attempt *payment.PaymentAttempt) error {
	result, err := s.callPlugin(ctx, acct, p)

	switch {
	case err != nil && ierr.IsPluginTimeout(err):
		// outcome unknown; never rolled back, the retry or pending path
		// reconciles it later
		if terr := s.transitionPayment(p, attempt, types.PaymentStatusUnknown); terr != nil {
			return terr
		}
		attempt.GatewayErrorMsg = err.Error()
		if perr := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); perr != nil {
			return perr
		}
		s.postPaymentEvent(ctx, types.EventPaymentPluginErr, acct.ID, p, "gateway call timed out")
		return err

	case err != nil:
		return s.applyPluginFailure(ctx, acct, p, attempt, err.Error())
	}

	switch result.Status {
	case types.PaymentPluginStatusProcessed:
		if err := s.transitionPayment(p, attempt, types.PaymentStatusSuccess); err != nil {
			return err
		}
		p.ProcessedAmount = result.ProcessedAmount
		p.ProcessedCurrency = result.ProcessedCurrency
		if err := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); err != nil {
			return err
		}
		if err := s.notifyInvoiceOfPayment(ctx, p); err != nil {
			return err
		}
		s.postPaymentEvent(ctx, types.EventPaymentInfo, acct.ID, p, "payment succeeded")
		return nil

	case types.PaymentPluginStatusPending:
		if err := s.transitionPayment(p, attempt, types.PaymentStatusPending); err != nil {
			return err
		}
		if err := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); err != nil {
			return err
		}
		s.postPaymentEvent(ctx, types.EventPaymentInfo, acct.ID, p, "payment pending gateway confirmation")
		return nil

	default:
		return s.applyGatewayDecline(ctx, acct, p, attempt, result)
	}
}

// applyGatewayDecline handles an ERROR status from the gateway: retry per
// the decline delay table unless the account is in AUTO_PAY_OFF or the
// table is exhausted.
func (s *PaymentProcessor) applyGatewayDecline(ctx context.Context, acct *account.Account, p *payment.Payment, attempt *payment.PaymentAttempt, result *payment.PluginResult) error {
	attempt.GatewayErrorCode = result.GatewayErrorCode
	attempt.GatewayErrorMsg = result.GatewayError

	autoPayOff, err := s.TagStore.HasTag(ctx, acct.ID, types.ControlTagAutoPayOff)
	if err != nil {
		return err
	}

	if err := s.transitionPayment(p, attempt, types.PaymentStatusPaymentFailure); err != nil {
		return err
	}

	retryScheduled := false
	if !autoPayOff {
		retryScheduled = s.retry.ScheduleDeclineRetry(ctx, p)
	}
	if !retryScheduled {
		if err := s.transitionPayment(p, attempt, types.PaymentStatusPaymentFailureAborted); err != nil {
			return err
		}
	}

	if err := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); err != nil {
		return err
	}
	s.postPaymentEvent(ctx, types.EventPaymentError, acct.ID, p,
		fmt.Sprintf("gateway declined: %s", result.GatewayError))
	return ierr.NewError("payment declined by gateway").
		WithHintf("Gateway error %s: %s", result.GatewayErrorCode, result.GatewayError).
		Mark(ierr.ErrInvalidOperation)
}

// applyPluginFailure handles a plugin error or panic with its own counter
// and delay table, distinct from gateway declines.
func (s *PaymentProcessor) applyPluginFailure(ctx context.Context, acct *account.Account, p *payment.Payment, attempt *payment.PaymentAttempt, gatewayError string) error {
	attempt.GatewayErrorMsg = gatewayError

	autoPayOff, err := s.TagStore.HasTag(ctx, acct.ID, types.ControlTagAutoPayOff)
	if err != nil {
		return err
	}

	if err := s.transitionPayment(p, attempt, types.PaymentStatusPluginFailure); err != nil {
		return err
	}

	retryScheduled := false
	if !autoPayOff {
		retryScheduled = s.retry.SchedulePluginRetry(ctx, p)
	}
	if !retryScheduled {
		if err := s.transitionPayment(p, attempt, types.PaymentStatusPluginFailureAborted); err != nil {
			return err
		}
	}

	if err := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); err != nil {
		return err
	}
	s.postPaymentEvent(ctx, types.EventPaymentPluginErr, acct.ID, p, gatewayError)
	return ierr.NewError("payment plugin failed").
		WithHint(gatewayError).
		Mark(ierr.ErrPluginFailure)
}

// callPlugin runs the gateway call on the bounded pool with the configured
// timeout. Plugin panics surface as plugin failures, not process crashes.
func (s *PaymentProcessor) callPlugin(ctx context.Context, acct *account.Account, p *payment.Payment) (*payment.PluginResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.Config.Payment.PluginTimeout)
	defer cancel()

	type outcome struct {
		result *payment.PluginResult
		err    error
	}
	ch := make(chan outcome, 1)

	s.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{nil, ierr.NewError("payment plugin panicked").
					WithHintf("%v", r).
					Mark(ierr.ErrPluginFailure)}
			}
		}()
		result, err := s.PaymentPlugin.ProcessPayment(
			callCtx, acct.ID, p.ID, p.PaymentMethodID, p.RequestedAmount, p.RequestedCurrency)
		ch <- outcome{result, err}
	})

	select {
	case <-callCtx.Done():
		return nil, ierr.NewError("gateway call timed out").
			WithHintf("No response within %s", s.Config.Payment.PluginTimeout).
			Mark(ierr.ErrPluginTimeout)
	case o := <-ch:
		return o.result, o.err
	}
}

// notifyInvoiceOfPayment records the successful payment against its
// invoice.
func (s *PaymentProcessor) notifyInvoiceOfPayment(ctx context.Context, p *payment.Payment) error {
	return s.InvoiceRepo.RecordPayment(ctx, &invoice.InvoicePayment{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_PAYMENT),
		InvoiceID:     p.InvoiceID,
		PaymentID:     p.ID,
		Type:          types.InvoicePaymentTypeAttempt,
		Amount:        p.ProcessedAmount,
		Currency:      p.ProcessedCurrency,
		Success:       true,
		EffectiveDate: s.Clock.UTCNow(),
		BaseModel:     types.GetDefaultBaseModel(ctx),
	})
}

// NotifyPendingPaymentOfStateChanged completes a PENDING payment after the
// gateway's asynchronous confirmation.
func (s *PaymentProcessor) NotifyPendingPaymentOfStateChanged(ctx context.Context, paymentID string, success bool) error {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	acct, err := s.AccountProvider.Get(ctx, p.AccountID)
	if err != nil {
		return err
	}

	unlocker, err := s.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return err
	}
	defer unlocker.Unlock()

	// re-fetch under lock
	p, err = s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.PaymentStatus != types.PaymentStatusPending {
		return ierr.NewError("payment is not pending").
			WithHintf("Payment %s is in %s", p.ID, p.PaymentStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	attempt := p.CurrentAttempt()
	if success {
		if err := s.transitionPayment(p, attempt, types.PaymentStatusSuccess); err != nil {
			return err
		}
		p.ProcessedAmount = p.RequestedAmount
		p.ProcessedCurrency = p.RequestedCurrency
	} else {
		if err := s.transitionPayment(p, attempt, types.PaymentStatusPaymentFailureAborted); err != nil {
			return err
		}
	}
	if err := s.PaymentRepo.UpdatePaymentAndAttemptOnCompletion(ctx, p, attempt); err != nil {
		return err
	}

	if success {
		if err := s.notifyInvoiceOfPayment(ctx, p); err != nil {
			return err
		}
		s.postPaymentEvent(ctx, types.EventPaymentInfo, acct.ID, p, "pending payment confirmed")
	} else {
		s.postPaymentEvent(ctx, types.EventPaymentError, acct.ID, p, "pending payment rejected")
	}
	return nil
}

// RemoveAutoPayOff removes the AUTO_PAY_OFF tag and re-schedules every
// parked or failed payment of the account for immediate retry.
func (s *PaymentProcessor) RemoveAutoPayOff(ctx context.Context, accountID string) error {
	acct, err := s.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return err
	}

	unlocker, err := s.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return err
	}
	defer unlocker.Unlock()

	if err := s.TagStore.RemoveTag(ctx, acct.ID, types.ControlTagAutoPayOff); err != nil {
		return err
	}
	s.postTagEvent(ctx, types.EventTagRemoved, acct.ID, types.ControlTagAutoPayOff)

	payments, err := s.PaymentRepo.GetByAccount(ctx, acct.ID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.PaymentStatus.IsRetryable() {
			s.retry.ScheduleUnsuspensionRetry(ctx, p)
		}
	}
	return nil
}

// RetryPaymentFromAPI runs an operator-initiated retry. Accepted from the
// retryable states only.
func (s *PaymentProcessor) RetryPaymentFromAPI(ctx context.Context, paymentID string) error {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if !p.PaymentStatus.IsRetryable() {
		return ierr.NewError("payment cannot be retried").
			WithHintf("Payment %s is in %s", p.ID, p.PaymentStatus).
			Mark(ierr.ErrInvalidOperation)
	}
	return s.retryPayment(ctx, paymentID)
}

func (s *PaymentProcessor) handleRetryNotification(ctx context.Context, paymentID string, _ time.Time) {
	if err := s.retryPayment(ctx, paymentID); err != nil {
		s.Logger.Errorw("payment retry failed",
			"payment_id", paymentID, "code", ierr.Code(err), "error", err)
	}
}

// retryPayment re-enters the state machine for a scheduled retry. The
// payment is re-fetched under the lock; a payment that has since moved to
// a terminal or unexpected state silently aborts the retry.
func (s *PaymentProcessor) retryPayment(ctx context.Context, paymentID string) error {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	acct, err := s.AccountProvider.Get(ctx, p.AccountID)
	if err != nil {
		return err
	}

	unlocker, err := s.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return err
	}
	defer unlocker.Unlock()

	p, err = s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if !p.PaymentStatus.IsRetryable() {
		s.Logger.Debugw("skipping retry, payment no longer retryable",
			"payment_id", p.ID, "status", p.PaymentStatus)
		return nil
	}

	inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	if !inv.Balance(s.Scale(), s.Rounding()).IsPositive() {
		// invoice was paid off elsewhere; close out the payment
		terminal, err := p.PaymentStatus.AbortedStatus()
		if err != nil {
			terminal = types.PaymentStatusPaymentFailureAborted
		}
		base := types.GetDefaultBaseModel(ctx)
		attempt := p.NewAttempt(s.Clock.UTCNow(), base)
		if err := s.transitionPayment(p, attempt, terminal); err != nil {
			return err
		}
		attempt.GatewayErrorMsg = "invoice balance cleared before retry"
		if err := s.PaymentRepo.UpdatePaymentWithNewAttempt(ctx, p, attempt); err != nil {
			return err
		}
		s.postPaymentEvent(ctx, types.EventPaymentInfo, acct.ID, p, "retry aborted, invoice already settled")
		return nil
	}

	base := types.GetDefaultBaseModel(ctx)
	attempt := p.NewAttempt(s.Clock.UTCNow(), base)
	if err := s.transitionPayment(p, attempt, types.PaymentStatusProcessing); err != nil {
		return err
	}
	if err := s.PaymentRepo.UpdatePaymentWithNewAttempt(ctx, p, attempt); err != nil {
		return err
	}

	return s.runGatewayAttempt(ctx, acct, p, attempt)
}

func (s *PaymentProcessor) postPaymentEvent(ctx context.Context, eventName, accountID string, p *payment.Payment, detail string) {
	event, err := types.NewBusEvent(eventName, types.GetTenantID(ctx), accountID, map[string]any{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"status":     p.PaymentStatus,
		"detail":     detail,
	})
	if err != nil {
		s.Logger.Errorw("failed to build payment event", "error", err)
		return
	}
	s.EventBus.Post(ctx, event)
}

func (s *PaymentProcessor) postTagEvent(ctx context.Context, eventName, accountID string, tag types.ControlTag) {
	event, err := types.NewBusEvent(eventName, types.GetTenantID(ctx), accountID, map[string]any{
		"tag": tag,
	})
	if err != nil {
		s.Logger.Errorw("failed to build tag event", "error", err)
		return
	}
	s.EventBus.Post(ctx, event)
}
