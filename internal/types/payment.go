package types

import (
	"fmt"

	"github.com/samber/lo"
)

// PaymentStatus represents the state of a payment in the processing
// state machine. INIT is the initial state, PROCESSING and PENDING are
// transient, the *_ABORTED states plus SUCCESS and PAYMENT_SYSTEM_OFF are
// terminal, and PAYMENT_FAILURE / PLUGIN_FAILURE / AUTO_PAY_OFF / UNKNOWN
// are retryable.
type PaymentStatus string

const (
	PaymentStatusInit       PaymentStatus = "INIT"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusSuccess    PaymentStatus = "SUCCESS"

	PaymentStatusPaymentFailure        PaymentStatus = "PAYMENT_FAILURE"
	PaymentStatusPaymentFailureAborted PaymentStatus = "PAYMENT_FAILURE_ABORTED"
	PaymentStatusPluginFailure         PaymentStatus = "PLUGIN_FAILURE"
	PaymentStatusPluginFailureAborted  PaymentStatus = "PLUGIN_FAILURE_ABORTED"

	PaymentStatusAutoPayOff       PaymentStatus = "AUTO_PAY_OFF"
	PaymentStatusPaymentSystemOff PaymentStatus = "PAYMENT_SYSTEM_OFF"
	PaymentStatusUnknown          PaymentStatus = "UNKNOWN"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Validate() error {
	allowed := []PaymentStatus{
		PaymentStatusInit,
		PaymentStatusProcessing,
		PaymentStatusPending,
		PaymentStatusSuccess,
		PaymentStatusPaymentFailure,
		PaymentStatusPaymentFailureAborted,
		PaymentStatusPluginFailure,
		PaymentStatusPluginFailureAborted,
		PaymentStatusAutoPayOff,
		PaymentStatusPaymentSystemOff,
		PaymentStatusUnknown,
	}
	if !lo.Contains(allowed, s) {
		return fmt.Errorf("invalid payment status: %s", s)
	}
	return nil
}

// IsTerminal reports whether no further processing may happen for the payment.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess ||
		s == PaymentStatusPaymentFailureAborted ||
		s == PaymentStatusPluginFailureAborted ||
		s == PaymentStatusPaymentSystemOff
}

// IsRetryable reports whether a retry pass may pick the payment up again.
func (s PaymentStatus) IsRetryable() bool {
	return s == PaymentStatusPaymentFailure ||
		s == PaymentStatusPluginFailure ||
		s == PaymentStatusAutoPayOff ||
		s == PaymentStatusUnknown
}

// paymentStatusTransitions is the legal hop table of the state machine.
// Keys are the current status; statuses absent from the table allow no
// further transitions.
var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInit: {
		PaymentStatusProcessing,
		PaymentStatusAutoPayOff,
		PaymentStatusPaymentSystemOff,
		PaymentStatusPaymentFailureAborted,
	},
	PaymentStatusProcessing: {
		PaymentStatusSuccess,
		PaymentStatusPending,
		PaymentStatusPaymentFailure,
		PaymentStatusPaymentFailureAborted,
		PaymentStatusPluginFailure,
		PaymentStatusPluginFailureAborted,
		PaymentStatusUnknown,
	},
	PaymentStatusPending: {
		PaymentStatusSuccess,
		PaymentStatusPaymentFailureAborted,
	},
	PaymentStatusPaymentFailure: {
		PaymentStatusProcessing,
		PaymentStatusPaymentFailureAborted,
	},
	PaymentStatusPluginFailure: {
		PaymentStatusProcessing,
		PaymentStatusPluginFailureAborted,
	},
	PaymentStatusAutoPayOff: {
		PaymentStatusProcessing,
		PaymentStatusPaymentFailureAborted,
	},
	PaymentStatusUnknown: {
		PaymentStatusProcessing,
		PaymentStatusPluginFailureAborted,
	},
}

// CanTransitionTo reports whether moving to next is a legal hop. Terminal
// statuses allow none.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return lo.Contains(paymentStatusTransitions[s], next)
}

// AbortedStatus returns the terminal status matching a retryable failure
// category once its retry budget is exhausted.
func (s PaymentStatus) AbortedStatus() (PaymentStatus, error) {
	switch s {
	case PaymentStatusPaymentFailure:
		return PaymentStatusPaymentFailureAborted, nil
	case PaymentStatusPluginFailure, PaymentStatusUnknown:
		return PaymentStatusPluginFailureAborted, nil
	default:
		return "", fmt.Errorf("no aborted status for payment status %s", s)
	}
}

// PaymentPluginStatus is the outcome reported by a gateway plugin call.
type PaymentPluginStatus string

const (
	PaymentPluginStatusProcessed PaymentPluginStatus = "PROCESSED"
	PaymentPluginStatusPending   PaymentPluginStatus = "PENDING"
	PaymentPluginStatusError     PaymentPluginStatus = "ERROR"
)

func (s PaymentPluginStatus) String() string {
	return string(s)
}

func (s PaymentPluginStatus) Validate() error {
	allowed := []PaymentPluginStatus{
		PaymentPluginStatusProcessed,
		PaymentPluginStatusPending,
		PaymentPluginStatusError,
	}
	if !lo.Contains(allowed, s) {
		return fmt.Errorf("invalid payment plugin status: %s", s)
	}
	return nil
}
