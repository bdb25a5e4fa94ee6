package payment

import "context"

// Repository defines the interface for payment data access. All writes are
// transactional over the payment and the affected attempt together.
type Repository interface {
	Get(ctx context.Context, id string) (*Payment, error)
	GetByAccount(ctx context.Context, accountID string) ([]*Payment, error)

	// InsertPaymentWithFirstAttempt persists a new payment and its first
	// attempt atomically.
	InsertPaymentWithFirstAttempt(ctx context.Context, p *Payment, attempt *PaymentAttempt) error

	// UpdatePaymentWithNewAttempt updates the payment status and appends a
	// new attempt atomically.
	UpdatePaymentWithNewAttempt(ctx context.Context, p *Payment, attempt *PaymentAttempt) error

	// UpdatePaymentAndAttemptOnCompletion updates the payment and its
	// current attempt in place after a gateway outcome.
	UpdatePaymentAndAttemptOnCompletion(ctx context.Context, p *Payment, attempt *PaymentAttempt) error
}
