package invoice

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for invoice data access. Implementations
// are durable and transactional at the single-invoice level.
type Repository interface {
	Get(ctx context.Context, id string) (*Invoice, error)

	// GetByAccount returns the account's invoices with items and payments
	// populated, ordered by invoice date.
	GetByAccount(ctx context.Context, accountID string) ([]*Invoice, error)

	// InsertWithItems persists a new invoice and all its items in one
	// transaction.
	InsertWithItems(ctx context.Context, inv *Invoice) error

	// AppendItems atomically adds adjustment items to an existing invoice.
	AppendItems(ctx context.Context, invoiceID string, items []*InvoiceItem) error

	// RecordPayment attaches a payment movement to an invoice.
	RecordPayment(ctx context.Context, payment *InvoicePayment) error

	// GetAccountCBA returns the account's credit balance: the sum of all
	// CBA_ADJ amounts across the account's invoices.
	GetAccountCBA(ctx context.Context, accountID string) (decimal.Decimal, error)
}
