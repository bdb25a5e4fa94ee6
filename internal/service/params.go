package service

import (
	"github.com/dynacloud/killbill/internal/bus"
	"github.com/dynacloud/killbill/internal/clock"
	"github.com/dynacloud/killbill/internal/config"
	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/invoice"
	"github.com/dynacloud/killbill/internal/domain/overdue"
	"github.com/dynacloud/killbill/internal/domain/payment"
	"github.com/dynacloud/killbill/internal/domain/subscription"
	"github.com/dynacloud/killbill/internal/email"
	"github.com/dynacloud/killbill/internal/locker"
	"github.com/dynacloud/killbill/internal/logger"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	Clock  clock.Clock

	// Repositories and collaborators
	AccountProvider account.Provider
	TagStore        account.TagStore
	Timeline        subscription.Timeline
	Entitlement     subscription.Entitlement
	InvoiceRepo     invoice.Repository
	PaymentRepo     payment.Repository
	BlockingStore   overdue.BlockingStore

	// Infrastructure
	PaymentPlugin payment.Plugin
	Locker        locker.AccountLocker
	EventBus      bus.EventBus
	Notifications notification.Queue
	EmailSender   email.Sender
}

// Scale returns the configured monetary scale.
func (p ServiceParams) Scale() int32 {
	return p.Config.Invoice.NumberOfDecimals
}

// Rounding returns the configured rounding mode.
func (p ServiceParams) Rounding() types.RoundingMode {
	return p.Config.Invoice.RoundingMode
}

// TaxTable converts the configured tax factor entries into the
// calculator's form.
func (p ServiceParams) TaxTable() []invoice.TaxFactor {
	table := make([]invoice.TaxFactor, 0, len(p.Config.Invoice.TaxFactors))
	for _, e := range p.Config.Invoice.TaxFactors {
		table = append(table, invoice.TaxFactor{
			EffectiveDate: e.EffectiveDate,
			Factor:        decimal.NewFromFloat(e.Factor),
		})
	}
	return table
}
