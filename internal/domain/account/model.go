package account

import (
	"time"

	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
)

// Account represents a billing account in the system
type Account struct {
	// ID is the unique identifier for the account
	ID string `db:"id" json:"id"`

	// ExternalKey is the caller supplied identifier. It is also the key the
	// account level advisory lock is taken on.
	ExternalKey string `db:"external_key" json:"external_key"`

	// Name is the display name of the account holder
	Name string `db:"name" json:"name"`

	// Email is the email of the account holder
	Email string `db:"email" json:"email"`

	// Currency is the ISO 4217 currency code all invoices and payments for
	// this account are denominated in
	Currency string `db:"currency" json:"currency"`

	// TimeZone is the account's fixed offset time zone used to resolve
	// local target dates into processing instants
	TimeZone *time.Location `db:"time_zone" json:"time_zone"`

	// PaymentMethodID is the default payment method, empty when none is set
	PaymentMethodID string `db:"payment_method_id" json:"payment_method_id"`

	// Metadata
	Metadata types.Metadata `db:"metadata" json:"metadata"`

	types.BaseModel
}

// Location returns the account time zone, defaulting to UTC when unset.
func (a *Account) Location() *time.Location {
	if a.TimeZone == nil {
		return time.UTC
	}
	return a.TimeZone
}

func (a *Account) Validate() error {
	if a.ExternalKey == "" {
		return ierr.NewError("account external key is required").
			WithHint("Account external key may not be empty").
			Mark(ierr.ErrValidation)
	}
	if len(a.Currency) != 3 {
		return ierr.NewError("invalid account currency").
			WithHintf("Currency must be a 3 letter ISO code, got %q", a.Currency).
			Mark(ierr.ErrValidation)
	}
	return nil
}
