package overdue

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/types"
)

// BlockingRecord is the persisted form of an account's current overdue
// standing, owned by an external blocking API.
type BlockingRecord struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	StateName        string    `json:"state_name"`
	BlockChanges     bool      `json:"block_changes"`
	DisableBilling   bool      `json:"disable_billing"`
	BlockEntitlement bool      `json:"block_entitlement"`
	EffectiveDate    time.Time `json:"effective_date"`

	types.BaseModel
}

// BlockingStore persists the current blocking state of an account.
type BlockingStore interface {
	GetCurrent(ctx context.Context, accountID string) (*BlockingRecord, error)
	SetCurrent(ctx context.Context, record *BlockingRecord) error
}
