package account

import (
	"context"

	"github.com/dynacloud/killbill/internal/types"
)

// Provider defines the read side of account data access. Accounts are
// provisioned elsewhere; this module only resolves them.
type Provider interface {
	Get(ctx context.Context, id string) (*Account, error)
	GetByExternalKey(ctx context.Context, externalKey string) (*Account, error)
}

// TagStore defines control tag access for an account. RemoveTag tolerates
// an absent tag: removing a tag that was never set is not an error.
type TagStore interface {
	HasTag(ctx context.Context, accountID string, tag types.ControlTag) (bool, error)
	AddTag(ctx context.Context, accountID string, tag types.ControlTag) error
	RemoveTag(ctx context.Context, accountID string, tag types.ControlTag) error
}
