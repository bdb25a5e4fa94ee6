package subscription

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/types"
)

// Timeline provides read-only access to subscriptions and their ordered
// billing transition history.
type Timeline interface {
	GetByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	Get(ctx context.Context, id string) (*Subscription, error)

	// GetTransitions returns the subscription's billing transitions in
	// effective date order, including any transition effective after upTo
	// only when it is a cancellation already recorded on the timeline.
	GetTransitions(ctx context.Context, subscriptionID string, upTo time.Time) ([]BillingTransition, error)
}

// Entitlement is the narrow cancellation surface the overdue applicator
// drives. Implementations cancel add-ons transitively with their base
// subscription; callers never cancel an add-on directly.
type Entitlement interface {
	CancelWithPolicy(ctx context.Context, subscriptionID string, policy types.BillingActionPolicy) error
}
