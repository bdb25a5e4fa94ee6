package testutil

import (
	"context"
	"sync"

	"github.com/dynacloud/killbill/internal/types"
)

// MockEntitlement implements subscription.Entitlement, recording every
// cancellation request.
type MockEntitlement struct {
	mu        sync.Mutex
	Cancelled map[string]types.BillingActionPolicy
}

func NewMockEntitlement() *MockEntitlement {
	return &MockEntitlement{Cancelled: make(map[string]types.BillingActionPolicy)}
}

func (m *MockEntitlement) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = make(map[string]types.BillingActionPolicy)
}

func (m *MockEntitlement) CancelWithPolicy(_ context.Context, subscriptionID string, policy types.BillingActionPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled[subscriptionID] = policy
	return nil
}
