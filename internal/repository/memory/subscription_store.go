package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dynacloud/killbill/internal/clock"
	"github.com/dynacloud/killbill/internal/domain/subscription"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
)

// SubscriptionStore implements subscription.Timeline and
// subscription.Entitlement: cancellation appends a cancellation transition
// to the stored timeline.
type SubscriptionStore struct {
	mu            sync.RWMutex
	clock         clock.Clock
	subscriptions map[string]*subscription.Subscription
	transitions   map[string][]subscription.BillingTransition
}

func NewSubscriptionStore(cl clock.Clock) *SubscriptionStore {
	return &SubscriptionStore{
		clock:         cl,
		subscriptions: make(map[string]*subscription.Subscription),
		transitions:   make(map[string][]subscription.BillingTransition),
	}
}

func (m *SubscriptionStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription.Subscription)
	m.transitions = make(map[string][]subscription.BillingTransition)
}

// Add registers a subscription.
func (m *SubscriptionStore) Add(sub *subscription.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = sub
}

// AddTransition appends a billing transition to a subscription's timeline.
func (m *SubscriptionStore) AddTransition(t subscription.BillingTransition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[t.SubscriptionID] = append(m.transitions[t.SubscriptionID], t)
}

func (m *SubscriptionStore) Get(_ context.Context, id string) (*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No subscription with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return sub, nil
}

func (m *SubscriptionStore) GetByAccount(_ context.Context, accountID string) ([]*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*subscription.Subscription
	for _, sub := range m.subscriptions {
		if sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *SubscriptionStore) GetTransitions(_ context.Context, subscriptionID string, upTo time.Time) ([]subscription.BillingTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []subscription.BillingTransition
	for _, t := range m.transitions[subscriptionID] {
		if !t.EffectiveDate.After(upTo) || t.IsCancellation {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out, nil
}

// CancelWithPolicy appends a cancellation transition to the timeline.
// IMMEDIATE cancels now; END_OF_TERM cancels at the end of the in-flight
// billing period; NONE is a no-op.
func (m *SubscriptionStore) CancelWithPolicy(_ context.Context, subscriptionID string, policy types.BillingActionPolicy) error {
	if policy == types.BillingActionPolicyNone {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	transitions := m.transitions[subscriptionID]
	if len(transitions) == 0 {
		return ierr.NewError("subscription has no timeline").
			WithHintf("No transitions for subscription %s", subscriptionID).
			Mark(ierr.ErrNotFound)
	}
	for _, t := range transitions {
		if t.IsCancellation {
			return nil // already cancelled
		}
	}

	now := m.clock.UTCNow()
	effectiveDate := now
	if policy == types.BillingActionPolicyEndOfTerm {
		last := transitions[len(transitions)-1]
		periodEnd := last.EffectiveDate
		for !periodEnd.After(now) {
			periodEnd = last.BillingPeriod.AddTo(periodEnd)
		}
		effectiveDate = periodEnd
	}

	m.transitions[subscriptionID] = append(transitions, subscription.BillingTransition{
		SubscriptionID: subscriptionID,
		EffectiveDate:  effectiveDate,
		IsCancellation: true,
	})
	return nil
}
