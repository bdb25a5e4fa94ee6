package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dynacloud/killbill/internal/domain/payment"
	ierr "github.com/dynacloud/killbill/internal/errors"
)

// PaymentStore implements payment.Repository
type PaymentStore struct {
	mu       sync.RWMutex
	payments map[string]*payment.Payment
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[string]*payment.Payment)}
}

func (m *PaymentStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = make(map[string]*payment.Payment)
}

func (m *PaymentStore) Get(_ context.Context, id string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ierr.NewError("payment not found").
			WithHintf("No payment with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

func (m *PaymentStore) GetByAccount(_ context.Context, accountID string) ([]*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *PaymentStore) InsertPaymentWithFirstAttempt(_ context.Context, p *payment.Payment, attempt *payment.PaymentAttempt) error {
	if p == nil || attempt == nil {
		return ierr.NewError("payment and attempt are required").
			WithHint("Both payment and attempt must be provided").
			Mark(ierr.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; exists {
		return ierr.NewError("payment already exists").
			WithHintf("Payment %s was already inserted", p.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	p.Attempts = []*payment.PaymentAttempt{attempt}
	m.payments[p.ID] = p
	return nil
}

func (m *PaymentStore) UpdatePaymentWithNewAttempt(_ context.Context, p *payment.Payment, attempt *payment.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return ierr.NewError("payment not found").
			WithHintf("No payment with id %s", p.ID).
			Mark(ierr.ErrNotFound)
	}
	stored.PaymentStatus = p.PaymentStatus
	stored.Attempts = append(stored.Attempts, attempt)
	p.Attempts = stored.Attempts
	return nil
}

func (m *PaymentStore) UpdatePaymentAndAttemptOnCompletion(_ context.Context, p *payment.Payment, attempt *payment.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return ierr.NewError("payment not found").
			WithHintf("No payment with id %s", p.ID).
			Mark(ierr.ErrNotFound)
	}
	stored.PaymentStatus = p.PaymentStatus
	stored.ProcessedAmount = p.ProcessedAmount
	stored.ProcessedCurrency = p.ProcessedCurrency
	for i, a := range stored.Attempts {
		if a.ID == attempt.ID {
			stored.Attempts[i] = attempt
			return nil
		}
	}
	stored.Attempts = append(stored.Attempts, attempt)
	return nil
}
