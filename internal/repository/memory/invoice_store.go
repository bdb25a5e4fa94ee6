package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dynacloud/killbill/internal/domain/invoice"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceStore implements invoice.Repository
type InvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*invoice.Invoice
}

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: make(map[string]*invoice.Invoice)}
}

func (m *InvoiceStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices = make(map[string]*invoice.Invoice)
}

func (m *InvoiceStore) Get(_ context.Context, id string) (*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return inv, nil
}

func (m *InvoiceStore) GetByAccount(_ context.Context, accountID string) ([]*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*invoice.Invoice
	for _, inv := range m.invoices {
		if inv.AccountID == accountID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].InvoiceDate.Before(out[j].InvoiceDate)
	})
	return out, nil
}

func (m *InvoiceStore) InsertWithItems(_ context.Context, inv *invoice.Invoice) error {
	if inv == nil || inv.ID == "" {
		return ierr.NewError("invoice cannot be nil or missing id").
			WithHint("Invoice requires an id").
			Mark(ierr.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.invoices[inv.ID]; exists {
		return ierr.NewError("invoice already exists").
			WithHintf("Invoice %s was already inserted", inv.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *InvoiceStore) AppendItems(_ context.Context, invoiceID string, items []*invoice.InvoiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", invoiceID).
			Mark(ierr.ErrNotFound)
	}
	inv.Items = append(inv.Items, items...)
	return nil
}

func (m *InvoiceStore) RecordPayment(_ context.Context, p *invoice.InvoicePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[p.InvoiceID]
	if !ok {
		return ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", p.InvoiceID).
			Mark(ierr.ErrNotFound)
	}
	inv.Payments = append(inv.Payments, p)
	return nil
}

func (m *InvoiceStore) GetAccountCBA(_ context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cba := decimal.Zero
	for _, inv := range m.invoices {
		if inv.AccountID != accountID {
			continue
		}
		for _, item := range inv.Items {
			if item.Type == types.InvoiceItemTypeCBAAdj {
				cba = cba.Add(item.Amount)
			}
		}
	}
	return cba, nil
}
