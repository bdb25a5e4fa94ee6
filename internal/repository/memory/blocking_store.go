package memory

import (
	"context"
	"sync"

	"github.com/dynacloud/killbill/internal/domain/overdue"
)

// BlockingStore implements overdue.BlockingStore
type BlockingStore struct {
	mu      sync.RWMutex
	current map[string]*overdue.BlockingRecord
}

func NewBlockingStore() *BlockingStore {
	return &BlockingStore{
		current: make(map[string]*overdue.BlockingRecord),
	}
}

func (m *BlockingStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = make(map[string]*overdue.BlockingRecord)
}

func (m *BlockingStore) GetCurrent(_ context.Context, accountID string) (*overdue.BlockingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[accountID], nil
}

func (m *BlockingStore) SetCurrent(_ context.Context, record *overdue.BlockingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[record.AccountID] = record
	return nil
}
