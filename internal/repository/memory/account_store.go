package memory

import (
	"context"
	"sync"

	"github.com/dynacloud/killbill/internal/domain/account"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
)

// AccountStore implements account.Provider
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*account.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*account.Account)}
}

func (m *AccountStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*account.Account)
}

// Add registers an account for lookup.
func (m *AccountStore) Add(acct *account.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

func (m *AccountStore) Get(_ context.Context, id string) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ierr.NewError("account not found").
			WithHintf("No account with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return acct, nil
}

func (m *AccountStore) GetByExternalKey(_ context.Context, externalKey string) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acct := range m.accounts {
		if acct.ExternalKey == externalKey {
			return acct, nil
		}
	}
	return nil, ierr.NewError("account not found").
		WithHintf("No account with external key %s", externalKey).
		Mark(ierr.ErrNotFound)
}

// TagStore implements account.TagStore. RemoveTag tolerates an
// absent tag, matching the production contract.
type TagStore struct {
	mu   sync.RWMutex
	tags map[string]map[types.ControlTag]bool
}

func NewTagStore() *TagStore {
	return &TagStore{tags: make(map[string]map[types.ControlTag]bool)}
}

func (m *TagStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = make(map[string]map[types.ControlTag]bool)
}

func (m *TagStore) HasTag(_ context.Context, accountID string, tag types.ControlTag) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tags[accountID][tag], nil
}

func (m *TagStore) AddTag(_ context.Context, accountID string, tag types.ControlTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tags[accountID] == nil {
		m.tags[accountID] = make(map[types.ControlTag]bool)
	}
	m.tags[accountID][tag] = true
	return nil
}

func (m *TagStore) RemoveTag(_ context.Context, accountID string, tag types.ControlTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tags[accountID], tag)
	return nil
}
