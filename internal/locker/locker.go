package locker

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/dynacloud/killbill/internal/config"
	ierr "github.com/dynacloud/killbill/internal/errors"
)

// AccountLocker serializes all mutating invoice and payment operations for
// one account. The lock key is the account external key. Acquisition is
// retried a bounded number of times and fails fast on exhaustion instead of
// blocking the caller indefinitely.
type AccountLocker interface {
	// LockAccount acquires the account lock, returning a release handle.
	// The handle must be released on every exit path.
	LockAccount(ctx context.Context, externalKey string) (Unlocker, error)
}

// Unlocker releases a held account lock. Release is idempotent.
type Unlocker interface {
	Unlock()
}

type memoryLocker struct {
	mu     sync.Mutex
	held   map[string]struct{}
	config config.LockConfig
}

// NewMemoryLocker returns a process-local advisory lock manager.
func NewMemoryLocker(cfg *config.Configuration) AccountLocker {
	return &memoryLocker{
		held:   make(map[string]struct{}),
		config: cfg.Lock,
	}
}

func (l *memoryLocker) LockAccount(ctx context.Context, externalKey string) (Unlocker, error) {
	if externalKey == "" {
		return nil, ierr.NewError("account external key is required").
			WithHint("Lock key cannot be empty").
			Mark(ierr.ErrValidation)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(l.config.RetryDelay),
			uint64(l.config.MaxRetries),
		),
		ctx,
	)

	err := backoff.Retry(func() error {
		if l.tryLock(externalKey) {
			return nil
		}
		return ierr.NewError("account lock is held").
			WithHintf("Account %s is locked by a concurrent operation", externalKey).
			Mark(ierr.ErrLockAcquisition)
	}, policy)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Could not acquire lock for account %s", externalKey).
			Mark(ierr.ErrLockAcquisition)
	}

	return &memoryUnlocker{locker: l, key: externalKey}, nil
}

func (l *memoryLocker) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *memoryLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

type memoryUnlocker struct {
	locker *memoryLocker
	key    string
	once   sync.Once
}

func (u *memoryUnlocker) Unlock() {
	u.once.Do(func() {
		u.locker.unlock(u.key)
	})
}
