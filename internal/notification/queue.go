package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dynacloud/killbill/internal/clock"
	"github.com/dynacloud/killbill/internal/logger"
)

// Queue names used by the core.
const (
	QueuePaymentRetry = "payment-retry"
	QueueOverdueCheck = "overdue-check"
)

// Handler receives a due notification. Handlers run inline on the
// dispatching goroutine; they must not block indefinitely.
type Handler func(ctx context.Context, key string, effectiveTime time.Time)

// Queue is a future-check queue: schedulers post a key with an effective
// time and the registered handler fires once that time is reached.
// Scheduling the same key again replaces the pending entry.
type Queue interface {
	Schedule(ctx context.Context, queueName, key string, effectiveTime time.Time) error
	Clear(ctx context.Context, queueName, key string) error
	RegisterHandler(queueName string, handler Handler)
}

type entry struct {
	key           string
	effectiveTime time.Time
}

// InMemoryQueue is a clock-driven Queue. Due entries are delivered by
// DispatchDue, called either from a polling loop or directly by tests that
// advance a test clock.
type InMemoryQueue struct {
	mu       sync.Mutex
	pending  map[string]map[string]time.Time
	handlers map[string]Handler
	clock    clock.Clock
	logger   *logger.Logger
}

func NewInMemoryQueue(cl clock.Clock, log *logger.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		pending:  make(map[string]map[string]time.Time),
		handlers: make(map[string]Handler),
		clock:    cl,
		logger:   log,
	}
}

func (q *InMemoryQueue) Schedule(_ context.Context, queueName, key string, effectiveTime time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[queueName] == nil {
		q.pending[queueName] = make(map[string]time.Time)
	}
	q.pending[queueName][key] = effectiveTime
	return nil
}

func (q *InMemoryQueue) Clear(_ context.Context, queueName, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending[queueName], key)
	return nil
}

func (q *InMemoryQueue) RegisterHandler(queueName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queueName] = handler
}

// PendingKeys returns the keys currently scheduled on the named queue.
func (q *InMemoryQueue) PendingKeys(queueName string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.pending[queueName]))
	for key := range q.pending[queueName] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DispatchDue delivers every entry whose effective time is at or before
// the current clock time. Entries are removed before their handler runs so
// a handler that re-schedules does not loop.
func (q *InMemoryQueue) DispatchDue(ctx context.Context) {
	now := q.clock.UTCNow()

	q.mu.Lock()
	type dispatch struct {
		queueName string
		entry     entry
	}
	var due []dispatch
	for queueName, entries := range q.pending {
		for key, effectiveTime := range entries {
			if !effectiveTime.After(now) {
				due = append(due, dispatch{queueName, entry{key, effectiveTime}})
				delete(entries, key)
			}
		}
	}
	handlers := make(map[string]Handler, len(q.handlers))
	for name, h := range q.handlers {
		handlers[name] = h
	}
	q.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].entry.effectiveTime.Before(due[j].entry.effectiveTime)
	})

	for _, d := range due {
		handler, ok := handlers[d.queueName]
		if !ok {
			q.logger.Warnw("dropping notification with no registered handler",
				"queue", d.queueName, "key", d.entry.key)
			continue
		}
		handler(ctx, d.entry.key, d.entry.effectiveTime)
	}
}

// Run polls for due entries until the context is cancelled.
func (q *InMemoryQueue) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.DispatchDue(ctx)
		}
	}
}
