package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dynacloud/killbill/internal/domain/payment"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// MockPaymentPlugin is a scripted payment.Plugin. Responses are consumed
// in order; when the script runs out, calls succeed with the requested
// amount.
type MockPaymentPlugin struct {
	mu     sync.Mutex
	script []pluginBehavior
	Calls  int
}

type pluginBehavior struct {
	result *payment.PluginResult
	err    error
	panics bool
	hangs  time.Duration
}

func NewMockPaymentPlugin() *MockPaymentPlugin {
	return &MockPaymentPlugin{}
}

func (m *MockPaymentPlugin) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.Calls = 0
}

// EnqueueResult scripts a gateway response.
func (m *MockPaymentPlugin) EnqueueResult(result *payment.PluginResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, pluginBehavior{result: result})
}

// EnqueueError scripts a plugin error.
func (m *MockPaymentPlugin) EnqueueError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, pluginBehavior{err: ierr.NewError(msg).Mark(ierr.ErrPluginFailure)})
}

// EnqueuePanic scripts a plugin panic.
func (m *MockPaymentPlugin) EnqueuePanic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, pluginBehavior{panics: true})
}

// EnqueueHang scripts a call that blocks for the given duration before
// succeeding, to exercise the timeout path.
func (m *MockPaymentPlugin) EnqueueHang(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, pluginBehavior{hangs: d})
}

func (m *MockPaymentPlugin) ProcessPayment(ctx context.Context, _, _, _ string, amount decimal.Decimal, currency string) (*payment.PluginResult, error) {
	m.mu.Lock()
	m.Calls++
	var behavior pluginBehavior
	if len(m.script) > 0 {
		behavior = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	switch {
	case behavior.panics:
		panic("mock plugin panic")
	case behavior.hangs > 0:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(behavior.hangs):
		}
	case behavior.err != nil:
		return nil, behavior.err
	case behavior.result != nil:
		return behavior.result, nil
	}

	return &payment.PluginResult{
		Status:            types.PaymentPluginStatusProcessed,
		ProcessedAmount:   amount,
		ProcessedCurrency: currency,
	}, nil
}
