package types

import (
	"encoding/json"
	"time"
)

// Bus event names posted by the core. Consumers must tolerate duplicate and
// out-of-order delivery: posting is at-least-once, best effort.
const (
	EventInvoiceCreated   = "invoice.created"
	EventInvoiceAdjusted  = "invoice.adjusted"
	EventPaymentInfo      = "payment.info"
	EventPaymentError     = "payment.error"
	EventPaymentPluginErr = "payment.plugin_error"
	EventOverdueChange    = "overdue.change"
	EventTagAdded         = "tag.added"
	EventTagRemoved       = "tag.removed"
)

// DefaultBusTopic is the watermill topic all core events are posted on.
const DefaultBusTopic = "killbill.events"

// BusEvent is the envelope posted on the event bus.
type BusEvent struct {
	ID        string          `json:"id"`
	EventName string          `json:"event_name"`
	TenantID  string          `json:"tenant_id"`
	AccountID string          `json:"account_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewBusEvent builds an event envelope with a generated id and the current
// UTC timestamp.
func NewBusEvent(eventName, tenantID, accountID string, payload any) (*BusEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &BusEvent{
		ID:        GenerateUUIDWithPrefix(UUID_PREFIX_BUS_EVENT),
		EventName: eventName,
		TenantID:  tenantID,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}
