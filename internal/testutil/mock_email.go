package testutil

import (
	"context"
	"sync"
)

// SentEmail is one message captured by MockEmailSender.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records outgoing mail instead of sending it.
type MockEmailSender struct {
	mu   sync.Mutex
	sent []SentEmail
}

func NewMockEmailSender() *MockEmailSender {
	return &MockEmailSender{}
}

func (m *MockEmailSender) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *MockEmailSender) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns the captured messages in send order.
func (m *MockEmailSender) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.sent))
	copy(out, m.sent)
	return out
}
