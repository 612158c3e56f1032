package mocks

import "sync"

type SentMail struct {
	Recipient string
	Data      any
	Template  string
}

// MockMailer records every email instead of sending it.
type MockMailer struct {
	mu   sync.Mutex
	Sent []SentMail
}

func (m *MockMailer) Send(recipient string, data any, patterns ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	template := ""
	if len(patterns) > 0 {
		template = patterns[0]
	}

	m.Sent = append(m.Sent, SentMail{Recipient: recipient, Data: data, Template: template})
	return nil
}
