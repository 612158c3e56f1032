package mocks

import "sync"

// MockProducer records produced messages per topic.
type MockProducer struct {
	mu       sync.Mutex
	Messages map[string][]string
	Err      error
}

func NewMockProducer() *MockProducer {
	return &MockProducer{Messages: make(map[string][]string)}
}

func (p *MockProducer) ProduceMessage(topic, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}

	p.Messages[topic] = append(p.Messages[topic], message)
	return nil
}

func (p *MockProducer) Produced(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.Messages[topic]...)
}
