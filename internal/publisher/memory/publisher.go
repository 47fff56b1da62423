// Package memory implements the publisher interface against a slice, giving
// tests and bus-less deployments something to point at.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// maxRetained bounds the message log. Serve mode can run for days without
// a bus, so only the newest window is kept.
const maxRetained = 256

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-process log. Messages exposes a
// copy of the retained window for assertions.
type Publisher struct {
	mu   sync.Mutex
	seq  int
	sent []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a locally unique id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.sent = append(p.sent, PublishedMessage{Topic: topic, Payload: payload})
	if len(p.sent) > maxRetained {
		p.sent = append(p.sent[:0], p.sent[1:]...)
	}
	return "memory-" + strconv.Itoa(p.seq), nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.sent...)
}
