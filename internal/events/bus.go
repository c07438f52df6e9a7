// Package events is the in-process publish/subscribe bus for validation
// progress notifications.
package events

import (
	"sync"

	"github.com/agenthub/marketplace/internal/domain/validation"
)

// Bus fan-outs validation events to per-agent subscribers. Slow
// subscribers drop events rather than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan validation.Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan validation.Event]struct{})}
}

// Subscribe registers for events about one agent. The returned cancel
// function must be called to release the subscription.
func (b *Bus) Subscribe(agentID string) (<-chan validation.Event, func()) {
	ch := make(chan validation.Event, 16)

	b.mu.Lock()
	if b.subs[agentID] == nil {
		b.subs[agentID] = make(map[chan validation.Event]struct{})
	}
	b.subs[agentID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[agentID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, agentID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its agent.
func (b *Bus) Publish(event validation.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.AgentID] {
		select {
		case ch <- event:
		default:
		}
	}
}
