package popup

import (
	"encoding/json"
	"sync"
)

// Bus is the inbound cross-context message channel. Handlers see every
// message published, whichever remote context sent it.
type Bus interface {
	// Subscribe installs handler and returns a function that removes it.
	// The returned function is idempotent.
	Subscribe(handler func(json.RawMessage)) (cancel func())
}

// MessageBus is an in-process Bus. Publish runs the current handlers
// synchronously on the caller's goroutine, in subscription order.
type MessageBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(json.RawMessage)
	order    []uint64
}

// NewMessageBus returns an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{handlers: make(map[uint64]func(json.RawMessage))}
}

// Subscribe implements Bus.
func (b *MessageBus) Subscribe(handler func(json.RawMessage)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, cur := range b.order {
				if cur == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers msg to every handler subscribed at the time of the call
// that is still subscribed when its turn comes.
func (b *MessageBus) Publish(msg json.RawMessage) {
	b.mu.Lock()
	ids := append([]uint64(nil), b.order...)
	b.mu.Unlock()
	for _, id := range ids {
		b.mu.Lock()
		h, ok := b.handlers[id]
		b.mu.Unlock()
		if ok {
			h(msg)
		}
	}
}

// Len returns the number of installed handlers.
func (b *MessageBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
