package identity

import (
	"sync"

	"go.uber.org/zap"
)

// Bus fans auth state changes out to subscribed listeners. Delivery is
// synchronous and in subscription order. A panicking listener is logged
// and skipped.
type Bus struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
	order     []int
	log       *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{listeners: make(map[int]Listener), log: log}
}

// Subscribe registers l and returns a func that removes it. The returned
// func is safe to call more than once.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Emit delivers event to every current listener. Listeners may
// unsubscribe from inside the callback.
func (b *Bus) Emit(event Event, s *Session) {
	b.mu.Lock()
	ls := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		ls = append(ls, b.listeners[id])
	}
	b.mu.Unlock()

	for _, l := range ls {
		b.deliver(l, event, s)
	}
}

// Len returns the number of subscribed listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Bus) deliver(l Listener, event Event, s *Session) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("auth listener panicked", zap.String("event", string(event)), zap.Any("panic", r))
		}
	}()
	l(event, s)
}
