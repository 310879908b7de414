package core

import "sync"

type busEntry[T any] struct {
	id uint64
	fn func(T)
}

// Bus is a synchronous publish/subscribe fan-out.
// Handlers run on the publisher's goroutine, outside the bus lock, in subscription order.
type Bus[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []busEntry[T]
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function removing it. Calling it twice is safe.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, busEntry[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, e := range b.subs {
				if e.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := make([]func(T), len(b.subs))
	for i, e := range b.subs {
		handlers[i] = e.fn
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(v)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
