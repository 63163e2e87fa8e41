package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted during tick N are
// delivered by DispatchAll in tick N+1, after SwapBuffers.
type Bus struct {
	mu       sync.Mutex
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]func(any)
	known    map[reflect.Type]bool
	order    []reflect.Type
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
		known:    make(map[reflect.Type]bool),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer. Safe from any goroutine.
func Emit[T any](b *Bus, ev T) {
	if b == nil {
		return
	}
	t := typeOf[T]()
	b.mu.Lock()
	if !b.known[t] {
		b.known[t] = true
		b.order = append(b.order, t)
	}
	b.back[t] = append(b.back[t], ev)
	b.mu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := typeOf[T]()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers rotates back to front and empties the new back buffer.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers front-buffer events in first-emitted type order and
// returns how many events were delivered.
func (b *Bus) DispatchAll() int {
	b.mu.Lock()
	order := b.order
	b.mu.Unlock()

	n := 0
	for _, t := range order {
		events := b.front[t]
		if len(events) == 0 {
			continue
		}
		b.mu.Lock()
		handlers := b.handlers[t]
		b.mu.Unlock()
		for _, ev := range events {
			for _, h := range handlers {
				h(ev)
			}
			n++
		}
		b.front[t] = events[:0]
	}
	return n
}

// Pending returns the number of events waiting in the back buffer.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, evs := range b.back {
		n += len(evs)
	}
	return n
}
