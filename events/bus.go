package events

import (
	"context"
	"sync"
)

// Listener receives a fire-and-forget event. The emitter does not wait for
// any effect of the listener.
type Listener func(payload any)

// AwaitedListener receives an awaited event. The emitter waits for the
// listener to return before proceeding; a non-nil error fails the emitting
// operation.
type AwaitedListener func(ctx context.Context, payload any) error

// Bus is a multicast event dispatcher with the two delivery modes the
// orchestration contract requires. Listener registration is valid at any
// time before the corresponding emission.
type Bus struct {
	mu       sync.RWMutex
	sync     map[Name][]Listener
	awaitedL map[Name][]AwaitedListener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		sync:     make(map[Name][]Listener),
		awaitedL: make(map[Name][]AwaitedListener),
	}
}

// On registers a fire-and-forget listener.
func (b *Bus) On(name Name, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync[name] = append(b.sync[name], fn)
}

// OnAwaited registers an awaited listener. Awaited listeners run in
// registration order and may block the emitting operation.
func (b *Bus) OnAwaited(name Name, fn AwaitedListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitedL[name] = append(b.awaitedL[name], fn)
}

// Emit delivers a synchronous event to every fire-and-forget listener.
// Listeners are invoked inline but their outcome is ignored.
func (b *Bus) Emit(name Name, payload any) {
	b.mu.RLock()
	listeners := b.sync[name]
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(payload)
	}
}

// EmitAwaited delivers an asynchronous event: every awaited listener runs in
// registration order and the call returns only once all of them have
// completed. The first listener error aborts the remainder and is returned
// to the emitter.
func (b *Bus) EmitAwaited(ctx context.Context, name Name, payload any) error {
	b.mu.RLock()
	listeners := b.awaitedL[name]
	b.mu.RUnlock()

	for _, fn := range listeners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// Relay forwards the named events from b onto dst, preserving the delivery
// mode of each event. Wiring must happen before the source starts emitting
// so no event is lost to an unattached listener.
func (b *Bus) Relay(dst *Bus, names ...Name) {
	for _, name := range names {
		name := name
		if IsAwaited(name) {
			b.OnAwaited(name, func(ctx context.Context, payload any) error {
				return dst.EmitAwaited(ctx, name, payload)
			})
			continue
		}
		b.On(name, func(payload any) {
			dst.Emit(name, payload)
		})
	}
}
