package syncer

import "sync"

// Result is published after every successful sync cycle. Counts cover
// entities actually changed, so {0,0} means subscribers can skip refreshing.
type Result struct {
	Pulled int
	Pushed int
}

// Bus is a minimal in-process publish/subscribe for sync completions. There
// is no replay: a subscriber registered after a publish never sees that
// event. Unsubscribing is idempotent and safe from inside the callback.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Result)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Result))}
}

// Subscribe registers fn and returns its unsubscribe handle.
func (b *Bus) Subscribe(fn func(Result)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers r to every current subscriber. Callbacks run outside the
// bus lock so they may unsubscribe (or subscribe) without deadlocking.
func (b *Bus) Publish(r Result) {
	b.mu.Lock()
	fns := make([]func(Result), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}
