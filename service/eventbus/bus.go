package eventbus

import (
	"sort"
	"sync"

	"DeepGround/tools/safe"
)

type Handler func(Event)

type entry struct {
	id int64
	h  Handler
}

// Bus fans events out to subscribers synchronously, in subscription order.
// Handlers run outside the bus lock and may subscribe or unsubscribe.
type Bus struct {
	mu   sync.RWMutex
	seq  int64
	subs map[Kind]map[int64]Handler
	all  map[int64]Handler
}

func New() *Bus {
	return &Bus{
		subs: make(map[Kind]map[int64]Handler),
		all:  make(map[int64]Handler),
	}
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultOnce.Do(func() { defaultBus = New() })
	return defaultBus
}

// Subscribe registers h for one kind. The returned func unsubscribes and may
// be called more than once.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	m, ok := b.subs[kind]
	if !ok {
		m = make(map[int64]Handler)
		b.subs[kind] = m
	}
	m[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[kind], id)
			b.mu.Unlock()
		})
	}
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.all[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.all, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	list := make([]entry, 0, len(b.subs[e.Kind()])+len(b.all))
	for id, h := range b.subs[e.Kind()] {
		list = append(list, entry{id, h})
	}
	for id, h := range b.all {
		list = append(list, entry{id, h})
	}
	b.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, it := range list {
		h := it.h
		safe.Run(func() { h(e) })
	}
}

// On subscribes a handler typed to one event struct.
func On[T Event](b *Bus, h func(T)) func() {
	var zero T
	return b.Subscribe(zero.Kind(), func(e Event) {
		if v, ok := e.(T); ok {
			h(v)
		}
	})
}
