package events

import (
	"sync"
	"sync/atomic"
)

// Fanout delivers every emitted event to all live subscribers. Delivery never
// blocks the emitter: a subscriber whose buffer is full misses the event and
// the drop is counted.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	buffer  int
	dropped atomic.Uint64
	onDrop  func()
}

// NewFanout creates a fan-out whose subscriber channels hold buffer events.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = 64
	}
	return &Fanout{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Emit implements Emitter.
func (f *Fanout) Emit(evt Event) {
	if evt == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			f.dropped.Add(1)
			if f.onDrop != nil {
				f.onDrop()
			}
		}
	}
}

// SetDropObserver installs fn to be called once per skipped delivery.
func (f *Fanout) SetDropObserver(fn func()) {
	f.mu.Lock()
	f.onDrop = fn
	f.mu.Unlock()
}

// Subscribe registers a new listener. The returned cancel func closes the
// channel and must be called exactly once.
func (f *Fanout) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, f.buffer)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (f *Fanout) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber lagged.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}
