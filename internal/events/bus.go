package events

import "sync"

const defaultBuffer = 16

// Bus is the in-process fan-out between the trading loop and its
// observers (websocket stream, tests). Delivery is best effort: a full
// subscriber drops messages, it never stalls a cycle.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Event]map[int]chan any
}

func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[int]chan any)}
}

// Subscribe returns a receive channel for one topic and a cancel
// function. Cancel closes the channel, so receivers may range over it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan any, buffer)

	b.mu.Lock()
	if b.topics[e] == nil {
		b.topics[e] = make(map[int]chan any)
	}
	id := b.nextID
	b.nextID++
	b.topics[e][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[e], id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers payload to every current subscriber of the topic.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}
