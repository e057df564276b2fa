package events

import (
	"encoding/json"
	"sync"

	"genforge/internal/models"
)

// Bus is an in-process fan-out of events to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   []chan models.Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe() <-chan models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) publish(event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// subscriber is behind; drop rather than block the coordinator
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

func marshalEvent(event models.Event) ([]byte, error) {
	return json.Marshal(event)
}

func unmarshalEvent(payload []byte) (models.Event, error) {
	var event models.Event
	err := json.Unmarshal(payload, &event)
	return event, err
}
