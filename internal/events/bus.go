package events

import (
	"sync"

	"github.com/google/uuid"
)

// Event is a domain event published on the bus
type Event interface {
	eventName() string
}

// ImageStored fires after an image has been written to storage and indexed
type ImageStored struct {
	ImageID uuid.UUID
	Source  string
}

// ImagesDeleted fires after images have been removed from the catalog
type ImagesDeleted struct {
	ImageIDs []uuid.UUID
}

// SourceDeleted fires after a source (e.g. a box) has been removed
type SourceDeleted struct {
	Source string
}

// MetaDataAdded fires after the metadata catalog has been updated
type MetaDataAdded struct {
	ImageID   uuid.UUID
	Overwrite bool
}

func (ImageStored) eventName() string   { return "image_stored" }
func (ImagesDeleted) eventName() string { return "images_deleted" }
func (SourceDeleted) eventName() string { return "source_deleted" }
func (MetaDataAdded) eventName() string { return "metadata_added" }

// Bus is an in-memory pub/sub channel for domain events. Delivery is
// best-effort: slow subscribers drop events, so subscribers must be
// idempotent and must not rely on the bus for durable state.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. Returns a receive-only channel and an
// unsubscribe function; the channel closes on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsub
}

// Publish sends an event to all subscribers. Non-blocking: slow subscribers
// are skipped. Sends happen under the lock so unsubscribe can never race a
// send on a closed channel.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// skip slow subscriber
		}
	}
}
