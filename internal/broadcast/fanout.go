package broadcast

import (
	"fmt"
	"sync"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Topic is the fanout topic for a showtime.
func Topic(showtimeID uint64) string { return fmt.Sprintf("showtime:%d", showtimeID) }

// Subscriber receives the events of one topic until it is removed.
type Subscriber struct {
	topic string
	ch    chan model.SeatStatusEvent
}

// Events is closed when the subscriber is removed.
func (s *Subscriber) Events() <-chan model.SeatStatusEvent { return s.ch }

// Topic returns the topic the subscriber listens on.
func (s *Subscriber) Topic() string { return s.topic }

// Fanout is a connection registry keyed by topic.  Viewers are added when
// they connect and removed when they disconnect.  A viewer whose buffer is
// full misses the event instead of slowing everybody else down.
type Fanout struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	buffer int
}

// NewFanout returns an empty registry; buffer is the per-subscriber queue
// length.
func NewFanout(buffer int) *Fanout {
	if buffer < 1 {
		buffer = 1
	}
	return &Fanout{topics: make(map[string]map[*Subscriber]struct{}), buffer: buffer}
}

// Add registers a new subscriber on topic.
func (f *Fanout) Add(topic string) *Subscriber {
	sub := &Subscriber{topic: topic, ch: make(chan model.SeatStatusEvent, f.buffer)}
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.topics[topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		f.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Remove unregisters sub and closes its channel.  Removing twice is a no-op.
func (f *Fanout) Remove(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(f.topics, sub.topic)
	}
}

// Relay delivers ev to every subscriber of its showtime topic and returns
// how many received it.
func (f *Fanout) Relay(ev model.SeatStatusEvent) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	delivered := 0
	for sub := range f.topics[Topic(ev.ShowtimeID)] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Count returns the number of subscribers on topic.
func (f *Fanout) Count(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[topic])
}
