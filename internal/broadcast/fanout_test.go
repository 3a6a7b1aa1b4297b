package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

func TestFanout_RelaysToTopicOnly(t *testing.T) {
	f := NewFanout(4)
	a := f.Add(Topic(1))
	b := f.Add(Topic(1))
	other := f.Add(Topic(2))

	n := f.Relay(model.SeatStatusEvent{ShowtimeID: 1, SeatID: 5, Status: model.SeatHeld})
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscriber{a, b} {
		ev := <-sub.Events()
		assert.EqualValues(t, 5, ev.SeatID)
	}
	assert.Len(t, other.Events(), 0)
}

func TestFanout_RemoveClosesAndIsIdempotent(t *testing.T) {
	f := NewFanout(1)
	sub := f.Add(Topic(1))
	require.Equal(t, 1, f.Count(Topic(1)))

	f.Remove(sub)
	f.Remove(sub)
	assert.Equal(t, 0, f.Count(Topic(1)))
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, f.Relay(model.SeatStatusEvent{ShowtimeID: 1}))
}

func TestFanout_SlowSubscriberDropsEvents(t *testing.T) {
	f := NewFanout(1)
	slow := f.Add(Topic(1))

	assert.Equal(t, 1, f.Relay(model.SeatStatusEvent{ShowtimeID: 1, SeatID: 1}))
	assert.Equal(t, 0, f.Relay(model.SeatStatusEvent{ShowtimeID: 1, SeatID: 2}))
	ev := <-slow.Events()
	assert.EqualValues(t, 1, ev.SeatID)
}

func TestFanout_ConcurrentAddRemoveRelay(t *testing.T) {
	f := NewFanout(8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := f.Add(Topic(1))
			f.Remove(sub)
		}()
		go func() {
			defer wg.Done()
			f.Relay(model.SeatStatusEvent{ShowtimeID: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, f.Count(Topic(1)))
}
