// Package broadcast propagates seat status changes to viewers.  Events are
// published on a single Redis channel; every server instance relays them
// into a local per-showtime registry that streaming viewers subscribe to.
// Delivery is best effort: a viewer that misses an event re-reads the held
// and booked seat lists.
package broadcast

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Mirror receives a copy of every published event, keyed by showtime.
type Mirror interface {
	Mirror(ctx context.Context, key string, payload []byte) error
}

// Broadcaster publishes SeatStatusEvents.  Publish never fails from the
// caller's point of view; errors are logged and dropped.
type Broadcaster struct {
	rdb     redis.Cmdable
	channel string
	mirrors []Mirror
	log     logrus.FieldLogger
}

// New returns a Broadcaster publishing on channel.
func New(rdb redis.Cmdable, channel string, log logrus.FieldLogger, mirrors ...Mirror) *Broadcaster {
	return &Broadcaster{rdb: rdb, channel: channel, mirrors: mirrors, log: log.WithField("component", "broadcaster")}
}

// Publish sends one event.  expiresAt is only meaningful for held seats.
func (b *Broadcaster) Publish(ctx context.Context, showtimeID, seatID uint64, status model.SeatStatus, expiresAt *time.Time) {
	ev := model.SeatStatusEvent{ShowtimeID: showtimeID, SeatID: seatID, Status: status, ExpiresAt: expiresAt}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.WithError(err).Warn("marshal seat event")
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"showtime_id": showtimeID,
			"seat_id":     seatID,
			"status":      status,
		}).Warn("publish seat event")
	}
	key := strconv.FormatUint(showtimeID, 10)
	for _, m := range b.mirrors {
		if err := m.Mirror(ctx, key, payload); err != nil {
			b.log.WithError(err).Debug("mirror seat event")
		}
	}
}

// PublishAll sends the same status for several seats of a showtime.
func (b *Broadcaster) PublishAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, status model.SeatStatus) {
	for _, id := range seatIDs {
		b.Publish(ctx, showtimeID, id, status, nil)
	}
}
