package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Relayer subscribes to the seat event channel and feeds the local Fanout.
type Relayer struct {
	rdb     *redis.Client
	channel string
	fanout  *Fanout
	log     logrus.FieldLogger
}

func NewRelayer(rdb *redis.Client, channel string, fanout *Fanout, log logrus.FieldLogger) *Relayer {
	return &Relayer{rdb: rdb, channel: channel, fanout: fanout, log: log.WithField("component", "relayer")}
}

// Run blocks until ctx is cancelled or the subscription breaks.  Messages
// that do not decode are skipped.
func (r *Relayer) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = ps.Close() }()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.WithField("channel", r.channel).Info("relaying seat events")
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.SeatStatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.WithError(err).Debug("skip malformed seat event")
				continue
			}
			r.fanout.Relay(ev)
		}
	}
}
