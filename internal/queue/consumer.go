package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer reads booking confirmations and appends one line per ticket to
// a sink (logs/booking.log in production).
type Consumer struct {
	url     string
	queue   string
	sink    io.Writer
	log     logrus.FieldLogger
	backOff backoff.BackOff
}

func NewConsumer(url, queue string, sink io.Writer, log logrus.FieldLogger) *Consumer {
	return &Consumer{
		url:     url,
		queue:   queue,
		sink:    sink,
		log:     log.WithField("component", "rabbitmq-consumer"),
		backOff: reconnectBackOff(),
	}
}

// reconnectBackOff waits about 1s after the first failed dial, doubling up
// to 30s.
func reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	return b
}

// Run connects, consumes and reconnects with exponential backoff until ctx
// is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.backOff.Reset()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			wait := c.backOff.NextBackOff()
			c.log.WithError(err).Warnf("dial failed; retrying in %s", wait)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		c.backOff.Reset()

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.log.WithError(err).Warn("handle message failed")
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message and writes its ticket line.
func (c *Consumer) Handle(body []byte) error {
	var ev BookingConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingID == "" {
		return errors.New("event without booking id")
	}
	seats := make([]string, 0, len(ev.SeatIDs))
	for _, s := range ev.SeatIDs {
		seats = append(seats, fmt.Sprint(s))
	}
	user := "counter"
	if ev.UserID != nil {
		user = fmt.Sprint(*ev.UserID)
	}
	line := fmt.Sprintf("[%s] Booking paid | booking_id=%s | user=%s | showtime_id=%d | cinema_id=%d | seats=[%s] | items=%d | total=%d | method=%s\n",
		ev.ConfirmedAt, ev.BookingID, user, ev.ShowtimeID, ev.CinemaID, strings.Join(seats, ","), ev.ItemCount, ev.TotalPrice, ev.PaymentMethod)
	if _, err := io.WriteString(c.sink, line); err != nil {
		return fmt.Errorf("write ticket line: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
