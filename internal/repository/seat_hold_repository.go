package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHoldNotFound is returned when no live hold exists for a seat.
var ErrHoldNotFound = errors.New("seat hold not found")

// scanBatch is the COUNT hint passed to SCAN when listing holds.
const scanBatch = 200

// releaseScript deletes a hold only when it still carries the value the
// caller read earlier.  A hold that expired and was taken by someone else
// in the meantime is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// SeatHoldRecord is the JSON value stored under a hold key.  raw keeps the
// exact stored bytes so that releases can compare-and-delete.
type SeatHoldRecord struct {
	UserID     uint64 `json:"userId"`
	ShowtimeID uint64 `json:"showtimeId"`
	SeatID     uint64 `json:"seatId"`
	ExtraPrice int64  `json:"extraPrice"`

	raw string
}

// HoldEntry is a live hold together with the time Redis will evict it.
type HoldEntry struct {
	SeatHoldRecord
	ExpiresAt time.Time
}

// SeatHoldRepo stores seat holds in Redis under hold:{showtimeId}:{seatId}.
// Redis enforces the TTL, so nothing here sweeps expired holds.
type SeatHoldRepo struct {
	rdb redis.Cmdable
}

// NewSeatHoldRepo returns a SeatHoldRepo bound to the given client.
func NewSeatHoldRepo(rdb redis.Cmdable) *SeatHoldRepo { return &SeatHoldRepo{rdb: rdb} }

// HoldKey builds the Redis key for a seat of a showtime.
func HoldKey(showtimeID, seatID uint64) string {
	return fmt.Sprintf("hold:%d:%d", showtimeID, seatID)
}

func holdPattern(showtimeID uint64) string {
	return fmt.Sprintf("hold:%d:*", showtimeID)
}

// Acquire stores rec with SET NX EX in a single round trip.  It returns
// false, nil when another hold already exists for the seat.
func (r *SeatHoldRepo) Acquire(ctx context.Context, rec SeatHoldRecord, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return r.rdb.SetNX(ctx, HoldKey(rec.ShowtimeID, rec.SeatID), string(b), ttl).Result()
}

// Get loads the hold for a seat.  It returns ErrHoldNotFound when the key
// is absent or already expired.
func (r *SeatHoldRepo) Get(ctx context.Context, showtimeID, seatID uint64) (SeatHoldRecord, error) {
	raw, err := r.rdb.Get(ctx, HoldKey(showtimeID, seatID)).Result()
	if errors.Is(err, redis.Nil) {
		return SeatHoldRecord{}, ErrHoldNotFound
	}
	if err != nil {
		return SeatHoldRecord{}, err
	}
	return decodeHold(raw)
}

// ReleaseIfUnchanged deletes each hold whose stored value still equals the
// one in rec and returns how many keys were removed.  Records that were not
// read through this repository are deleted unconditionally.
func (r *SeatHoldRepo) ReleaseIfUnchanged(ctx context.Context, recs ...SeatHoldRecord) (int, error) {
	removed := 0
	for _, rec := range recs {
		key := HoldKey(rec.ShowtimeID, rec.SeatID)
		if rec.raw == "" {
			n, err := r.rdb.Del(ctx, key).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
			continue
		}
		n, err := releaseScript.Run(ctx, r.rdb, []string{key}, rec.raw).Int()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// ListByShowtime enumerates the live holds of a showtime with SCAN and
// then fetches their values and remaining TTLs in one pipeline.  Keys that
// expire between the scan and the fetch are skipped.
func (r *SeatHoldRepo) ListByShowtime(ctx context.Context, showtimeID uint64) ([]HoldEntry, error) {
	seen := make(map[string]struct{})
	var keys []string
	iter := r.rdb.Scan(ctx, 0, holdPattern(showtimeID), scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []HoldEntry{}, nil
	}

	pipe := r.rdb.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]HoldEntry, 0, len(keys))
	for i := range keys {
		raw, err := gets[i].Result()
		if err != nil {
			continue
		}
		rec, err := decodeHold(raw)
		if err != nil {
			continue
		}
		ttl := ttls[i].Val()
		if ttl <= 0 {
			continue
		}
		out = append(out, HoldEntry{SeatHoldRecord: rec, ExpiresAt: now.Add(ttl)})
	}
	return out, nil
}

func decodeHold(raw string) (SeatHoldRecord, error) {
	var rec SeatHoldRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SeatHoldRecord{}, fmt.Errorf("decode seat hold: %w", err)
	}
	rec.raw = raw
	return rec, nil
}
