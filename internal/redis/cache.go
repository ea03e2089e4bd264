package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// SlotCache keeps each doctor's availability as one JSON value next to a
// generation counter. Writers bump the counter and delete the value; readers
// repopulate it on the next miss, but only if the counter has not moved since
// they started loading.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ appointment.SlotCache = (*SlotCache)(nil)

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

var errStaleGeneration = errors.New("slot cache generation moved")

func slotsKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("slots:doctor:%s", doctorID.String())
}

func generationKey(doctorID uuid.UUID) string {
	return slotsKey(doctorID) + ":gen"
}

func (c *SlotCache) Get(ctx context.Context, doctorID uuid.UUID) ([]appointment.AvailabilityEntry, bool, error) {
	raw, err := c.client.Get(ctx, slotsKey(doctorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached slots: %w", err)
	}

	var entries []appointment.AvailabilityEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return entries, true, nil
}

// Generation returns the doctor's invalidation counter, 0 if never invalidated.
func (c *SlotCache) Generation(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(doctorID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get slot cache generation: %w", err)
	}
	return gen, nil
}

// Set stores entries unless the generation differs from generation, either
// before the write or by the time it executes. A dropped write is not an error.
func (c *SlotCache) Set(ctx context.Context, doctorID uuid.UUID, generation int64, entries []appointment.AvailabilityEntry) error {
	if entries == nil {
		entries = []appointment.AvailabilityEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	genKey := generationKey(doctorID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, slotsKey(doctorID), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("set cached slots: %w", err)
	}
}

func (c *SlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(doctorID))
		pipe.Del(ctx, slotsKey(doctorID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	return nil
}
