package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const expiryKeyPrefix = "bidfunds:expiring:"

// RedisDeduper marks a reservation as announced with SET NX, so that several
// service instances running the same sweep announce it once.
type RedisDeduper struct {
	rdb redis.Cmdable
}

func NewRedisDeduper(rdb redis.Cmdable) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) FirstNotice(ctx context.Context, reservationID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, expiryKeyPrefix+reservationID.String(), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark reservation %s: %w", reservationID, err)
	}
	return ok, nil
}

// Forget drops the marker so the reservation can be announced again.
func (d *RedisDeduper) Forget(ctx context.Context, reservationID uuid.UUID) error {
	if err := d.rdb.Del(ctx, expiryKeyPrefix+reservationID.String()).Err(); err != nil {
		return fmt.Errorf("clear reservation %s: %w", reservationID, err)
	}
	return nil
}

// MemoryDeduper is the single-instance variant used without redis.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{seen: make(map[uuid.UUID]time.Time), now: now}
}

func (d *MemoryDeduper) FirstNotice(ctx context.Context, reservationID uuid.UUID, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, until := range d.seen {
		if !until.After(now) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[reservationID]; ok {
		return false, nil
	}
	d.seen[reservationID] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, reservationID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, reservationID)
	return nil
}
