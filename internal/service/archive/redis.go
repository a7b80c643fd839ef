package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
)

const (
	// Redis key prefix for archived calls
	callKeyPrefix = "call:"
	// Default TTL for archived call keys (7 days)
	defaultTTL = 7 * 24 * time.Hour
)

// ErrNotArchived is returned when no record exists for the session.
var ErrNotArchived = errors.New("archive: call not found")

// Record is the durable snapshot of a finished call.
type Record struct {
	State   call.State    `json:"state"`
	Meta    call.Metadata `json:"meta"`
	Summary call.Summary  `json:"summary"`
	Metrics call.Metrics  `json:"metrics"`
	EndedAt time.Time     `json:"ended_at"`
}

// Archiver persists finished calls to Redis so their summaries and
// metrics stay queryable after the session leaves memory. A nil
// Archiver is valid and archives nothing.
type Archiver struct {
	client *redis.Client
	ttl    time.Duration
}

// NewArchiver creates a Redis-backed call archive.
func NewArchiver(client *redis.Client, ttl time.Duration) *Archiver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Archiver{client: client, ttl: ttl}
}

// StoreCall writes the record under its session key with the archive TTL.
func (a *Archiver) StoreCall(ctx context.Context, rec Record) error {
	if a == nil || a.client == nil {
		return nil
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.client.Set(ctx, a.key(rec.State.ID), val, a.ttl).Err()
}

// LoadCall reads an archived record back. Refreshes TTL on read so
// recently consulted calls stick around.
func (a *Archiver) LoadCall(ctx context.Context, id string) (Record, error) {
	if a == nil || a.client == nil {
		return Record{}, ErrNotArchived
	}
	key := a.key(id)
	val, err := a.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return Record{}, ErrNotArchived
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, err
	}
	if err := a.client.Expire(ctx, key, a.ttl).Err(); err != nil {
		log.Printf("[archive] ttl refresh failed key=%s: %v", key, err)
	}
	return rec, nil
}

// Close releases the underlying client.
func (a *Archiver) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Archiver) key(id string) string {
	return callKeyPrefix + id
}
