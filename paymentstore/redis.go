package paymentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists payment records in Redis so multiple service instances
// share the same audit trail. Status advances run inside a WATCH transaction
// on the record key, giving the same check-then-move guarantee MemoryStore
// gets from its mutex.
type RedisStore struct {
	client *redis.Client
	keys   keyBuilder
}

var _ Store = (*RedisStore)(nil)

// keyBuilder generates namespaced Redis keys.
type keyBuilder struct {
	prefix string
}

func (kb keyBuilder) record(id string) string {
	return fmt.Sprintf("%s:payment:%s", kb.prefix, id)
}

func (kb keyBuilder) requestIndex(requestID uint64) string {
	return fmt.Sprintf("%s:request:%d:payments", kb.prefix, requestID)
}

// NewRedisStore creates a store namespaced under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "oracle402"
	}
	return &RedisStore{client: client, keys: keyBuilder{prefix: prefix}}
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("paymentstore: marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keys.record(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("paymentstore: save record: %w", err)
	}
	if !ok {
		return fmt.Errorf("paymentstore: duplicate record id %s", rec.ID)
	}

	if err := s.client.RPush(ctx, s.keys.requestIndex(rec.RequestID), rec.ID).Err(); err != nil {
		return fmt.Errorf("paymentstore: index record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.keys.record(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("paymentstore: get record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("paymentstore: decode record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) ListByRequest(ctx context.Context, requestID uint64) ([]Record, error) {
	ids, err := s.client.LRange(ctx, s.keys.requestIndex(requestID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paymentstore: list request payments: %w", err)
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Advance(ctx context.Context, id string, target Status, ledgerTxRef string) (Record, error) {
	key := s.keys.record(id)
	var updated Record

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("paymentstore: get record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("paymentstore: decode record: %w", err)
		}
		if !rec.Status.next(target) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, rec.Status, target)
		}

		rec.Status = target
		if ledgerTxRef != "" {
			rec.LedgerTxRef = ledgerTxRef
		}
		rec.UpdatedAt = time.Now().UTC()

		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("paymentstore: marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}

	// Concurrent advancers on the same key abort the transaction; retry a
	// few times before giving up.
	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return updated, nil
	}
	return Record{}, fmt.Errorf("paymentstore: advance %s contended, giving up", id)
}
