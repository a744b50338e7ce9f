package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
)

const keyPrefix = "acp:idempotency:"

// Store keeps reservations in redis so every instance sees the same markers.
type Store struct {
	client        *redis.Client
	processingTTL time.Duration
	resultTTL     time.Duration
}

func New(client *redis.Client, processingTTL, resultTTL time.Duration) *Store {
	if processingTTL <= 0 {
		processingTTL = idempotency.DefaultProcessingTTL
	}
	if resultTTL <= 0 {
		resultTTL = idempotency.DefaultResultTTL
	}
	return &Store{client: client, processingTTL: processingTTL, resultTTL: resultTTL}
}

func (s *Store) CheckAndReserve(ctx context.Context, key string) error {
	key, err := idempotency.NormalizeKey(key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(idempotency.Record{State: idempotency.StateProcessing})
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, payload, s.processingTTL).Result()
	if err != nil {
		return fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !ok {
		return idempotency.ErrDuplicateRequest
	}
	return nil
}

func (s *Store) StoreResult(ctx context.Context, key string, result idempotency.Record) error {
	key, err := idempotency.NormalizeKey(key)
	if err != nil {
		return err
	}
	result.State = idempotency.StateCompleted
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+key, payload, s.resultTTL).Err()
}

func (s *Store) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

func (s *Store) Lookup(ctx context.Context, key string) (*idempotency.Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec idempotency.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
