package memory

import (
	"context"
	"time"

	"github.com/smallbiznis/acpgateway/internal/cache"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
)

// Store keeps reservations in process memory. Suitable for single-instance
// deployments only.
type Store struct {
	items         *cache.TTLCache[string, idempotency.Record]
	processingTTL time.Duration
	resultTTL     time.Duration
}

func New(processingTTL, resultTTL time.Duration, now func() time.Time) *Store {
	if processingTTL <= 0 {
		processingTTL = idempotency.DefaultProcessingTTL
	}
	if resultTTL <= 0 {
		resultTTL = idempotency.DefaultResultTTL
	}
	return &Store{
		items:         cache.NewTTLCacheWithClock[string, idempotency.Record](now),
		processingTTL: processingTTL,
		resultTTL:     resultTTL,
	}
}

func (s *Store) CheckAndReserve(ctx context.Context, key string) error {
	key, err := idempotency.NormalizeKey(key)
	if err != nil {
		return err
	}
	if !s.items.SetNX(key, idempotency.Record{State: idempotency.StateProcessing}, s.processingTTL) {
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
	s.items.Set(key, result, s.resultTTL)
	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

func (s *Store) Lookup(ctx context.Context, key string) (*idempotency.Record, error) {
	rec, ok := s.items.Get(key)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Sweep drops expired reservations and stored results. Reads already ignore
// expired entries; the scheduler calls this to bound memory.
func (s *Store) Sweep() int {
	return s.items.Sweep()
}

// Len reports how many entries are held, expired or not.
func (s *Store) Len() int {
	return s.items.Len()
}

var _ idempotency.Sweeper = (*Store)(nil)
