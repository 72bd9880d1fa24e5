package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bngesp/MultiCoder/internal/domain"
)

const (
	snapshotTTL = 24 * time.Hour
	resultTTL   = time.Hour
)

func statusKey(requestID string) string { return "request:status:" + requestID }
func metaKey(requestID string) string   { return "request:meta:" + requestID }
func resultKey(requestID string) string { return "request:result:" + requestID }

// SnapshotStore mirrors request state to Redis so external readers (REST
// status polls, the CLI) get cheap reads without touching the ledger.
// The ledger stays authoritative; every write here is best-effort.
type SnapshotStore interface {
	SetStatus(ctx context.Context, requestID string, status domain.RequestStatus) error
	GetStatus(ctx context.Context, requestID string) (domain.RequestStatus, error)
	SetRequestMeta(ctx context.Context, req *domain.Request) error
	GetRequestMeta(ctx context.Context, requestID string) (*domain.Request, error)
	SetResult(ctx context.Context, requestID string, result []byte, ttl time.Duration) error
	GetResult(ctx context.Context, requestID string) ([]byte, error)
}

type snapshotStore struct {
	client *redis.Client
}

// NewSnapshotStore creates a Redis-backed SnapshotStore.
func NewSnapshotStore(client *redis.Client) SnapshotStore {
	return &snapshotStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *snapshotStore) SetStatus(ctx context.Context, requestID string, status domain.RequestStatus) error {
	err := s.client.Set(ctx, statusKey(requestID), string(status), snapshotTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set status for %s: %w", requestID, err)
	}
	return nil
}

func (s *snapshotStore) GetStatus(ctx context.Context, requestID string) (domain.RequestStatus, error) {
	val, err := s.client.Get(ctx, statusKey(requestID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", &domain.RequestNotFoundError{RequestID: requestID}
		}
		return "", fmt.Errorf("redis get status for %s: %w", requestID, err)
	}
	return domain.RequestStatus(val), nil
}

func (s *snapshotStore) SetRequestMeta(ctx context.Context, req *domain.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request meta: %w", err)
	}
	err = s.client.Set(ctx, metaKey(req.ID), data, snapshotTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set meta for %s: %w", req.ID, err)
	}
	return nil
}

func (s *snapshotStore) GetRequestMeta(ctx context.Context, requestID string) (*domain.Request, error) {
	data, err := s.client.Get(ctx, metaKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.RequestNotFoundError{RequestID: requestID}
		}
		return nil, fmt.Errorf("redis get meta for %s: %w", requestID, err)
	}
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request meta: %w", err)
	}
	return &req, nil
}

func (s *snapshotStore) SetResult(ctx context.Context, requestID string, result []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = resultTTL
	}
	err := s.client.Set(ctx, resultKey(requestID), result, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set result for %s: %w", requestID, err)
	}
	return nil
}

func (s *snapshotStore) GetResult(ctx context.Context, requestID string) ([]byte, error) {
	data, err := s.client.Get(ctx, resultKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.RequestNotFoundError{RequestID: requestID}
		}
		return nil, fmt.Errorf("redis get result for %s: %w", requestID, err)
	}
	return data, nil
}
