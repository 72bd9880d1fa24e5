package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	leaderKey = "coordinator:leader"
	leaderTTL = 30 * time.Second
)

// LeaderLock elects a single active coordinator via Redis SETNX. The task
// ledger lives in coordinator memory, so two coordinators consuming the
// reply topic at once would each see half the events.
type LeaderLock struct {
	client     *redis.Client
	instanceID string
	logger     *slog.Logger
}

// NewLeaderLock creates a lock bound to this coordinator instance.
func NewLeaderLock(client *redis.Client, instanceID string, logger *slog.Logger) *LeaderLock {
	return &LeaderLock{client: client, instanceID: instanceID, logger: logger}
}

// AcquireOrRenew attempts SETNX; returns true if this instance holds the
// leadership after the call.
func (l *LeaderLock) AcquireOrRenew(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, leaderKey, l.instanceID, leaderTTL).Result()
	if err != nil {
		l.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		l.logger.Info("acquired coordinator leadership", slog.String("instance_id", l.instanceID))
		return true
	}

	// Already set — renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, l.client,
		[]string{leaderKey},
		l.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Release drops the lock if this instance owns it. Called on shutdown so a
// standby takes over without waiting out the TTL.
func (l *LeaderLock) Release(ctx context.Context) {
	releaseScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := releaseScript.Run(ctx, l.client, []string{leaderKey}, l.instanceID).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		l.logger.Error("leader release", slog.String("error", err.Error()))
	}
}
