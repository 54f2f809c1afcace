package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey = "linkreach:connections"
	maxTxAttempts   = 3
)

// RedisWindow keeps the sliding window in a Redis sorted set so several
// server processes share one connection budget. Members are scored by their
// timestamp in microseconds.
type RedisWindow struct {
	rdb    *redis.Client
	key    string
	limit  int
	period time.Duration
	clock  Clock
}

// RedisOption configures a RedisWindow.
type RedisOption func(*RedisWindow)

// WithRedisKey overrides the sorted set key.
func WithRedisKey(key string) RedisOption {
	return func(w *RedisWindow) { w.key = key }
}

// WithRedisClock sets the clock used for event timestamps.
func WithRedisClock(c Clock) RedisOption {
	return func(w *RedisWindow) { w.clock = c }
}

// NewRedisWindow creates a Redis-backed window.
func NewRedisWindow(rdb *redis.Client, limit int, period time.Duration, opts ...RedisOption) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	w := &RedisWindow{
		rdb:    rdb,
		key:    defaultRedisKey,
		limit:  limit,
		period: period,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Limit returns the maximum number of events per period.
func (w *RedisWindow) Limit() int { return w.limit }

// Allow implements Window. Expired members are pruned first, outside the
// transaction; the count and the insert then run under WATCH so concurrent
// writers cannot overshoot the limit.
func (w *RedisWindow) Allow(ctx context.Context) (Decision, error) {
	if err := w.rdb.ZRemRangeByScore(ctx, w.key, "-inf", w.cutoff(w.clock.Now())).Err(); err != nil {
		return Decision{}, fmt.Errorf("redis window: pruning: %w", err)
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var dec Decision
		err := w.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now := w.clock.Now()
			count, err := tx.ZCount(ctx, w.key, "("+w.cutoff(now), "+inf").Result()
			if err != nil {
				return err
			}

			if int(count) >= w.limit {
				dec = Decision{Allowed: false, RetryAfter: w.retryAfter(ctx, tx, now)}
				return nil
			}

			member := strconv.FormatInt(now.UnixMicro(), 10) + "-" + uuid.NewString()
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
				pipe.Expire(ctx, w.key, w.period)
				return nil
			})
			if err != nil {
				return err
			}
			dec = Decision{Allowed: true, Remaining: w.limit - int(count) - 1, slot: member}
			return nil
		}, w.key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("redis window: %w", err)
		}
		return dec, nil
	}
	return Decision{}, fmt.Errorf("redis window: %w after %d attempts", redis.TxFailedErr, maxTxAttempts)
}

// Release implements Window.
func (w *RedisWindow) Release(ctx context.Context, d Decision) error {
	if !d.Allowed || d.slot == "" {
		return nil
	}
	if err := w.rdb.ZRem(ctx, w.key, d.slot).Err(); err != nil {
		return fmt.Errorf("redis window: releasing slot: %w", err)
	}
	return nil
}

// Remaining implements Window.
func (w *RedisWindow) Remaining(ctx context.Context) (int, error) {
	now := w.clock.Now()
	count, err := w.rdb.ZCount(ctx, w.key, "("+w.cutoff(now), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis window: %w", err)
	}
	return max(w.limit-int(count), 0), nil
}

func (w *RedisWindow) cutoff(now time.Time) string {
	return strconv.FormatInt(now.Add(-w.period).UnixMicro(), 10)
}

func (w *RedisWindow) retryAfter(ctx context.Context, tx *redis.Tx, now time.Time) time.Duration {
	oldest, err := tx.ZRangeByScoreWithScores(ctx, w.key, &redis.ZRangeBy{
		Min:   "(" + w.cutoff(now),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil || len(oldest) == 0 {
		return w.period
	}
	at := time.UnixMicro(int64(oldest[0].Score))
	return at.Add(w.period).Sub(now)
}
