// Package rate limits request bursts against the unauthenticated flow endpoints.
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter is a fixed window counter (INCR + EXPIRE) shared by every server instance.
type RedisLimiter struct {
	client  *rdb.Client
	prefix  string
	max     int64
	window  time.Duration
	nowFunc func() time.Time
}

type Option func(*RedisLimiter)

func WithPrefix(prefix string) Option {
	return func(l *RedisLimiter) {
		l.prefix = prefix
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(l *RedisLimiter) {
		l.nowFunc = now
	}
}

func NewRedisLimiter(client *rdb.Client, max int, window time.Duration, options ...Option) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("[NewRedisLimiter] redis client is required")
	}
	if max <= 0 || window <= 0 {
		return nil, errors.New("[NewRedisLimiter] max and window must be positive")
	}
	l := &RedisLimiter{
		client:  client,
		prefix:  "skills:rl:",
		max:     int64(max),
		window:  window,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*rdb.Client, error) {
	opts, err := rdb.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "rate.NewRedisClient")
	}
	return rdb.NewClient(opts), nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	winStart := l.nowFunc().UTC().Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, errors.Wrap(err, "RedisLimiter.Allow")
	}

	// first hit in the window sets the expiry
	if incr.Val() == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Result{}, errors.Wrap(err, "RedisLimiter.Allow Expire")
		}
		ttl = l.client.TTL(ctx, redisKey)
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max(l.max-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(l.window.Seconds())) * time.Second
		}
	}
	return res, nil
}
