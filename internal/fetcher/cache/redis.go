// Package cache memoizes fetched pages in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 15 * time.Minute

const keyPrefix = "page:"

// Config controls the cache.
type Config struct {
	TTL time.Duration
}

// Fetcher wraps another crawler.Fetcher with a Redis read-through cache.
// Only successful responses are stored. Redis trouble degrades to a miss.
type Fetcher struct {
	next   crawler.Fetcher
	client goredis.UniversalClient
	hasher crawler.Hasher
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a caching Fetcher.
func New(next crawler.Fetcher, client goredis.UniversalClient, hasher crawler.Hasher, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if next == nil {
		return nil, errors.New("next fetcher is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, client: client, hasher: hasher, ttl: cfg.TTL, logger: logger}, nil
}

// Fetch serves from Redis when possible and otherwise delegates.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target := request.FullURL()
	key, err := f.key(target)
	if err != nil {
		f.logger.Warn("page cache key failed", zap.String("url", target), zap.Error(err))
		return f.next.Fetch(ctx, request)
	}

	body, err := f.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		metrics.ObserveCacheLookup("hit")
		return crawler.FetchResponse{
			URL:        target,
			StatusCode: 200,
			Body:       body,
			FromCache:  true,
		}, nil
	case errors.Is(err, goredis.Nil):
		metrics.ObserveCacheLookup("miss")
	default:
		metrics.ObserveCacheLookup("error")
		f.logger.Warn("page cache read failed", zap.String("url", target), zap.Error(err))
	}

	resp, err := f.next.Fetch(ctx, request)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(resp.Body) > 0 {
		if err := f.client.Set(ctx, key, resp.Body, f.ttl).Err(); err != nil {
			f.logger.Warn("page cache write failed", zap.String("url", target), zap.Error(err))
		}
	}
	return resp, nil
}

// Invalidate drops the cached copy of a URL, for pages later found unusable.
func (f *Fetcher) Invalidate(ctx context.Context, request crawler.FetchRequest) error {
	key, err := f.key(request.FullURL())
	if err != nil {
		return err
	}
	return f.client.Del(ctx, key).Err()
}

func (f *Fetcher) key(target string) (string, error) {
	key, err := f.hasher.Key(keyPrefix, []byte(target))
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return key, nil
}
