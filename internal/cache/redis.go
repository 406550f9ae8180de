package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
)

const (
	backendRedis = "redis"
	keyPrefix    = "formfill:extraction:"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps entries as JSON strings that expire after the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	opts   options
	logger *slog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s is offline: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.TTL, logger, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger, opts ...Option) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		opts:   buildOptions(opts),
		logger: logger.With("component", "cache", "backend", backendRedis),
	}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Get(ctx context.Context, key Key, engine constants.Engine) (entity.Extraction, bool) {
	digest := key.Digest()
	short := shortKey(digest)

	start := time.Now()
	val, err := s.client.Get(ctx, keyPrefix+digest).Result()
	metrics.CaptureDependencyLatency(backendRedis, time.Since(start))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache.read.failed", "key", short, "error", err)
		}
		metrics.IncCacheLookup(backendRedis, "miss")
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil || e.CachedAt.IsZero() {
		s.logger.Warn("cache.entry.corrupt", "key", short, "error", err)
		s.client.Del(ctx, keyPrefix+digest)
		metrics.IncCacheLookup(backendRedis, "corrupt")
		return nil, false
	}
	// redis expiry normally handles this; the check covers entries written
	// with a longer TTL by another process
	if age := s.opts.now().Sub(e.CachedAt); age > s.ttl {
		s.client.Del(ctx, keyPrefix+digest)
		metrics.IncCacheLookup(backendRedis, "expired")
		return nil, false
	}
	if engine != "" && e.Engine != engine {
		s.logger.Debug("cache.engine_mismatch", "key", short, "cached", e.Engine, "requested", engine)
		metrics.IncCacheLookup(backendRedis, "miss")
		return nil, false
	}

	s.logger.Info("cache.hit", "key", short, "engine", e.Engine)
	metrics.IncCacheLookup(backendRedis, "hit")
	return e.Extraction, true
}

func (s *RedisStore) Set(ctx context.Context, key Key, ext entity.Extraction, engine constants.Engine) error {
	b, err := json.Marshal(Entry{
		CachedAt:     s.opts.now(),
		Extraction:   ext,
		ImageHashes:  key.ImageHashes,
		TemplateHash: key.TemplateHash,
		Engine:       engine,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	digest := key.Digest()
	if err := s.client.Set(ctx, keyPrefix+digest, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	s.logger.Info("cache.stored", "key", shortKey(digest), "engine", engine)
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return n, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return n, fmt.Errorf("redis del: %w", err)
			}
			n += int(deleted)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	s.logger.Info("cache.cleared", "entries", n)
	return n, nil
}
