// Package cache stores extraction results keyed by the content of the
// input images and the template they were read against.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
)

const DefaultTTL = 24 * time.Hour

// Entry is the persisted form of a cached extraction.
type Entry struct {
	CachedAt     time.Time         `json:"cached_at"`
	Extraction   entity.Extraction `json:"extraction"`
	ImageHashes  []string          `json:"image_hashes"`
	TemplateHash string            `json:"template_hash"`
	Engine       constants.Engine  `json:"engine"`
}

// Key identifies a set of images read against one template version.
// Image order does not matter.
type Key struct {
	ImageHashes  []string
	TemplateHash string
}

// Digest is sha256 hex of the sorted image hashes followed by the template hash.
func (k Key) Digest() string {
	hashes := slices.Clone(k.ImageHashes)
	slices.Sort(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, "") + k.TemplateHash))
	return hex.EncodeToString(sum[:])
}

// NewKey hashes every image and pairs them with templateHash.
func NewKey(images [][]byte, templateHash string) Key {
	hashes := make([]string, len(images))
	for i, img := range images {
		hashes[i] = ImageHash(img)
	}
	return Key{ImageHashes: hashes, TemplateHash: templateHash}
}

// ImageHash is the first 16 hex chars of sha256(data).
func ImageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Store is a best-effort extraction cache. Get never fails: unreadable or
// expired entries are removed and reported as a miss.
type Store interface {
	// Get returns the entry for key when it is fresh and was produced by engine.
	Get(ctx context.Context, key Key, engine constants.Engine) (entity.Extraction, bool)
	Set(ctx context.Context, key Key, ext entity.Extraction, engine constants.Engine) error
	// Clear removes every entry and returns how many were deleted.
	Clear(ctx context.Context) (int, error)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg common.CacheConfig, logger *slog.Logger) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Backend {
	case "", common.CacheBackendFile:
		return NewFileStore(cfg.Dir, ttl, logger), nil
	case common.CacheBackendRedis:
		rs, err := NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      ttl,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown cache backend %q", cfg.Backend), common.ErrConfig)
}

// Option tunes a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func shortKey(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}
