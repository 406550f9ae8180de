package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
)

const backendFile = "file"

// FileStore keeps one JSON file per key under dir. Writes go through a temp
// file and rename so readers never see a partial entry; the last write wins.
type FileStore struct {
	dir    string
	ttl    time.Duration
	opts   options
	logger *slog.Logger
}

func NewFileStore(dir string, ttl time.Duration, logger *slog.Logger, opts ...Option) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileStore{
		dir:    dir,
		ttl:    ttl,
		opts:   buildOptions(opts),
		logger: logger.With("component", "cache", "backend", backendFile),
	}
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, key.Digest()+".json")
}

func (s *FileStore) Get(_ context.Context, key Key, engine constants.Engine) (entity.Extraction, bool) {
	p := s.path(key)
	short := shortKey(key.Digest())

	b, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cache.read.failed", "key", short, "error", err)
		}
		metrics.IncCacheLookup(backendFile, "miss")
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil || e.CachedAt.IsZero() {
		s.logger.Warn("cache.entry.corrupt", "key", short, "error", err)
		s.remove(p)
		metrics.IncCacheLookup(backendFile, "corrupt")
		return nil, false
	}
	if age := s.opts.now().Sub(e.CachedAt); age > s.ttl {
		s.logger.Debug("cache.expired", "key", short, "age", age.String())
		s.remove(p)
		metrics.IncCacheLookup(backendFile, "expired")
		return nil, false
	}
	if engine != "" && e.Engine != engine {
		s.logger.Debug("cache.engine_mismatch", "key", short, "cached", e.Engine, "requested", engine)
		metrics.IncCacheLookup(backendFile, "miss")
		return nil, false
	}

	s.logger.Info("cache.hit", "key", short, "engine", e.Engine)
	metrics.IncCacheLookup(backendFile, "hit")
	return e.Extraction, true
}

func (s *FileStore) Set(_ context.Context, key Key, ext entity.Extraction, engine constants.Engine) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	b, err := json.MarshalIndent(Entry{
		CachedAt:     s.opts.now(),
		Extraction:   ext,
		ImageHashes:  key.ImageHashes,
		TemplateHash: key.TemplateHash,
		Engine:       engine,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}

	s.logger.Info("cache.stored", "key", shortKey(key.Digest()), "engine", engine)
	return nil
}

func (s *FileStore) Clear(_ context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.logger.Warn("cache.clear.failed", "path", m, "error", err)
			continue
		}
		n++
	}
	s.logger.Info("cache.cleared", "entries", n)
	return n, nil
}

func (s *FileStore) remove(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("cache.remove.failed", "path", p, "error", err)
	}
}
