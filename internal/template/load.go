package template

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/form-filler/internal/common"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
)

// document mirrors both accepted shapes: flat "fields" and nested "forms[0]".
type document struct {
	Name     string            `json:"name"`
	Fields   []json.RawMessage `json:"fields"`
	Metadata Metadata          `json:"metadata"`
	Forms    []struct {
		Name     string            `json:"name"`
		Fields   []json.RawMessage `json:"fields"`
		Metadata Metadata          `json:"metadata"`
	} `json:"forms"`
}

// Parse validates and decodes a template document. file is used for naming only.
func Parse(data []byte, file string) (*Template, error) {
	if err := common.ValidateJSONAgainstSchema(documentSchema(), data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, file, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, file, err)
	}

	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	t := &Template{Name: doc.Name, File: filepath.Base(file), Metadata: doc.Metadata}
	rawFields := doc.Fields
	if rawFields == nil && len(doc.Forms) > 0 {
		form := doc.Forms[0]
		rawFields = form.Fields
		t.Metadata = form.Metadata
		if form.Name != "" {
			t.Name = form.Name
		}
	}
	if t.Name == "" {
		t.Name = stem
	}

	seen := make(map[string]struct{}, len(rawFields))
	for i, raw := range rawFields {
		if isNull(raw) {
			continue
		}
		var f Field
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: field %d: %v", ErrInvalidTemplate, file, i, err)
		}
		if f.ID == "" {
			continue
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate field id %q", ErrInvalidTemplate, file, f.ID)
		}
		seen[f.ID] = struct{}{}
		t.Fields = append(t.Fields, f)
	}

	h, err := canonicalHash(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, file, err)
	}
	t.hash = h
	return t, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// canonicalHash hashes the document re-marshalled with sorted keys.
func canonicalHash(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Store resolves templates and their assets under a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With("component", "templates")}
}

func (s *Store) Dir() string { return s.dir }

// List returns the sorted template filenames (*.json) in the store directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("templates.dir_missing", "dir", s.dir)
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ResolveAsset maps a template-relative name to a path. Absolute paths pass through.
func (s *Store) ResolveAsset(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Load reads and parses a template by filename. The ".json" suffix is optional.
func (s *Store) Load(name string) (*Template, error) {
	path := s.ResolveAsset(name)
	if filepath.Ext(path) == "" {
		path += ".json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q at %s", ErrTemplateNotFound, name, path)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	t, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("templates.loaded", "name", t.Name, "file", t.File, "fields", len(t.Fields), "hash", t.Hash())
	return t, nil
}

// ImagePath returns the background image declared by t, if it exists on disk.
func (s *Store) ImagePath(t *Template) (string, bool) {
	if t.Metadata.ImageFilename == "" {
		return "", false
	}
	p := s.ResolveAsset(t.Metadata.ImageFilename)
	if st, err := os.Stat(p); err != nil || st.IsDir() {
		s.logger.Warn("templates.image_missing", "template", t.Name, "path", p)
		return "", false
	}
	return p, true
}
