package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/form-filler/constants"
)

// Document is one form to extract: a single image, or every image under a
// subdirectory taken as pages in name order.
type Document struct {
	Name   string
	Images []string
}

type ScanStats struct {
	Scanned   uint32
	Matched   uint32
	Documents uint32
	Failed    uint32
}

type ScanOptions struct {
	IncludeHidden bool
}

// ScanDirectory walks root. Images directly in root become one document each;
// images below a first-level subdirectory are grouped into that subdirectory's
// document. Document names are unique. Unreadable entries are counted and
// skipped.
func ScanDirectory(root string, opts ScanOptions) ([]Document, ScanStats, error) {
	var stats ScanStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("root path is required")
	}
	root = filepath.Clean(root)

	var rootFiles []string
	groups := map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			stats.Failed++
			return nil
		}
		if path == root {
			return nil
		}
		stats.Scanned++
		if !opts.IncludeHidden && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.IsImageExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		rel, err := filepath.Rel(root, path)
		if err != nil {
			stats.Failed++
			return nil
		}
		parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
		if len(parts) == 1 {
			rootFiles = append(rootFiles, path)
			return nil
		}
		groups[parts[0]] = append(groups[parts[0]], path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}

	docs := make([]Document, 0, len(groups)+len(rootFiles))
	for name, imgs := range groups {
		sort.Strings(imgs)
		docs = append(docs, Document{Name: name, Images: imgs})
	}
	// a root image is named by its stem unless another root image or a
	// subdirectory shares it; then the full file name is used
	stems := map[string]int{}
	for _, p := range rootFiles {
		stems[stem(p)]++
	}
	for _, p := range rootFiles {
		name := stem(p)
		if _, isDir := groups[name]; isDir || stems[name] > 1 {
			name = filepath.Base(p)
		}
		docs = append(docs, Document{Name: name, Images: []string{p}})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	stats.Documents = uint32(len(docs))
	return docs, stats, nil
}

func stem(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
