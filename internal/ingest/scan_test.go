package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func TestScanDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"alice.png",
		"bob.JPG",
		"notes.txt",
		".hidden.png",
		"carol/2_back.png",
		"carol/1_front.jpeg",
		"carol/scans/3_extra.png",
		".trash/old.png",
	)

	docs, stats, err := ScanDirectory(root, ScanOptions{})
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Equal(t, "alice", docs[0].Name)
	assert.Equal(t, []string{filepath.Join(root, "alice.png")}, docs[0].Images)
	assert.Equal(t, "bob", docs[1].Name)
	assert.Equal(t, "carol", docs[2].Name)
	assert.Equal(t, []string{
		filepath.Join(root, "carol", "1_front.jpeg"),
		filepath.Join(root, "carol", "2_back.png"),
		filepath.Join(root, "carol", "scans", "3_extra.png"),
	}, docs[2].Images)

	assert.EqualValues(t, 5, stats.Matched)
	assert.EqualValues(t, 3, stats.Documents)
	assert.Zero(t, stats.Failed)
}

func TestScanDirectory_IncludeHidden(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.png", ".b.png")

	docs, _, err := ScanDirectory(root, ScanOptions{IncludeHidden: true})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, ".b", docs[0].Name)
}

func TestScanDirectory_Errors(t *testing.T) {
	_, _, err := ScanDirectory("  ", ScanOptions{})
	assert.Error(t, err)

	_, _, err = ScanDirectory(filepath.Join(t.TempDir(), "missing"), ScanOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScanDirectory_SharedStemsStaySeparate(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.png", "a.jpg", "a/p1.png", "b.png", "c.png", "c/p1.png")

	docs, stats, err := ScanDirectory(root, ScanOptions{})
	require.NoError(t, err)

	got := map[string][]string{}
	for _, d := range docs {
		got[d.Name] = d.Images
	}
	assert.Equal(t, map[string][]string{
		"a":     {filepath.Join(root, "a", "p1.png")},
		"a.jpg": {filepath.Join(root, "a.jpg")},
		"a.png": {filepath.Join(root, "a.png")},
		"b":     {filepath.Join(root, "b.png")},
		"c":     {filepath.Join(root, "c", "p1.png")},
		"c.png": {filepath.Join(root, "c.png")},
	}, got)
	assert.EqualValues(t, 6, stats.Documents)
}
