package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/linkback/internal/manifest"
)

func TestLoadReference_Scan(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ref")
	createTestTree(t, root)

	ri, err := LoadReference(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, RefSourceScan, ri.Source())
	assert.Equal(t, root, ri.Root())
	assert.Equal(t, 7, ri.Len())

	e, ok := ri.Lookup(filepath.Join("sub", "mid.txt"))
	require.True(t, ok)
	assert.Equal(t, Regular, e.Type)
	assert.Equal(t, int64(19), e.Size)
	assert.True(t, e.ModTime.Equal(fixedTime))
	assert.Equal(t, filepath.Join(root, "sub", "mid.txt"), e.AbsPath)
	assert.Empty(t, e.Hash)

	e, ok = ri.Lookup("link.txt")
	require.True(t, ok)
	assert.Equal(t, Symlink, e.Type)

	_, ok = ri.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadReference_PrefersManifest(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "ref")
	writeFile(t, root, "on-disk.txt", []byte("x"))

	store, err := manifest.Create(manifest.PathFor(root))
	require.NoError(t, err)
	require.NoError(t, store.Put(manifest.Record{
		Path:    "dir/listed.txt",
		Type:    manifest.TypeFile,
		Size:    42,
		ModTime: fixedTime,
		Mode:    0o644,
		Hash:    "abc123",
	}))
	bindManifest(t, store, root)
	require.NoError(t, store.Close())

	ri, err := LoadReference(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, RefSourceManifest, ri.Source())
	assert.Equal(t, 1, ri.Len())

	e, ok := ri.Lookup(filepath.Join("dir", "listed.txt"))
	require.True(t, ok)
	assert.Equal(t, int64(42), e.Size)
	assert.Equal(t, "abc123", e.Hash)
	assert.Equal(t, filepath.Join(root, "dir", "listed.txt"), e.AbsPath)

	_, ok = ri.Lookup("on-disk.txt")
	assert.False(t, ok, "manifest is authoritative when readable")
}

func TestLoadReference_CorruptManifestFallsBackToScan(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "ref")
	writeFile(t, root, "a.txt", []byte("a"))
	require.NoError(t, os.WriteFile(manifest.PathFor(root), []byte("not a database"), 0o644))

	ri, err := LoadReference(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, RefSourceScan, ri.Source())
	_, ok := ri.Lookup("a.txt")
	assert.True(t, ok)
}

func TestLoadReference_ManifestOfAnotherDirectoryIsIgnored(t *testing.T) {
	tests := []struct {
		name string
		bind func(t *testing.T, store *manifest.Store, root string)
	}{
		{"no identity", func(*testing.T, *manifest.Store, string) {}},
		{"other directory", func(t *testing.T, store *manifest.Store, _ string) {
			bindManifest(t, store, t.TempDir())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "ref")
			writeFile(t, root, "on-disk.txt", []byte("x"))

			store, err := manifest.Create(manifest.PathFor(root))
			require.NoError(t, err)
			require.NoError(t, store.Put(manifest.Record{Path: "listed.txt", Type: manifest.TypeFile, Size: 1, ModTime: fixedTime}))
			tt.bind(t, store, root)
			require.NoError(t, store.Close())

			ri, err := LoadReference(context.Background(), root, nil)
			require.NoError(t, err)
			assert.Equal(t, RefSourceScan, ri.Source())
			_, ok := ri.Lookup("on-disk.txt")
			assert.True(t, ok)
			_, ok = ri.Lookup("listed.txt")
			assert.False(t, ok)
		})
	}
}

func TestLoadReference_Errors(t *testing.T) {
	base := t.TempDir()
	_, err := LoadReference(context.Background(), filepath.Join(base, "nope"), nil)
	require.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = LoadReference(context.Background(), file, nil)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestLoadReference_Cancelled(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ref")
	createTestTree(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadReference(ctx, root, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReferenceIndex_NilSafe(t *testing.T) {
	var ri *ReferenceIndex
	_, ok := ri.Lookup("x")
	assert.False(t, ok)
	assert.Zero(t, ri.Len())
	assert.Empty(t, ri.Root())
	assert.Zero(t, ri.Dev())
	assert.Equal(t, RefSourceNone, ri.Source())
}

func TestManifestTypeMapping(t *testing.T) {
	for _, ft := range []FileType{Regular, Dir, Symlink} {
		assert.Equal(t, ft, typeFromManifest(typeToManifest(ft)))
	}
	assert.Equal(t, Other, typeFromManifest("fifo"))
}
