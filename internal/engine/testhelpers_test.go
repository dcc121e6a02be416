package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/manifest"
)

// fixedTime keeps modification times stable across source edits.
var fixedTime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

// createTestTree populates root with a standard test tree:
//
//	root.txt          (17 bytes)
//	big.bin           (320KB)
//	sub/mid.txt       (19 bytes)
//	sub/deep/leaf.txt (17 bytes)
//	link.txt          → root.txt (symlink)
func createTestTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	writeFile(t, root, "root.txt", []byte("root file content"))
	writeFile(t, root, "big.bin", bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20000))
	writeFile(t, root, filepath.Join("sub", "mid.txt"), []byte("middle file content"))
	writeFile(t, root, filepath.Join("sub", "deep", "leaf.txt"), []byte("leaf file content"))
	require.NoError(t, os.Symlink("root.txt", filepath.Join(root, "link.txt")))
}

var testTreeFiles = []string{
	"root.txt",
	"big.bin",
	filepath.Join("sub", "mid.txt"),
	filepath.Join("sub", "deep", "leaf.txt"),
}

// writeFile writes data at root/rel with a fixed mtime.
func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, os.Chtimes(path, fixedTime, fixedTime))
}

// verifyTreeCopy checks that dstRoot mirrors the tree createTestTree built
// under srcRoot.
func verifyTreeCopy(t *testing.T, srcRoot, dstRoot string) {
	t.Helper()

	for _, rel := range testTreeFiles {
		srcData, err := os.ReadFile(filepath.Join(srcRoot, rel))
		require.NoError(t, err, "read src %s", rel)
		dstData, err := os.ReadFile(filepath.Join(dstRoot, rel))
		require.NoError(t, err, "read dst %s", rel)
		require.Equal(t, srcData, dstData, "content mismatch: %s", rel)
	}

	for _, dir := range []string{"sub", filepath.Join("sub", "deep")} {
		info, err := os.Stat(filepath.Join(dstRoot, dir))
		require.NoError(t, err, "stat dir %s", dir)
		require.True(t, info.IsDir(), "%s should be a directory", dir)
	}

	target, err := os.Readlink(filepath.Join(dstRoot, "link.txt"))
	require.NoError(t, err, "readlink link.txt")
	require.Equal(t, "root.txt", target)
}

// sameInode reports whether a and b are hardlinks of one file.
func sameInode(t *testing.T, a, b string) bool {
	t.Helper()
	ai, err := os.Lstat(a)
	require.NoError(t, err)
	bi, err := os.Lstat(b)
	require.NoError(t, err)
	return os.SameFile(ai, bi)
}

// findLeftovers returns staging trees, sidecars and temp files under dir.
func findLeftovers(t *testing.T, dir string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.Contains(name, stagingSuffix) || strings.HasSuffix(name, ".linkback-tmp") {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

// drainEvents creates a buffered event channel, spawns a goroutine to drain
// it, and registers cleanup.
func drainEvents(t *testing.T) chan<- event.Event {
	t.Helper()
	ch := make(chan event.Event, 1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		//nolint:revive // empty-block: intentionally draining event channel
		for range ch {
		}
	}()
	t.Cleanup(func() {
		close(ch)
		<-done
	})
	return ch
}

// runSnapshot runs the engine and requires a clean publication.
func runSnapshot(t *testing.T, cfg Config) RunResult {
	t.Helper()
	if cfg.Events == nil {
		cfg.Events = drainEvents(t)
	}
	res := Run(context.Background(), cfg)
	require.NoError(t, res.Err)
	require.True(t, res.Published())
	return res
}

// bindManifest stamps store with the identity of the directory dir.
func bindManifest(t *testing.T, store *manifest.Store, dir string) {
	t.Helper()
	info, err := os.Lstat(dir)
	require.NoError(t, err)
	id, ok := identityOf(info)
	require.True(t, ok)
	require.NoError(t, store.SetIdentity(id))
}

func skipIfRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
}
