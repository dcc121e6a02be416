package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statEntry(t *testing.T, root, rel string) FileEntry {
	t.Helper()
	abs := filepath.Join(root, rel)
	fi, err := os.Lstat(abs)
	require.NoError(t, err)
	e := entryFromInfo(abs, rel, fi)
	if e.Type == Symlink {
		e.LinkTarget, err = os.Readlink(abs)
		require.NoError(t, err)
	}
	return e
}

func newTestWriter(t *testing.T, cfg WriterConfig) *Writer {
	t.Helper()
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = t.TempDir()
	}
	return NewWriter(cfg)
}

func TestWriter_CopyPreservesContentModeAndTime(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.txt", []byte("hello"))
	require.NoError(t, os.Chmod(filepath.Join(src, "f.txt"), 0o640))

	w := newTestWriter(t, WriterConfig{})
	e := statEntry(t, src, "f.txt")

	st, err := w.Copy(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Bytes)

	dst := filepath.Join(w.cfg.StagingRoot, "f.txt")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())
	assert.True(t, fi.ModTime().Equal(fixedTime))
	assert.False(t, sameInode(t, e.AbsPath, dst))

	assert.Empty(t, findLeftovers(t, w.cfg.StagingRoot))
	assert.Equal(t, 0, w.tmps.len())
}

func TestWriter_CopyHashesWhenAsked(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.txt", []byte("hash me"))
	w := newTestWriter(t, WriterConfig{HashCopies: true})

	st, err := w.Copy(context.Background(), statEntry(t, src, "f.txt"))
	require.NoError(t, err)

	want, err := HashFile(filepath.Join(src, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, want, st.Hash)
	assert.Equal(t, "stream", st.Method)
}

func TestWriter_CopyThrottled(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.bin", make([]byte, 4096))
	w := newTestWriter(t, WriterConfig{Limiter: NewBWLimiter(1 << 20)})

	st, err := w.Copy(context.Background(), statEntry(t, src, "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), st.Bytes)
}

func TestWriter_CopySizeMismatch(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.txt", []byte("short"))
	w := newTestWriter(t, WriterConfig{})

	e := statEntry(t, src, "f.txt")
	e.Size = 50 // as if the file shrank after the scan

	_, err := w.Copy(context.Background(), e)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, KindCopy, KindOf(err))

	var ce *CopyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(50), ce.Want)

	assert.NoFileExists(t, filepath.Join(w.cfg.StagingRoot, "f.txt"))
	assert.Empty(t, findLeftovers(t, w.cfg.StagingRoot))
}

func TestWriter_CopySourceGrew(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.txt", []byte("longer than recorded"))
	w := newTestWriter(t, WriterConfig{})

	e := statEntry(t, src, "f.txt")
	e.Size = 4

	_, err := w.Copy(context.Background(), e)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestWriter_CopyMissingSource(t *testing.T) {
	w := newTestWriter(t, WriterConfig{})
	e := FileEntry{RelPath: "gone.txt", AbsPath: filepath.Join(t.TempDir(), "gone.txt"), Type: Regular}

	_, err := w.Copy(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, KindAccess, KindOf(err))
}

func TestWriter_CopyCancelled(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "f.bin", make([]byte, 64*1024))
	w := newTestWriter(t, WriterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Copy(ctx, statEntry(t, src, "f.bin"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(w.cfg.StagingRoot, "f.bin"))
	assert.Empty(t, findLeftovers(t, w.cfg.StagingRoot))
}

func TestWriter_Link(t *testing.T) {
	ref := t.TempDir()
	writeFile(t, ref, "a.txt", []byte("abc"))
	w := newTestWriter(t, WriterConfig{})

	e := FileEntry{RelPath: "a.txt", Type: Regular, Size: 3}
	require.NoError(t, w.Link(e, filepath.Join(ref, "a.txt")))
	assert.True(t, sameInode(t, filepath.Join(ref, "a.txt"), filepath.Join(w.cfg.StagingRoot, "a.txt")))
}

func TestWriter_LinkMissingReference(t *testing.T) {
	w := newTestWriter(t, WriterConfig{})

	e := FileEntry{RelPath: "a.txt", Type: Regular}
	err := w.Link(e, filepath.Join(t.TempDir(), "vanished.txt"))
	require.Error(t, err)

	var le *LinkError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "reference missing", le.Reason())
	assert.False(t, le.CrossDevice())
	assert.Equal(t, KindLink, KindOf(err))
}

func TestWriter_MkdirSymlinkAndFinalize(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(src, "ro"), 0o555))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(src, "ro"), 0o755) })
	require.NoError(t, os.Chtimes(filepath.Join(src, "ro"), fixedTime, fixedTime))
	require.NoError(t, os.Symlink("../elsewhere", filepath.Join(src, "dangling")))

	w := newTestWriter(t, WriterConfig{})
	dir := statEntry(t, src, "ro")
	require.NoError(t, w.Mkdir(dir))

	// Staged directories stay writable until finalised.
	staged := filepath.Join(w.cfg.StagingRoot, "ro")
	writeFile(t, w.cfg.StagingRoot, filepath.Join("ro", "child"), []byte("x"))

	require.NoError(t, w.Symlink(statEntry(t, src, "dangling")))
	target, err := os.Readlink(filepath.Join(w.cfg.StagingRoot, "dangling"))
	require.NoError(t, err)
	assert.Equal(t, "../elsewhere", target)

	require.NoError(t, w.FinalizeDirs([]FileEntry{dir}))
	t.Cleanup(func() { _ = os.Chmod(staged, 0o755) })

	fi, err := os.Stat(staged)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o555), fi.Mode().Perm())
	assert.True(t, fi.ModTime().Equal(fixedTime))
}

func TestWriter_MkdirFailsWithoutParent(t *testing.T) {
	w := newTestWriter(t, WriterConfig{})
	err := w.Mkdir(FileEntry{RelPath: filepath.Join("no", "parent"), Type: Dir, Mode: os.ModeDir | 0o755})
	require.Error(t, err)
	assert.Equal(t, KindCopy, KindOf(err))
}
