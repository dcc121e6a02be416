package platform

import (
	"context"
	"crypto/rand"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyPair(t *testing.T, data []byte) (src, dst *os.File, dstPath string) {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	dstPath = filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(srcPath, data, 0o644))

	src, err := os.Open(srcPath)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	dst, err = os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { dst.Close() })
	return src, dst, dstPath
}

func TestCopyFileBasic(t *testing.T) {
	data := []byte("hello, linkback!")
	src, dst, dstPath := copyPair(t, data)

	result, err := CopyFile(context.Background(), src, dst, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.BytesWritten)
	assert.Equal(t, int64(len(data)), result.Covered())

	require.NoError(t, dst.Close())
	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCopyFileLarge(t *testing.T) {
	// Larger than both the read/write buffer and one copy chunk.
	data := make([]byte, chunkSize+3*bufferSize+17)
	_, err := rand.Read(data)
	require.NoError(t, err)
	src, dst, dstPath := copyPair(t, data)

	result, err := CopyFile(context.Background(), src, dst, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.Covered())

	require.NoError(t, dst.Close())
	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCopyFileEmpty(t *testing.T) {
	src, dst, _ := copyPair(t, nil)

	result, err := CopyFile(context.Background(), src, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.BytesWritten)
}

func TestCopyFileShrunkSource(t *testing.T) {
	data := []byte("only twelve!")
	src, dst, _ := copyPair(t, data)

	// Claim the file is bigger than it is, as if it shrank after the stat.
	result, err := CopyFile(context.Background(), src, dst, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.BytesWritten)
	assert.Less(t, result.Covered(), int64(100))
}

func TestCopyFileCanceled(t *testing.T) {
	data := make([]byte, 1024)
	src, dst, _ := copyPair(t, data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyFile(ctx, src, dst, int64(len(data)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCopyFileSparse(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("hole discovery is linux-only")
	}
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "sparse")
	f, err := os.Create(srcPath)
	require.NoError(t, err)
	const size = 8 << 20
	_, err = f.WriteAt([]byte("head"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	src, err := os.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	dstPath := filepath.Join(dir, "copy")
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	require.NoError(t, err)
	defer dst.Close()

	result, err := CopyFile(context.Background(), src, dst, size)
	require.NoError(t, err)
	assert.Equal(t, int64(size), result.Covered())

	require.NoError(t, dst.Close())
	fi, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.Equal(t, int64(size), fi.Size())

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("head"), got[:4])
	assert.Equal(t, byte(0), got[size-1])
}

func TestReadWriteRange(t *testing.T) {
	data := []byte("AAAA_BBBB_CCCC")
	src, dst, dstPath := copyPair(t, data)

	n, err := readWriteRange(src, dst, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, dst.Close())
	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	// pwrite semantics: data lands at the same offset.
	assert.Equal(t, []byte("BBBB"), got[5:9])
}

func TestExtentsDenseFile(t *testing.T) {
	data := []byte("dense data")
	src, _, _ := copyPair(t, data)

	segs, err := Extents(src, int64(len(data)))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Data)
	assert.Equal(t, int64(len(data)), segs[0].Length)
}

func TestCopyMethodString(t *testing.T) {
	assert.Equal(t, "read_write", ReadWrite.String())
	assert.Equal(t, "copy_file_range", CopyFileRange.String())
	assert.Equal(t, "unknown", CopyMethod(99).String())
}

func TestRenameNoReplace(t *testing.T) {
	dir := t.TempDir()
	oldDir := filepath.Join(dir, "staging")
	newDir := filepath.Join(dir, "final")
	require.NoError(t, os.Mkdir(oldDir, 0o755))

	require.NoError(t, RenameNoReplace(oldDir, newDir))
	assert.DirExists(t, newDir)
	assert.NoDirExists(t, oldDir)
}

func TestRenameNoReplace_Existing(t *testing.T) {
	dir := t.TempDir()
	oldDir := filepath.Join(dir, "staging")
	newDir := filepath.Join(dir, "final")
	require.NoError(t, os.Mkdir(oldDir, 0o755))
	// An empty directory would be silently replaced by rename(2).
	require.NoError(t, os.Mkdir(newDir, 0o755))

	err := RenameNoReplace(oldDir, newDir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrExist))
	assert.DirExists(t, oldDir)
}

func TestInodeOfAndLchtimes(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, os.Symlink("target", link))

	fi, err := os.Lstat(target)
	require.NoError(t, err)
	ino, ok := InodeOf(fi)
	require.True(t, ok)
	assert.NotZero(t, ino.Ino)
	assert.Equal(t, uint64(1), ino.Nlink)

	targetBefore, err := os.Stat(target)
	require.NoError(t, err)

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, Lchtimes(link, when, when))

	lfi, err := os.Lstat(link)
	require.NoError(t, err)
	assert.True(t, lfi.ModTime().Equal(when))

	targetAfter, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, targetBefore.ModTime(), targetAfter.ModTime())
}
