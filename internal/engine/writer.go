package engine

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bamsammich/linkback/internal/platform"
)

const copyBufferSize = 256 * 1024

// WriterConfig controls how entries are realised in the staging tree.
type WriterConfig struct {
	StagingRoot   string
	PreserveOwner bool
	// Limiter throttles copied bytes across all workers. Nil is unlimited.
	Limiter *rate.Limiter
	// HashCopies computes a BLAKE3 digest of every copied file while it is
	// written.
	HashCopies bool
	Logger     *slog.Logger
}

// Writer materialises entries inside a staging tree. Methods are safe for
// concurrent use on distinct entries.
type Writer struct {
	cfg  WriterConfig
	tmps tmpRegistry
}

// CopyStats describes a completed copy.
type CopyStats struct {
	Bytes  int64
	Hash   string
	Method string
}

// NewWriter creates a writer for the staging tree in cfg.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{cfg: cfg}
}

func (w *Writer) dst(rel string) string {
	return filepath.Join(w.cfg.StagingRoot, rel)
}

// Mkdir creates the staging directory for e. It is writable by the owner
// until FinalizeDirs applies the source mode.
func (w *Writer) Mkdir(e FileEntry) error {
	if err := os.Mkdir(w.dst(e.RelPath), e.Mode.Perm()|0o700); err != nil {
		return &CopyError{Path: e.RelPath, Err: fmt.Errorf("mkdir: %w", err)}
	}
	return nil
}

// Symlink recreates the symlink e with the same target string. The target
// is neither followed nor validated.
func (w *Writer) Symlink(e FileEntry) error {
	dst := w.dst(e.RelPath)
	if err := os.Symlink(e.LinkTarget, dst); err != nil {
		return &CopyError{Path: e.RelPath, Err: fmt.Errorf("symlink: %w", err)}
	}
	if w.cfg.PreserveOwner {
		_ = os.Lchown(dst, int(e.UID), int(e.GID))
	}
	if err := platform.Lchtimes(dst, e.AccTime, e.ModTime); err != nil {
		w.cfg.Logger.Debug("symlink times not preserved", "path", e.RelPath, "error", err)
	}
	return nil
}

// Link hardlinks the reference file at refPath into place for e.
func (w *Writer) Link(e FileEntry, refPath string) error {
	if err := os.Link(refPath, w.dst(e.RelPath)); err != nil {
		var le *os.LinkError
		if errors.As(err, &le) {
			err = le.Err
		}
		return &LinkError{Path: e.RelPath, Target: refPath, Err: err}
	}
	return nil
}

// Copy writes an independent copy of e into place. Bytes go to a temporary
// sibling that is renamed over the final name only once size, mode and
// times are in order; on any failure the temporary file is removed.
func (w *Writer) Copy(ctx context.Context, e FileEntry) (CopyStats, error) {
	var st CopyStats

	src, err := os.Open(e.AbsPath)
	if err != nil {
		return st, &AccessError{Path: e.RelPath, Err: err}
	}
	defer src.Close()

	dst := w.dst(e.RelPath)
	tmpPath := filepath.Join(filepath.Dir(dst),
		fmt.Sprintf(".%s.%s.linkback-tmp", filepath.Base(dst), uuid.New().String()[:8]))

	w.tmps.add(tmpPath)
	defer func() {
		w.tmps.remove(tmpPath)
		_ = os.Remove(tmpPath) // no-op after a successful rename
	}()

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return st, &CopyError{Path: e.RelPath, Err: fmt.Errorf("create temp: %w", err)}
	}

	st, err = w.copyData(ctx, src, tmp, e.Size)
	if err == nil {
		err = w.checkSizes(e, src, tmp, st.Bytes)
	}
	if err == nil {
		err = w.applyFileMeta(e, tmp)
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = &CopyError{Path: e.RelPath, Err: fmt.Errorf("close temp: %w", closeErr)}
	}
	if err != nil {
		return st, wrapCopyErr(e.RelPath, err)
	}

	// After close: nothing may write to the file once times are set.
	if err := os.Chtimes(tmpPath, e.AccTime, e.ModTime); err != nil {
		return st, &CopyError{Path: e.RelPath, Err: fmt.Errorf("set times: %w", err)}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return st, &CopyError{Path: e.RelPath, Err: fmt.Errorf("rename: %w", err)}
	}
	return st, nil
}

func (w *Writer) copyData(ctx context.Context, src, dst *os.File, size int64) (CopyStats, error) {
	if w.cfg.Limiter == nil && !w.cfg.HashCopies {
		res, err := platform.CopyFile(ctx, src, dst, size)
		return CopyStats{Bytes: res.Covered(), Method: res.Method.String()}, err
	}

	var (
		h   hash.Hash
		out io.Writer = dst
	)
	if w.cfg.HashCopies {
		h = newHasher()
		out = io.MultiWriter(dst, h)
	}
	in := &ctxReader{ctx: ctx, r: io.LimitReader(src, size), limiter: w.cfg.Limiter}

	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(onlyWriter{out}, in, buf)
	st := CopyStats{Bytes: n, Method: "stream"}
	if h != nil {
		st.Hash = hexDigest(h)
	}
	return st, err
}

// onlyWriter hides ReadFrom on *os.File so io.CopyBuffer keeps going
// through the throttled reader.
type onlyWriter struct{ io.Writer }

func (w *Writer) checkSizes(e FileEntry, src, tmp *os.File, transferred int64) error {
	if transferred != e.Size {
		return &CopyError{Path: e.RelPath, Err: ErrSizeMismatch, Want: e.Size, Got: transferred}
	}
	// A source that grew while being copied was truncated by the copy.
	if fi, err := src.Stat(); err == nil && fi.Size() != e.Size {
		return &CopyError{Path: e.RelPath, Err: ErrSizeMismatch, Want: e.Size, Got: fi.Size()}
	}
	fi, err := tmp.Stat()
	if err != nil {
		return &CopyError{Path: e.RelPath, Err: fmt.Errorf("stat temp: %w", err)}
	}
	if fi.Size() != e.Size {
		return &CopyError{Path: e.RelPath, Err: ErrSizeMismatch, Want: e.Size, Got: fi.Size()}
	}
	return nil
}

func (w *Writer) applyFileMeta(e FileEntry, tmp *os.File) error {
	// Ownership is best effort: it needs CAP_CHOWN for foreign owners. It
	// goes first because chown clears setuid and setgid.
	if w.cfg.PreserveOwner {
		_ = tmp.Chown(int(e.UID), int(e.GID))
	}
	if err := tmp.Chmod(modeBits(e.Mode)); err != nil {
		return &CopyError{Path: e.RelPath, Err: fmt.Errorf("chmod: %w", err)}
	}
	return nil
}

// FinalizeDirs applies source mode and times to the staging directories,
// deepest first so that setting a parent's mtime is the last write inside
// it. The root entry (RelPath ".") maps to the staging root. Failures are
// joined and returned; they do not affect file contents.
func (w *Writer) FinalizeDirs(dirs []FileEntry) error {
	sorted := make([]FileEntry, len(dirs))
	copy(sorted, dirs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return depth(sorted[i].RelPath) > depth(sorted[j].RelPath)
	})

	var errs []error
	for _, d := range sorted {
		path := w.dst(d.RelPath)
		if w.cfg.PreserveOwner {
			_ = os.Lchown(path, int(d.UID), int(d.GID))
		}
		if err := os.Chmod(path, modeBits(d.Mode)); err != nil {
			errs = append(errs, fmt.Errorf("chmod %s: %w", d.RelPath, err))
		}
		if err := os.Chtimes(path, d.AccTime, d.ModTime); err != nil {
			errs = append(errs, fmt.Errorf("chtimes %s: %w", d.RelPath, err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup removes temporary files left by copies that never finished.
func (w *Writer) Cleanup() {
	w.tmps.cleanup()
}

func modeBits(m fs.FileMode) fs.FileMode {
	return m & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
}

// wrapCopyErr passes typed errors through and files everything else, such
// as cancellation or a read failure mid-copy, under CopyError.
func wrapCopyErr(rel string, err error) error {
	var (
		ce *CopyError
		ae *AccessError
	)
	if errors.As(err, &ce) || errors.As(err, &ae) {
		return err
	}
	return &CopyError{Path: rel, Err: err}
}
