// Package platform wraps the OS-specific pieces of writing a snapshot:
// kernel-offloaded copies, sparse extent discovery, inode metadata and
// no-replace renames.
package platform

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// CopyMethod identifies which strategy moved the bytes of a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy.
type CopyResult struct {
	// BytesWritten counts data bytes moved. Holes are not written.
	BytesWritten int64
	// HoleBytes counts bytes of the source that were holes and were
	// reproduced by extending the destination.
	HoleBytes int64
	Method    CopyMethod
}

// Covered is the length of the source reproduced in the destination.
func (r CopyResult) Covered() int64 {
	return r.BytesWritten + r.HoleBytes
}

// chunkSize bounds a single copy call so cancellation is observed promptly
// on large files.
const chunkSize = 8 << 20

// CopyFile copies the first size bytes of src into dst at the same offsets,
// preserving holes. dst must be empty. The context is checked between
// chunks. A source that shrinks underneath the copy yields a result whose
// Covered is less than size and no error; callers compare.
func CopyFile(ctx context.Context, src, dst *os.File, size int64) (CopyResult, error) {
	var res CopyResult
	if size == 0 {
		return res, nil
	}

	fi, err := src.Stat()
	if err != nil {
		return res, err
	}
	// Holes past the current end of a source that shrank are not data to
	// reproduce.
	limit := min(size, fi.Size())
	if limit == 0 {
		return res, nil
	}

	segs, err := Extents(src, limit)
	if err != nil {
		segs = wholeFile(limit)
	}
	if len(segs) == 1 && segs[0].Data {
		preallocate(dst, limit)
	}

	for _, seg := range segs {
		if !seg.Data {
			res.HoleBytes += seg.Length
			continue
		}
		end := seg.Offset + seg.Length
		for off := seg.Offset; off < end; {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			n, method, err := copyRange(src, dst, off, min(chunkSize, end-off))
			res.BytesWritten += n
			res.Method = method
			if err != nil {
				return res, err
			}
			if n == 0 {
				return res, nil
			}
			off += n
		}
	}

	if res.HoleBytes > 0 {
		// A trailing hole is only materialised by setting the length.
		if err := dst.Truncate(limit); err != nil {
			return res, err
		}
	}
	return res, nil
}

// isFallbackErr reports whether a kernel copy failure should be retried
// with plain reads and writes.
func isFallbackErr(err error) bool {
	return errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP)
}
