//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// copyRange tries copy_file_range first and falls back to read/write when
// the kernel or filesystem pair cannot offload the copy.
func copyRange(src, dst *os.File, off, n int64) (int64, CopyMethod, error) {
	roff, woff := off, off
	var total int64
	for total < n {
		c, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(n-total), 0)
		if err != nil {
			if total == 0 && isFallbackErr(err) {
				w, rwErr := readWriteRange(src, dst, off, n)
				return w, ReadWrite, rwErr
			}
			return total, CopyFileRange, err
		}
		if c == 0 {
			break
		}
		total += int64(c)
	}
	return total, CopyFileRange, nil
}
