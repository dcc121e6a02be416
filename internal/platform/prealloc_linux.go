//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves space for a dense copy. fallocate is advisory and
// unsupported on some filesystems, so the error is ignored.
func preallocate(fd *os.File, size int64) {
	_ = unix.Fallocate(int(fd.Fd()), 0, 0, size)
}
