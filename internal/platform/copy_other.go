//go:build !linux

package platform

import "os"

func copyRange(src, dst *os.File, off, n int64) (int64, CopyMethod, error) {
	w, err := readWriteRange(src, dst, off, n)
	return w, ReadWrite, err
}
