package platform

import (
	"errors"
	"io"
	"os"
	"sync"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// readWriteRange copies n bytes at off using positional reads and writes
// through a pooled buffer. It stops early at source EOF.
func readWriteRange(src, dst *os.File, off, n int64) (int64, error) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	var total int64
	for total < n {
		want := min(int64(len(buf)), n-total)
		r, rerr := src.ReadAt(buf[:want], off+total)
		if r > 0 {
			if _, werr := dst.WriteAt(buf[:r], off+total); werr != nil {
				return total, werr
			}
			total += int64(r)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
	return total, nil
}
