//go:build linux

package platform

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Extents maps the data and hole regions of the first size bytes of f using
// SEEK_DATA/SEEK_HOLE. Filesystems without support report a single data
// segment covering the file.
func Extents(f *os.File, size int64) ([]Segment, error) {
	if size == 0 {
		return nil, nil
	}

	fd := int(f.Fd())
	var segs []Segment
	off := int64(0)

	for off < size {
		dataStart, err := unix.Seek(fd, off, unix.SEEK_DATA)
		if err != nil {
			if errors.Is(err, unix.ENXIO) {
				segs = append(segs, Segment{Offset: off, Length: size - off})
				break
			}
			if errors.Is(err, unix.EINVAL) {
				return wholeFile(size), nil
			}
			return nil, err
		}
		if dataStart >= size {
			segs = append(segs, Segment{Offset: off, Length: size - off})
			break
		}
		if dataStart > off {
			segs = append(segs, Segment{Offset: off, Length: dataStart - off})
		}

		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		switch {
		case errors.Is(err, unix.ENXIO):
			holeStart = size
		case errors.Is(err, unix.EINVAL):
			return wholeFile(size), nil
		case err != nil:
			return nil, err
		}
		holeStart = min(holeStart, size)

		segs = append(segs, Segment{Offset: dataStart, Length: holeStart - dataStart, Data: true})
		off = holeStart
	}

	// Seeking moved the shared file offset; positional I/O does not care
	// but later sequential readers would.
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return wholeFile(size), nil
	}
	return segs, nil
}
