package engine

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/bamsammich/linkback/internal/platform"
)

// FileType identifies the kind of filesystem entry.
type FileType int

const (
	Regular FileType = iota
	Dir
	Symlink
	// Other covers devices, sockets and FIFOs, which are not backed up.
	Other
)

func (t FileType) String() string {
	switch t {
	case Regular:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "other"
	}
}

// FileEntry describes one entry of a source tree. It is immutable once the
// scanner has produced it.
type FileEntry struct {
	RelPath    string // the root itself is "."
	AbsPath    string
	LinkTarget string // symlinks only
	ModTime    time.Time
	AccTime    time.Time
	Size       int64
	Mode       fs.FileMode
	Dev        uint64
	Ino        uint64
	UID        uint32
	GID        uint32
	Type       FileType
}

func fileTypeOf(mode fs.FileMode) FileType {
	switch {
	case mode.IsRegular():
		return Regular
	case mode.IsDir():
		return Dir
	case mode&fs.ModeSymlink != 0:
		return Symlink
	default:
		return Other
	}
}

func entryFromInfo(absPath, relPath string, fi fs.FileInfo) FileEntry {
	e := FileEntry{
		RelPath: relPath,
		AbsPath: absPath,
		ModTime: fi.ModTime(),
		AccTime: fi.ModTime(),
		Mode:    fi.Mode(),
		Type:    fileTypeOf(fi.Mode()),
	}
	if e.Type == Regular {
		e.Size = fi.Size()
	}
	if ino, ok := platform.InodeOf(fi); ok {
		e.Dev = ino.Dev
		e.Ino = ino.Ino
		e.UID = ino.UID
		e.GID = ino.GID
		e.AccTime = ino.Atime
	}
	return e
}

// parentRel returns the relative path of rel's parent directory; the root
// is its own parent.
func parentRel(rel string) string {
	return filepath.Dir(rel)
}

// depth counts path separators; the root has depth 0.
func depth(rel string) int {
	if rel == "." {
		return 0
	}
	n := 1
	for _, c := range rel {
		if c == filepath.Separator {
			n++
		}
	}
	return n
}
