package platform

import "time"

// Inode carries the fields of a stat result that os.FileInfo does not
// expose portably.
type Inode struct {
	Dev   uint64
	Ino   uint64
	Nlink uint64
	UID   uint32
	GID   uint32
	Atime time.Time
	// Ctime is the inode change time.
	Ctime time.Time
}
