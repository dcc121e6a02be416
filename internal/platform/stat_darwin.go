//go:build darwin

package platform

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// InodeOf extracts inode metadata from fi. ok is false when fi did not
// come from a stat call.
func InodeOf(fi os.FileInfo) (Inode, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return Inode{}, false
	}
	return Inode{
		Dev:   uint64(st.Dev), //nolint:gosec // G115: dev_t is int32 on darwin
		Ino:   st.Ino,
		Nlink: uint64(st.Nlink),
		UID:   st.Uid,
		GID:   st.Gid,
		Atime: time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec),
		Ctime: time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec),
	}, true
}

// Lchtimes sets the access and modification times of path without
// following a final symlink.
func Lchtimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("utimensat %s: %w", path, err)
	}
	return nil
}
