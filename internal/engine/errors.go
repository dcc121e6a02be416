package engine

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

var (
	ErrDestinationExists = errors.New("destination already exists")
	ErrSizeMismatch      = errors.New("size mismatch")
	ErrNotDirectory      = errors.New("not a directory")
	ErrNestedRoots       = errors.New("source and destination overlap")
	ErrParentMissing     = errors.New("parent directory was not created")
	ErrStaleManifest     = errors.New("manifest does not belong to this snapshot")
)

// ErrorKind classifies an error for reporting.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAccess
	KindLink
	KindCopy
	KindFatalSetup
	KindPublish
)

func (k ErrorKind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindLink:
		return "link"
	case KindCopy:
		return "copy"
	case KindFatalSetup:
		return "fatal-setup"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// AccessError reports a source entry that could not be read. The entry is
// left out of the snapshot.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string { return fmt.Sprintf("access %s: %v", e.Path, e.Err) }
func (e *AccessError) Unwrap() error { return e.Err }

// LinkError reports a hardlink that could not be created. The writer falls
// back to a copy.
type LinkError struct {
	Path   string
	Target string
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s -> %s: %v", e.Path, e.Target, e.Err)
}
func (e *LinkError) Unwrap() error { return e.Err }

// CrossDevice reports whether the link failed because the reference lives
// on another filesystem.
func (e *LinkError) CrossDevice() bool { return errors.Is(e.Err, unix.EXDEV) }

// Reason is a short classification used in logs and fallback reporting.
func (e *LinkError) Reason() string {
	switch {
	case e.CrossDevice():
		return "cross-device"
	case errors.Is(e.Err, unix.EMLINK):
		return "link limit"
	case errors.Is(e.Err, unix.EPERM), errors.Is(e.Err, unix.ENOTSUP), errors.Is(e.Err, unix.EOPNOTSUPP):
		return "unsupported"
	case errors.Is(e.Err, fs.ErrNotExist):
		return "reference missing"
	default:
		return "error"
	}
}

// CopyError reports a failed write of one entry into the staging tree.
// Want and Got are set for ErrSizeMismatch.
type CopyError struct {
	Path string
	Err  error
	Want int64
	Got  int64
}

func (e *CopyError) Error() string {
	if errors.Is(e.Err, ErrSizeMismatch) {
		return fmt.Sprintf("copy %s: %v: want %d bytes, got %d", e.Path, e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("copy %s: %v", e.Path, e.Err)
}
func (e *CopyError) Unwrap() error { return e.Err }

// FatalSetupError aborts the whole run before anything is published.
type FatalSetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, withoutPath(e.Err, e.Path))
}
func (e *FatalSetupError) Unwrap() error { return e.Err }

// PublishError reports that the completed staging tree could not be moved
// to its final name. The staging tree is left in place.
type PublishError struct {
	Staging string
	Dest    string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s -> %s: %v", e.Staging, e.Dest, e.Err)
}
func (e *PublishError) Unwrap() error { return e.Err }

// withoutPath drops the *fs.PathError layer of err when it names path
// again, so messages mention each path once. Unwrap still sees the full
// chain.
func withoutPath(err error, path string) error {
	if pe, ok := err.(*fs.PathError); ok && pe.Path == path { //nolint:errorlint // only the outermost layer
		return pe.Err
	}
	return err
}

// KindOf classifies err by the typed errors in its chain. Setup and
// publish failures take precedence over per-entry kinds.
func KindOf(err error) ErrorKind {
	var (
		access  *AccessError
		link    *LinkError
		cp      *CopyError
		fatal   *FatalSetupError
		publish *PublishError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &fatal):
		return KindFatalSetup
	case errors.As(err, &publish):
		return KindPublish
	case errors.As(err, &access):
		return KindAccess
	case errors.As(err, &link):
		return KindLink
	case errors.As(err, &cp):
		return KindCopy
	default:
		return KindUnknown
	}
}

// pathOf extracts the entry path carried by a typed error.
func pathOf(err error) string {
	var (
		access *AccessError
		link   *LinkError
		cp     *CopyError
	)
	switch {
	case errors.As(err, &access):
		return access.Path
	case errors.As(err, &link):
		return link.Path
	case errors.As(err, &cp):
		return cp.Path
	default:
		return ""
	}
}
