package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"access", &AccessError{Path: "a", Err: os.ErrPermission}, KindAccess},
		{"link", &LinkError{Path: "a", Target: "b", Err: unix.EXDEV}, KindLink},
		{"copy", &CopyError{Path: "a", Err: ErrSizeMismatch}, KindCopy},
		{"fatal", &FatalSetupError{Op: "stat source", Path: "/x", Err: os.ErrNotExist}, KindFatalSetup},
		{"publish", &PublishError{Staging: "s", Dest: "d", Err: os.ErrExist}, KindPublish},
		{"wrapped copy", fmt.Errorf("worker: %w", &CopyError{Path: "a", Err: os.ErrClosed}), KindCopy},
		{"fatal wins", &FatalSetupError{Op: "read", Path: "/", Err: &AccessError{Path: ".", Err: os.ErrPermission}}, KindFatalSetup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestLinkErrorReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{unix.EXDEV, "cross-device"},
		{unix.EMLINK, "link limit"},
		{unix.EPERM, "unsupported"},
		{unix.ENOTSUP, "unsupported"},
		{unix.ENOENT, "reference missing"},
		{unix.EIO, "error"},
	}
	for _, tt := range tests {
		le := &LinkError{Path: "p", Target: "t", Err: tt.err}
		assert.Equal(t, tt.want, le.Reason(), tt.err.Error())
	}
	assert.True(t, (&LinkError{Err: unix.EXDEV}).CrossDevice())
	assert.False(t, (&LinkError{Err: unix.ENOENT}).CrossDevice())
}

func TestCopyErrorMessage(t *testing.T) {
	err := &CopyError{Path: "f.txt", Err: ErrSizeMismatch, Want: 10, Got: 4}
	assert.Equal(t, "copy f.txt: size mismatch: want 10 bytes, got 4", err.Error())
	assert.ErrorIs(t, err, ErrSizeMismatch)

	err = &CopyError{Path: "f.txt", Err: os.ErrPermission}
	assert.Equal(t, "copy f.txt: permission denied", err.Error())
}

func TestFatalSetupErrorNamesPathOnce(t *testing.T) {
	_, statErr := os.Stat("/nonexistent/linkback-src")
	require.Error(t, statErr)

	err := &FatalSetupError{Op: "stat source", Path: "/nonexistent/linkback-src", Err: statErr}
	assert.Equal(t, "stat source /nonexistent/linkback-src: no such file or directory", err.Error())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	other := &fs.PathError{Op: "open", Path: "/elsewhere", Err: fs.ErrPermission}
	err = &FatalSetupError{Op: "read source", Path: "/src", Err: other}
	assert.Equal(t, "read source /src: open /elsewhere: permission denied", err.Error())
}

func TestPathOf(t *testing.T) {
	assert.Equal(t, "a", pathOf(&AccessError{Path: "a", Err: os.ErrPermission}))
	assert.Equal(t, "b", pathOf(fmt.Errorf("x: %w", &LinkError{Path: "b"})))
	assert.Equal(t, "c", pathOf(&CopyError{Path: "c"}))
	assert.Empty(t, pathOf(errors.New("none")))
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "access", KindAccess.String())
	assert.Equal(t, "fatal-setup", KindFatalSetup.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
