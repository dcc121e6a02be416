package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bamsammich/linkback/internal/ignore"
)

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	Root   string
	Ignore *ignore.Rules
	// Buffer sizes the output channels. Zero picks a default.
	Buffer int
}

// Scanner walks a directory tree depth-first and emits a FileEntry for
// every entry below the root. A directory is always emitted before its
// children, and siblings are visited in name order, so the sequence is
// deterministic for an unchanged tree.
type Scanner struct {
	cfg     ScannerConfig
	entries chan FileEntry
	errs    chan error
	ignored atomic.Int64
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Scanner{
		cfg:     cfg,
		entries: make(chan FileEntry, cfg.Buffer),
		errs:    make(chan error, cfg.Buffer),
	}
}

// Scan starts the walk and returns channels for entries and errors. The
// caller must consume from both channels until they close.
//
// Unreadable entries are reported as *AccessError and left out. An
// unreadable root is reported as *FatalSetupError and ends the walk.
func (s *Scanner) Scan(ctx context.Context) (<-chan FileEntry, <-chan error) {
	go func() {
		defer close(s.entries)
		defer close(s.errs)

		children, err := os.ReadDir(s.cfg.Root)
		if err != nil {
			s.sendErr(ctx, &FatalSetupError{Op: "read source root", Path: s.cfg.Root, Err: err})
			return
		}
		s.walk(ctx, s.cfg.Root, ".", children)
	}()

	return s.entries, s.errs
}

// Ignored returns how many entries the ignore rules left out. Valid once
// the channels have closed.
func (s *Scanner) Ignored() int64 {
	return s.ignored.Load()
}

// walk emits the children of the directory at absDir. It returns false
// when the context ended the walk.
func (s *Scanner) walk(ctx context.Context, absDir, relDir string, children []os.DirEntry) bool {
	for _, child := range children {
		if ctx.Err() != nil {
			return false
		}

		absPath := filepath.Join(absDir, child.Name())
		relPath := child.Name()
		if relDir != "." {
			relPath = filepath.Join(relDir, child.Name())
		}

		info, err := os.Lstat(absPath)
		if err != nil {
			if !s.sendErr(ctx, &AccessError{Path: relPath, Err: err}) {
				return false
			}
			continue
		}

		entry := entryFromInfo(absPath, relPath, info)
		if s.cfg.Ignore.Ignored(relPath, entry.Type == Dir) {
			s.ignored.Add(1)
			continue
		}

		switch entry.Type {
		case Symlink:
			target, err := os.Readlink(absPath)
			if err != nil {
				if !s.sendErr(ctx, &AccessError{Path: relPath, Err: fmt.Errorf("readlink: %w", err)}) {
					return false
				}
				continue
			}
			entry.LinkTarget = target

		case Dir:
			// Read before emitting so an unreadable directory is left out
			// entirely rather than recreated empty.
			grandchildren, err := os.ReadDir(absPath)
			if err != nil {
				if !s.sendErr(ctx, &AccessError{Path: relPath, Err: err}) {
					return false
				}
				continue
			}
			if !s.send(ctx, entry) {
				return false
			}
			if !s.walk(ctx, absPath, relPath, grandchildren) {
				return false
			}
			continue
		}

		if !s.send(ctx, entry) {
			return false
		}
	}
	return true
}

func (s *Scanner) send(ctx context.Context, e FileEntry) bool {
	select {
	case s.entries <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendErr blocks rather than dropping: every access failure must reach the
// run result.
func (s *Scanner) sendErr(ctx context.Context, err error) bool {
	select {
	case s.errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}
