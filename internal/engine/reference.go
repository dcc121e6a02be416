package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bamsammich/linkback/internal/manifest"
	"github.com/bamsammich/linkback/internal/platform"
)

// Where a ReferenceIndex was loaded from.
const (
	RefSourceNone     = "none"
	RefSourceManifest = "manifest"
	RefSourceScan     = "scan"
)

// RefEntry is the reference snapshot's record of one path.
type RefEntry struct {
	RelPath string
	AbsPath string
	ModTime time.Time
	Size    int64
	Mode    fs.FileMode
	Type    FileType
	// Hash is the hex BLAKE3 digest when the manifest carried one.
	Hash string
}

// ReferenceIndex maps relative paths to the reference snapshot's entries.
// It is built once per run and only read afterwards, so it is safe for
// concurrent use. A nil index has no entries.
type ReferenceIndex struct {
	root    string
	source  string
	dev     uint64
	entries map[string]RefEntry
}

// Lookup returns the reference entry for relPath.
func (ri *ReferenceIndex) Lookup(relPath string) (RefEntry, bool) {
	if ri == nil {
		return RefEntry{}, false
	}
	e, ok := ri.entries[relPath]
	return e, ok
}

// Len returns the number of indexed entries.
func (ri *ReferenceIndex) Len() int {
	if ri == nil {
		return 0
	}
	return len(ri.entries)
}

// Root returns the reference snapshot directory.
func (ri *ReferenceIndex) Root() string {
	if ri == nil {
		return ""
	}
	return ri.root
}

// Dev returns the device number of the reference root.
func (ri *ReferenceIndex) Dev() uint64 {
	if ri == nil {
		return 0
	}
	return ri.dev
}

// Source reports how the index was built.
func (ri *ReferenceIndex) Source() string {
	if ri == nil {
		return RefSourceNone
	}
	return ri.source
}

// LoadReference builds the index for the snapshot at root. A manifest
// sidecar beside the snapshot is preferred; without one, or when it cannot
// be read, the tree is walked. An error means the reference is unusable.
func LoadReference(ctx context.Context, root string, logger *slog.Logger) (*ReferenceIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reference %s: %w", root, ErrNotDirectory)
	}

	rootEntry := entryFromInfo(root, ".", info)
	mpath := manifest.PathFor(root)
	if _, err := os.Stat(mpath); err == nil {
		ri, err := loadFromManifest(root, mpath, info)
		if err == nil {
			logger.Debug("reference index loaded", "source", RefSourceManifest, "entries", ri.Len(), "manifest", mpath)
			return ri, nil
		}
		logger.Warn("reference manifest not usable, scanning reference tree", "manifest", mpath, "error", err)
	}

	ri, err := loadFromScan(ctx, root, logger)
	if err != nil {
		return nil, err
	}
	ri.dev = rootEntry.Dev
	logger.Debug("reference index loaded", "source", RefSourceScan, "entries", ri.Len())
	return ri, nil
}

// loadFromManifest reads the index from the sidecar at path. The manifest
// must carry the identity of the directory described by info; a sidecar
// left behind by a deleted snapshot of the same name describes other files.
func loadFromManifest(root, path string, info os.FileInfo) (*ReferenceIndex, error) {
	want, ok := identityOf(info)
	if !ok {
		return nil, fmt.Errorf("%w: no inode for %s", ErrStaleManifest, root)
	}

	store, err := manifest.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	got, err := store.Identity()
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: manifest is for %+v, %s is %+v", ErrStaleManifest, got, root, want)
	}

	ri := &ReferenceIndex{root: root, source: RefSourceManifest, dev: want.Dev, entries: make(map[string]RefEntry)}
	err = store.Records(func(r manifest.Record) error {
		rel := filepath.FromSlash(r.Path)
		ri.entries[rel] = RefEntry{
			RelPath: rel,
			AbsPath: filepath.Join(root, rel),
			ModTime: r.ModTime,
			Size:    r.Size,
			Mode:    r.Mode,
			Type:    typeFromManifest(r.Type),
			Hash:    r.Hash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ri, nil
}

func loadFromScan(ctx context.Context, root string, logger *slog.Logger) (*ReferenceIndex, error) {
	ri := &ReferenceIndex{root: root, source: RefSourceScan, entries: make(map[string]RefEntry)}

	entries, errs := NewScanner(ScannerConfig{Root: root}).Scan(ctx)

	var fatal error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errs {
			var fe *FatalSetupError
			if errors.As(err, &fe) {
				fatal = err
				continue
			}
			// An unreadable reference entry only costs a link.
			logger.Debug("reference entry unreadable", "error", err)
		}
	}()

	for e := range entries {
		ri.entries[e.RelPath] = RefEntry{
			RelPath: e.RelPath,
			AbsPath: e.AbsPath,
			ModTime: e.ModTime,
			Size:    e.Size,
			Mode:    e.Mode,
			Type:    e.Type,
		}
	}
	<-done

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ri, nil
}

// identityOf returns the manifest identity of the directory described by
// info.
func identityOf(info os.FileInfo) (manifest.Identity, bool) {
	ino, ok := platform.InodeOf(info)
	if !ok || ino.Ino == 0 {
		return manifest.Identity{}, false
	}
	return manifest.Identity{Dev: ino.Dev, Ino: ino.Ino, ChangeNs: ino.Ctime.UnixNano()}, true
}

func typeFromManifest(t string) FileType {
	switch t {
	case manifest.TypeFile:
		return Regular
	case manifest.TypeDir:
		return Dir
	case manifest.TypeSymlink:
		return Symlink
	default:
		return Other
	}
}

func typeToManifest(t FileType) string {
	switch t {
	case Regular:
		return manifest.TypeFile
	case Dir:
		return manifest.TypeDir
	case Symlink:
		return manifest.TypeSymlink
	default:
		return t.String()
	}
}
