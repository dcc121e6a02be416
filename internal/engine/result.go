package engine

import (
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/manifest"
	"github.com/bamsammich/linkback/internal/stats"
)

// OutcomeKind is the terminal state of one entry.
type OutcomeKind int

const (
	OutcomeLinked OutcomeKind = iota
	OutcomeCopied
	OutcomeFailed
	OutcomeSkipped
	OutcomeDir
	OutcomeSymlink
)

// Outcome is what a worker reports for one entry.
type Outcome struct {
	Entry FileEntry
	Kind  OutcomeKind
	// Bytes is the file size for Linked and the bytes written for Copied.
	Bytes int64
	// Fallback marks a copy made because the planned link failed.
	Fallback       bool
	FallbackReason string
	Hash           string
	Reason         string
	Err            error
	WorkerID       int
}

// Failure is one entry that did not make it into the snapshot.
type Failure struct {
	Path string
	Kind ErrorKind
	Err  error
}

// RunResult is the aggregate outcome of a run.
type RunResult struct {
	Linked        int64
	Copied        int64
	Failed        int64
	Skipped       int64
	Ignored       int64
	Dirs          int64
	Symlinks      int64
	LinkFallbacks int64
	BytesCopied   int64
	BytesLinked   int64

	// Failures is sorted by path.
	Failures []Failure

	Phase    Phase
	Snapshot string // published path, empty if nothing was published
	Manifest string // published manifest path, empty if none
	// Reference is the reference root and RefSource how its index was built.
	Reference string
	RefSource string
	Elapsed   time.Duration

	// Err is set for fatal setup errors, publication failures and
	// cancellation. Per-entry failures never set it.
	Err error
}

// Published reports whether the snapshot became visible.
func (r RunResult) Published() bool {
	return r.Snapshot != ""
}

// OK reports whether the run published a snapshot with no failures.
func (r RunResult) OK() bool {
	return r.Err == nil && r.Failed == 0 && r.Published()
}

// accumulator is the single goroutine that mutates the RunResult. It also
// mirrors outcomes into the live stats, the event stream and the manifest.
type accumulator struct {
	res      *RunResult
	stats    *stats.Collector
	events   chan<- event.Event
	manifest *manifest.Store
	logger   *slog.Logger

	dirs []FileEntry
	// manifestFailed disables further manifest writes after the first error.
	manifestFailed bool
}

func (a *accumulator) run(outcomes <-chan Outcome) {
	for o := range outcomes {
		a.record(o)
	}
	sort.SliceStable(a.res.Failures, func(i, j int) bool {
		return a.res.Failures[i].Path < a.res.Failures[j].Path
	})
}

func (a *accumulator) record(o Outcome) {
	e := o.Entry
	base := event.Event{Path: e.RelPath, Size: o.Bytes, WorkerID: o.WorkerID}

	switch o.Kind {
	case OutcomeLinked:
		a.res.Linked++
		a.res.BytesLinked += o.Bytes
		a.stats.AddFilesLinked(1)
		a.stats.AddBytesLinked(o.Bytes)
		a.emit(base, event.FileLinked)
		a.put(e, true, o.Hash)

	case OutcomeCopied:
		a.res.Copied++
		a.res.BytesCopied += o.Bytes
		a.stats.AddFilesCopied(1)
		a.stats.AddBytesCopied(o.Bytes)
		if o.Fallback {
			a.res.LinkFallbacks++
			a.stats.AddLinkFallbacks(1)
			a.emit(event.Event{Path: e.RelPath, Error: o.Err, WorkerID: o.WorkerID}, event.LinkFallback)
			a.logger.Debug("link fell back to copy", "path", e.RelPath, "reason", o.FallbackReason)
		}
		a.emit(base, event.FileCopied)
		a.put(e, false, o.Hash)

	case OutcomeDir:
		a.res.Dirs++
		a.stats.AddDirsCreated(1)
		a.dirs = append(a.dirs, e)
		a.emit(base, event.DirCreated)
		a.put(e, false, "")

	case OutcomeSymlink:
		a.res.Symlinks++
		a.stats.AddSymlinksCreated(1)
		a.emit(base, event.SymlinkCreated)
		a.put(e, false, "")

	case OutcomeSkipped:
		a.res.Skipped++
		a.stats.AddFilesSkipped(1)
		a.emit(base, event.FileSkipped)
		a.logger.Debug("entry skipped", "path", e.RelPath, "reason", o.Reason)

	case OutcomeFailed:
		a.res.Failed++
		a.stats.AddFilesFailed(1)
		kind := KindOf(o.Err)
		a.res.Failures = append(a.res.Failures, Failure{Path: e.RelPath, Kind: kind, Err: o.Err})
		a.emit(event.Event{Path: e.RelPath, Error: o.Err, WorkerID: o.WorkerID}, event.FileFailed)
		a.logger.Warn("entry failed", "path", e.RelPath, "kind", kind.String(), "error", o.Err)
	}
}

func (a *accumulator) emit(e event.Event, t event.Type) {
	e.Type = t
	event.Emit(a.events, e)
}

func (a *accumulator) put(e FileEntry, linked bool, hash string) {
	if a.manifest == nil || a.manifestFailed {
		return
	}
	err := a.manifest.Put(manifest.Record{
		Path:    filepath.ToSlash(e.RelPath),
		Type:    typeToManifest(e.Type),
		Size:    e.Size,
		ModTime: e.ModTime,
		Mode:    e.Mode,
		Linked:  linked,
		Hash:    hash,
	})
	if err != nil {
		a.manifestFailed = true
		a.logger.Warn("manifest write failed, manifest disabled", "error", err)
	}
}
