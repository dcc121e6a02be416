package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/ignore"
	"github.com/bamsammich/linkback/internal/manifest"
	"github.com/bamsammich/linkback/internal/platform"
	"github.com/bamsammich/linkback/internal/stats"
)

const (
	stagingSuffix = ".linkback-staging"
	maxWorkers    = 32
)

// Phase is the coordinator's state.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseWalking
	PhaseProcessing
	PhasePublishing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseWalking:
		return "walking"
	case PhaseProcessing:
		return "processing"
	case PhasePublishing:
		return "publishing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config describes a snapshot run.
type Config struct {
	Source      string
	Destination string
	// Reference is an earlier snapshot to deduplicate against. Optional.
	Reference string

	Workers      int
	Compare      CompareMode
	ModifyWindow time.Duration
	// BWLimit caps copy throughput in bytes per second. Zero is unlimited.
	BWLimit int64
	Ignore  *ignore.Rules
	// Manifest writes a sidecar manifest beside the published snapshot.
	Manifest      bool
	PreserveOwner bool

	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger

	// publishHook runs after the staging tree is complete and before it is
	// published. Tests use it to inject cancellation at the last moment.
	publishHook func(staging string)
}

// DefaultWorkers returns the default worker pool size.
func DefaultWorkers() int {
	return min(runtime.NumCPU()*2, maxWorkers)
}

// Run produces the snapshot described by cfg, blocking until it is
// published or the run fails. Per-entry failures are reported in the
// result and do not stop the run; setup failures, cancellation and a
// failed publication set Err and leave no snapshot at cfg.Destination.
func Run(ctx context.Context, cfg Config) RunResult {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &run{cfg: cfg, logger: cfg.Logger}
	start := time.Now()
	res := r.execute(ctx)
	res.Elapsed = time.Since(start)
	res.Phase = r.phase
	return res
}

type run struct {
	cfg    Config
	logger *slog.Logger
	phase  Phase

	src     string // absolute, symlinks resolved
	dst     string // absolute
	parent  string
	staging string

	rootEntry FileEntry
	dirs      []FileEntry
	index     *ReferenceIndex
	store     *manifest.Store
	writer    *Writer
}

func (r *run) setPhase(p Phase) {
	r.phase = p
	r.logger.Debug("phase", "phase", p.String())
	event.Emit(r.cfg.Events, event.Event{Type: event.PhaseChanged, Phase: p.String()})
}

func (r *run) fail(res RunResult, err error) RunResult {
	res.Err = err
	r.setPhase(PhaseFailed)
	return res
}

func (r *run) execute(ctx context.Context) RunResult {
	var res RunResult
	r.setPhase(PhaseInitializing)

	if err := r.validate(); err != nil {
		return r.fail(res, err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(res, fmt.Errorf("run interrupted: %w", err))
	}
	r.removeStaleStaging()
	r.removeOrphanManifest()

	if r.cfg.Reference != "" {
		r.loadReference(ctx)
	}
	res.Reference = r.index.Root()
	res.RefSource = r.index.Source()

	r.staging = filepath.Join(r.parent,
		fmt.Sprintf(".%s.%s%s", filepath.Base(r.dst), uuid.New().String()[:8], stagingSuffix))
	if err := os.Mkdir(r.staging, 0o700); err != nil {
		return r.fail(res, &FatalSetupError{Op: "create staging directory", Path: r.staging, Err: err})
	}
	r.logger.Debug("staging created", "path", r.staging)

	if r.cfg.Manifest {
		r.openManifest()
	}

	r.writer = NewWriter(WriterConfig{
		StagingRoot:   r.staging,
		PreserveOwner: r.cfg.PreserveOwner,
		Limiter:       NewBWLimiter(r.cfg.BWLimit),
		HashCopies:    r.store != nil && r.cfg.Compare == CompareContent,
		Logger:        r.logger,
	})
	defer r.writer.Cleanup()

	res, fatal := r.process(ctx, res)
	if fatal != nil {
		r.discard()
		return r.fail(res, fatal)
	}
	if err := ctx.Err(); err != nil {
		r.discard()
		return r.fail(res, fmt.Errorf("run interrupted: %w", err))
	}

	if r.cfg.publishHook != nil {
		r.cfg.publishHook(r.staging)
	}
	if err := ctx.Err(); err != nil {
		r.discard()
		return r.fail(res, fmt.Errorf("run interrupted: %w", err))
	}

	r.setPhase(PhasePublishing)
	if err := r.writer.FinalizeDirs(append(r.dirs, r.rootEntry)); err != nil {
		r.logger.Warn("directory metadata not fully applied", "error", err)
	}
	if err := platform.RenameNoReplace(r.staging, r.dst); err != nil {
		r.closeManifest()
		return r.fail(res, &PublishError{Staging: r.staging, Dest: r.dst, Err: err})
	}
	res.Snapshot = r.dst
	r.logger.Info("snapshot published", "path", r.dst)
	event.Emit(r.cfg.Events, event.Event{Type: event.Published, Path: r.dst})

	res.Manifest = r.publishManifest()
	r.setPhase(PhaseDone)
	return res
}

// validate resolves the roots and rejects configurations that cannot
// produce a snapshot.
func (r *run) validate() error {
	src, err := filepath.Abs(r.cfg.Source)
	if err != nil {
		return &FatalSetupError{Op: "resolve source", Path: r.cfg.Source, Err: err}
	}
	info, err := os.Stat(src)
	if err != nil {
		return &FatalSetupError{Op: "stat source", Path: src, Err: err}
	}
	if !info.IsDir() {
		return &FatalSetupError{Op: "check source", Path: src, Err: ErrNotDirectory}
	}
	if err := checkReadable(src); err != nil {
		return &FatalSetupError{Op: "read source", Path: src, Err: err}
	}
	if real, err := filepath.EvalSymlinks(src); err == nil {
		src = real
	}
	r.src = src
	r.rootEntry = entryFromInfo(src, ".", info)

	dst, err := filepath.Abs(r.cfg.Destination)
	if err != nil {
		return &FatalSetupError{Op: "resolve destination", Path: r.cfg.Destination, Err: err}
	}
	if _, err := os.Lstat(dst); err == nil {
		return &FatalSetupError{Op: "check destination", Path: dst, Err: ErrDestinationExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &FatalSetupError{Op: "check destination", Path: dst, Err: err}
	}

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return &FatalSetupError{Op: "create destination parent", Path: parent, Err: err}
	}
	if real, err := filepath.EvalSymlinks(parent); err == nil {
		parent = real
	}
	r.parent = parent
	r.dst = filepath.Join(parent, filepath.Base(dst))

	if within(r.dst, r.src) || within(r.src, r.dst) {
		return &FatalSetupError{Op: "check destination", Path: r.dst, Err: ErrNestedRoots}
	}
	return nil
}

func checkReadable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// within reports whether path is base or lies below it.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// removeStaleStaging deletes staging trees and sidecars left by earlier
// interrupted runs for the same destination name.
func (r *run) removeStaleStaging() {
	pattern := filepath.Join(r.parent, "."+globEscape(filepath.Base(r.dst))+".*"+stagingSuffix)
	for _, glob := range []string{pattern, pattern + ".db"} {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		for _, m := range matches {
			r.logger.Info("removing stale staging", "path", m)
			if err := removeTree(m); err != nil {
				r.logger.Warn("stale staging not removed", "path", m, "error", err)
			}
		}
	}
}

// removeOrphanManifest deletes a sidecar left beside the destination by a
// snapshot that no longer exists. validate has shown the destination is
// absent, so any manifest for that name describes other files. If it
// cannot be removed, its identity no longer matches and readers skip it.
func (r *run) removeOrphanManifest() {
	path := manifest.PathFor(r.dst)
	switch err := os.Remove(path); {
	case err == nil:
		r.logger.Info("removed manifest of a deleted snapshot", "path", path)
	case !errors.Is(err, fs.ErrNotExist):
		r.logger.Warn("orphaned manifest not removed", "path", path, "error", err)
	}
}

func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *run) loadReference(ctx context.Context) {
	idx, err := LoadReference(ctx, r.cfg.Reference, r.logger)
	if err != nil {
		r.logger.Warn("reference unavailable, making a full copy", "reference", r.cfg.Reference, "error", err)
		return
	}
	r.index = idx

	if pinfo, err := os.Stat(r.parent); err == nil {
		if pdev := entryFromInfo(r.parent, ".", pinfo).Dev; pdev != idx.Dev() {
			r.logger.Warn("reference is on a different filesystem, unchanged files will be copied",
				"reference", idx.Root(), "destination", r.dst)
		}
	}
}

func (r *run) openManifest() {
	store, err := manifest.Create(r.staging + ".db")
	if err != nil {
		r.logger.Warn("manifest disabled", "error", err)
		return
	}
	meta := map[string]string{
		manifest.MetaSource:    r.src,
		manifest.MetaReference: r.index.Root(),
		manifest.MetaCompare:   r.cfg.Compare.String(),
		manifest.MetaStarted:   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if err := store.SetMeta(k, v); err != nil {
			r.logger.Warn("manifest disabled", "error", err)
			store.Close()
			_ = store.Remove()
			return
		}
	}
	r.store = store
}

func (r *run) closeManifest() {
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("manifest close failed", "error", err)
	}
}

// publishManifest moves the staging sidecar beside the published snapshot
// and returns its final path, or "" when there is none.
func (r *run) publishManifest() string {
	if r.store == nil {
		return ""
	}
	_ = r.store.SetMeta(manifest.MetaFinished, time.Now().UTC().Format(time.RFC3339))
	if err := r.stampIdentity(); err != nil {
		r.logger.Warn("manifest not bound to snapshot, discarded", "error", err)
		_ = r.store.Close()
		_ = r.store.Remove()
		return ""
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("manifest incomplete, discarded", "error", err)
		_ = r.store.Remove()
		return ""
	}
	final := manifest.PathFor(r.dst)
	if err := platform.RenameNoReplace(r.store.Path(), final); err != nil {
		r.logger.Warn("manifest not published", "path", final, "error", err)
		_ = r.store.Remove()
		return ""
	}
	return final
}

// stampIdentity records the published directory's device and inode so a
// later run can tell this manifest from one left by a deleted snapshot.
func (r *run) stampIdentity() error {
	info, err := os.Lstat(r.dst)
	if err != nil {
		return err
	}
	id, ok := identityOf(info)
	if !ok {
		return fmt.Errorf("no inode for %s", r.dst)
	}
	return r.store.SetIdentity(id)
}

// discard removes the staging tree and its sidecar after a failed or
// interrupted run.
func (r *run) discard() {
	r.writer.Cleanup()
	if r.store != nil {
		_ = r.store.Close()
		_ = r.store.Remove()
	}
	if err := removeTree(r.staging); err != nil {
		r.logger.Warn("staging not removed", "path", r.staging, "error", err)
	}
}

// removeTree is os.RemoveAll that first makes read-only directories
// writable so their contents can be unlinked.
func removeTree(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(path)
}

// process runs the scan, worker pool and accumulator to completion. It
// returns the accumulated result and a fatal error if the scan could not
// read the source root.
func (r *run) process(ctx context.Context, res RunResult) (RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.setPhase(PhaseWalking)
	scanner := NewScanner(ScannerConfig{
		Root:   r.src,
		Ignore: r.cfg.Ignore,
		Buffer: r.cfg.Workers * 4,
	})
	entries, scanErrs := scanner.Scan(runCtx)

	detector := &Detector{Index: r.index, Mode: r.cfg.Compare, ModifyWindow: r.cfg.ModifyWindow}
	gate := newDirGate()
	tasks := make(chan FileEntry, r.cfg.Workers*2)
	outcomes := make(chan Outcome, r.cfg.Workers*4)

	acc := &accumulator{
		res:      &res,
		stats:    r.cfg.Stats,
		events:   r.cfg.Events,
		manifest: r.store,
		logger:   r.logger,
	}
	accDone := make(chan struct{})
	go func() {
		defer close(accDone)
		acc.run(outcomes)
	}()

	var (
		producers sync.WaitGroup
		fatalMu   sync.Mutex
		fatal     error
	)

	producers.Add(1)
	go func() {
		defer producers.Done()
		for err := range scanErrs {
			if KindOf(err) == KindFatalSetup {
				fatalMu.Lock()
				fatal = err
				fatalMu.Unlock()
				cancel()
				continue
			}
			outcomes <- Outcome{Entry: FileEntry{RelPath: pathOf(err)}, Kind: OutcomeFailed, Err: err}
		}
	}()

	for id := range r.cfg.Workers {
		producers.Add(1)
		go func() {
			defer producers.Done()
			for e := range tasks {
				if runCtx.Err() != nil {
					// Keep draining so the dispatcher never blocks; the
					// dir gate for undispatched work is irrelevant now.
					continue
				}
				o := r.handle(runCtx, id, detector, gate, e)
				if runCtx.Err() != nil {
					continue
				}
				outcomes <- o
			}
		}()
	}

	var total, totalBytes int64
dispatch:
	for e := range entries {
		if e.Type == Dir {
			gate.expect(e.RelPath)
		}
		total++
		totalBytes += e.Size
		r.cfg.Stats.SetTotals(total, totalBytes)

		select {
		case tasks <- e:
		case <-runCtx.Done():
			break dispatch
		}
	}
	for range entries {
		// Drain after cancellation so the scanner can exit.
	}
	close(tasks)

	if runCtx.Err() == nil {
		event.Emit(r.cfg.Events, event.Event{Type: event.ScanComplete, Total: total, TotalSize: totalBytes})
		r.logger.Debug("scan complete", "entries", total, "bytes", totalBytes, "ignored", scanner.Ignored())
		r.setPhase(PhaseProcessing)
	}

	producers.Wait()
	close(outcomes)
	<-accDone

	r.dirs = acc.dirs
	res.Ignored = scanner.Ignored()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return res, fatal
}

// handle realises one entry. Every path through it resolves the entry's
// dir gate when the entry is a directory.
func (r *run) handle(ctx context.Context, id int, d *Detector, gate *dirGate, e FileEntry) Outcome {
	out := Outcome{Entry: e, WorkerID: id}

	if err := gate.wait(ctx, parentRel(e.RelPath)); err != nil {
		if e.Type == Dir {
			gate.resolve(e.RelPath, err)
		}
		out.Kind = OutcomeFailed
		out.Err = &CopyError{Path: e.RelPath, Err: err}
		return out
	}

	dec := d.Decide(e)
	switch dec.Kind {
	case DecisionSkip:
		return r.handleStructural(e, gate, out, dec)

	case DecisionLink:
		err := r.writer.Link(e, dec.Path)
		if err == nil {
			out.Kind = OutcomeLinked
			out.Bytes = e.Size
			out.Hash = dec.Hash
			return out
		}
		out.Fallback = true
		out.Err = err
		var le *LinkError
		if errors.As(err, &le) {
			out.FallbackReason = le.Reason()
		}
	}

	st, err := r.writer.Copy(ctx, e)
	if err != nil {
		out.Kind = OutcomeFailed
		out.Err = err
		out.Fallback = false
		return out
	}
	out.Kind = OutcomeCopied
	out.Bytes = st.Bytes
	out.Hash = st.Hash
	if out.Hash == "" {
		out.Hash = dec.Hash
	}
	return out
}

func (r *run) handleStructural(e FileEntry, gate *dirGate, out Outcome, dec Decision) Outcome {
	switch e.Type {
	case Dir:
		err := r.writer.Mkdir(e)
		gate.resolve(e.RelPath, err)
		if err != nil {
			out.Kind = OutcomeFailed
			out.Err = err
			return out
		}
		out.Kind = OutcomeDir
	case Symlink:
		if err := r.writer.Symlink(e); err != nil {
			out.Kind = OutcomeFailed
			out.Err = err
			return out
		}
		out.Kind = OutcomeSymlink
	default:
		out.Kind = OutcomeSkipped
		out.Reason = dec.Reason
	}
	return out
}
