package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/stats"
)

// VerifyConfig controls the post-publication verification pass.
type VerifyConfig struct {
	SourceRoot   string
	SnapshotRoot string
	Workers      int
	Events       chan<- event.Event
	Stats        *stats.Collector
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Verified int64
	Failed   int64
	// Errors is sorted by path.
	Errors []VerifyError
}

// VerifyError records a single checksum mismatch or unreadable file.
type VerifyError struct {
	Path    string
	SrcHash string
	DstHash string
	Err     error
}

// Verify compares the BLAKE3 digest of every regular file in the snapshot
// against the same path in the source. Files since removed from the source
// are not checked. It catches heuristic misses: content that changed while
// size and modification time stayed put.
func Verify(ctx context.Context, cfg VerifyConfig) VerifyResult {
	event.Emit(cfg.Events, event.Event{Type: event.VerifyStarted})

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	paths := make(chan string, workers*2)
	go func() {
		defer close(paths)
		walkVerifiable(ctx, cfg.SnapshotRoot, cfg.SourceRoot, func(rel string) bool {
			select {
			case paths <- rel:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	var (
		mu  sync.Mutex
		res VerifyResult
		wg  sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range paths {
				if ctx.Err() != nil {
					continue
				}
				ve := verifyOne(cfg.SourceRoot, cfg.SnapshotRoot, rel)

				mu.Lock()
				if ve == nil {
					res.Verified++
				} else {
					res.Failed++
					res.Errors = append(res.Errors, *ve)
				}
				mu.Unlock()

				if ve == nil {
					if cfg.Stats != nil {
						cfg.Stats.AddFilesVerified(1)
					}
					event.Emit(cfg.Events, event.Event{Type: event.VerifyOK, Path: rel})
					continue
				}
				if cfg.Stats != nil {
					cfg.Stats.AddVerifyFailed(1)
				}
				event.Emit(cfg.Events, event.Event{Type: event.VerifyFailed, Path: rel, Error: ve.Err})
			}
		}()
	}
	wg.Wait()

	slices.SortFunc(res.Errors, func(a, b VerifyError) int { return strings.Compare(a.Path, b.Path) })
	return res
}

// verifyOne hashes rel on both sides; nil means the digests agree.
func verifyOne(srcRoot, snapRoot, rel string) *VerifyError {
	srcHash, err := HashFile(filepath.Join(srcRoot, rel))
	if err != nil {
		return &VerifyError{Path: rel, Err: err}
	}
	dstHash, err := HashFile(filepath.Join(snapRoot, rel))
	if err != nil {
		return &VerifyError{Path: rel, SrcHash: srcHash, Err: err}
	}
	if srcHash != dstHash {
		return &VerifyError{Path: rel, SrcHash: srcHash, DstHash: dstHash}
	}
	return nil
}

// walkVerifiable calls yield with the relative path of each regular file in
// the snapshot that still exists in the source, stopping when yield returns
// false. Unreadable snapshot directories are passed over.
func walkVerifiable(ctx context.Context, snapRoot, srcRoot string, yield func(rel string) bool) {
	_ = filepath.WalkDir(snapRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(snapRoot, path)
		if err != nil {
			return nil
		}
		if _, err := os.Lstat(filepath.Join(srcRoot, rel)); err != nil {
			return nil
		}
		if !yield(rel) {
			return filepath.SkipAll
		}
		return nil
	})
}
