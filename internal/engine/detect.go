package engine

import (
	"fmt"
	"time"
)

// CompareMode selects the signals used to decide that a file is unchanged.
type CompareMode int

const (
	// CompareMetadata trusts type, size and modification time. Cheap, and
	// sound as long as nothing but linkback writes into snapshots.
	CompareMetadata CompareMode = iota
	// CompareContent requires equal BLAKE3 digests. Reads every candidate.
	CompareContent
)

func (m CompareMode) String() string {
	switch m {
	case CompareMetadata:
		return "metadata"
	case CompareContent:
		return "content"
	default:
		return "unknown"
	}
}

// ParseCompareMode parses "metadata" or "content".
func ParseCompareMode(s string) (CompareMode, error) {
	switch s {
	case "", "metadata":
		return CompareMetadata, nil
	case "content":
		return CompareContent, nil
	default:
		return 0, fmt.Errorf("unknown compare mode %q (want metadata or content)", s)
	}
}

// DecisionKind is the tag of a Decision.
type DecisionKind int

const (
	DecisionCopy DecisionKind = iota
	DecisionLink
	DecisionSkip
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionCopy:
		return "copy"
	case DecisionLink:
		return "link"
	case DecisionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decision is the outcome of change detection for one entry.
type Decision struct {
	Kind DecisionKind
	// Path is the reference file for Link and the source file for Copy.
	Path   string
	Reason string
	// Hash is the source digest when content comparison computed it.
	Hash string
}

// Detector decides, per entry, whether the reference already holds an
// identical file. It only reads shared state and is safe for concurrent
// use.
type Detector struct {
	Index        *ReferenceIndex
	Mode         CompareMode
	ModifyWindow time.Duration

	// hashFile is swapped in tests.
	hashFile func(path string) (string, error)
}

// Decide returns the decision for e.
func (d *Detector) Decide(e FileEntry) Decision {
	switch e.Type {
	case Dir:
		return Decision{Kind: DecisionSkip, Reason: "directory"}
	case Symlink:
		return Decision{Kind: DecisionSkip, Reason: "symlink"}
	case Other:
		return Decision{Kind: DecisionSkip, Reason: "unsupported file type"}
	}

	copyOf := func(reason string) Decision {
		return Decision{Kind: DecisionCopy, Path: e.AbsPath, Reason: reason}
	}

	if d.Index == nil {
		return copyOf("no reference")
	}
	ref, ok := d.Index.Lookup(e.RelPath)
	if !ok {
		return copyOf("new file")
	}
	if ref.Type != e.Type {
		return copyOf("type changed")
	}
	if ref.Size != e.Size {
		return copyOf("size changed")
	}

	if d.Mode == CompareContent {
		return d.decideContent(e, ref)
	}
	if !d.sameModTime(e.ModTime, ref.ModTime) {
		return copyOf("mtime changed")
	}
	return Decision{Kind: DecisionLink, Path: ref.AbsPath, Reason: "unchanged"}
}

func (d *Detector) sameModTime(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.ModifyWindow
}

func (d *Detector) decideContent(e FileEntry, ref RefEntry) Decision {
	hash := d.hashFile
	if hash == nil {
		hash = HashFile
	}

	srcHash, err := hash(e.AbsPath)
	if err != nil {
		return Decision{Kind: DecisionCopy, Path: e.AbsPath, Reason: fmt.Sprintf("hash source: %v", err)}
	}

	refHash := ref.Hash
	if refHash == "" {
		refHash, err = hash(ref.AbsPath)
		if err != nil {
			return Decision{Kind: DecisionCopy, Path: e.AbsPath, Reason: fmt.Sprintf("hash reference: %v", err), Hash: srcHash}
		}
	}

	if srcHash != refHash {
		return Decision{Kind: DecisionCopy, Path: e.AbsPath, Reason: "content changed", Hash: srcHash}
	}
	return Decision{Kind: DecisionLink, Path: ref.AbsPath, Reason: "unchanged", Hash: srcHash}
}
