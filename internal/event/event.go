package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	PhaseChanged Type = iota + 1
	ScanComplete
	FileLinked
	FileCopied
	FileFailed
	FileSkipped
	LinkFallback
	DirCreated
	SymlinkCreated
	Published
	VerifyStarted
	VerifyOK
	VerifyFailed
)

var typeNames = [...]string{
	PhaseChanged:   "PhaseChanged",
	ScanComplete:   "ScanComplete",
	FileLinked:     "FileLinked",
	FileCopied:     "FileCopied",
	FileFailed:     "FileFailed",
	FileSkipped:    "FileSkipped",
	LinkFallback:   "LinkFallback",
	DirCreated:     "DirCreated",
	SymlinkCreated: "SymlinkCreated",
	Published:      "Published",
	VerifyStarted:  "VerifyStarted",
	VerifyOK:       "VerifyOK",
	VerifyFailed:   "VerifyFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single progress notification from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // relative to the snapshot root
	Phase     string // PhaseChanged only
	Size      int64
	Total     int64 // entries enumerated (ScanComplete)
	TotalSize int64 // bytes enumerated (ScanComplete)
	Error     error
	WorkerID  int
}

// Emit sends e on ch without blocking. A nil channel drops the event.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case ch <- e:
	default:
	}
}
