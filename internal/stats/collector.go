package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks live backup progress with lock-free counters. The engine's
// accumulator is the only writer of the outcome counters; presenters read.
type Collector struct {
	startTime time.Time

	entriesTotal    atomic.Int64
	bytesTotal      atomic.Int64
	filesLinked     atomic.Int64
	filesCopied     atomic.Int64
	filesFailed     atomic.Int64
	filesSkipped    atomic.Int64
	dirsCreated     atomic.Int64
	symlinksCreated atomic.Int64
	linkFallbacks   atomic.Int64
	bytesCopied     atomic.Int64
	bytesLinked     atomic.Int64
	filesVerified   atomic.Int64
	verifyFailed    atomic.Int64

	// Per-second samples, written only by Tick.
	mu        sync.Mutex
	copyRate  window
	fileRate  window
	lastBytes int64
	lastFiles int64
}

// NewCollector creates a Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesTotal    int64
	BytesTotal      int64
	FilesLinked     int64
	FilesCopied     int64
	FilesFailed     int64
	FilesSkipped    int64
	DirsCreated     int64
	SymlinksCreated int64
	LinkFallbacks   int64
	BytesCopied     int64
	BytesLinked     int64
	FilesVerified   int64
	VerifyFailed    int64
	Elapsed         time.Duration
}

// SetTotals records enumeration totals once the walk completes.
func (c *Collector) SetTotals(entries, bytes int64) {
	c.entriesTotal.Store(entries)
	c.bytesTotal.Store(bytes)
}

func (c *Collector) AddFilesLinked(n int64)     { c.filesLinked.Add(n) }
func (c *Collector) AddFilesCopied(n int64)     { c.filesCopied.Add(n) }
func (c *Collector) AddFilesFailed(n int64)     { c.filesFailed.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)    { c.filesSkipped.Add(n) }
func (c *Collector) AddDirsCreated(n int64)     { c.dirsCreated.Add(n) }
func (c *Collector) AddSymlinksCreated(n int64) { c.symlinksCreated.Add(n) }
func (c *Collector) AddLinkFallbacks(n int64)   { c.linkFallbacks.Add(n) }
func (c *Collector) AddBytesCopied(n int64)     { c.bytesCopied.Add(n) }
func (c *Collector) AddBytesLinked(n int64)     { c.bytesLinked.Add(n) }
func (c *Collector) AddFilesVerified(n int64)   { c.filesVerified.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)    { c.verifyFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesTotal:    c.entriesTotal.Load(),
		BytesTotal:      c.bytesTotal.Load(),
		FilesLinked:     c.filesLinked.Load(),
		FilesCopied:     c.filesCopied.Load(),
		FilesFailed:     c.filesFailed.Load(),
		FilesSkipped:    c.filesSkipped.Load(),
		DirsCreated:     c.dirsCreated.Load(),
		SymlinksCreated: c.symlinksCreated.Load(),
		LinkFallbacks:   c.linkFallbacks.Load(),
		BytesCopied:     c.bytesCopied.Load(),
		BytesLinked:     c.bytesLinked.Load(),
		FilesVerified:   c.filesVerified.Load(),
		VerifyFailed:    c.verifyFailed.Load(),
		Elapsed:         c.Elapsed(),
	}
}

// Processed is the number of entries that reached a terminal outcome.
func (s Snapshot) Processed() int64 {
	return s.FilesLinked + s.FilesCopied + s.FilesFailed + s.FilesSkipped +
		s.DirsCreated + s.SymlinksCreated
}

// BytesDone counts linked bytes as done: they cost no I/O but were backed up.
func (s Snapshot) BytesDone() int64 {
	return s.BytesCopied + s.BytesLinked
}

// Tick records the copied bytes and finished files since the previous
// call. Presenters call it once a second.
func (c *Collector) Tick() {
	bytes := c.bytesCopied.Load()
	files := c.filesCopied.Load() + c.filesLinked.Load()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.copyRate.push(bytes - c.lastBytes)
	c.fileRate.push(files - c.lastFiles)
	c.lastBytes, c.lastFiles = bytes, files
}

// RollingSpeed is the mean copied bytes/sec over the last n ticks.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyRate.mean(n)
}

// RollingFilesPerSec is the mean linked plus copied files/sec over the
// last n ticks.
func (c *Collector) RollingFilesPerSec(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileRate.mean(n)
}

// SparklineData returns up to n copy throughput samples, oldest first.
func (c *Collector) SparklineData(n int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyRate.recent(n)
}

// ETA estimates the remaining time from the rolling copy speed. Linked
// bytes are treated as free.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesCopied.Load() - c.bytesLinked.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"linked=%d copied=%d failed=%d skipped=%d dirs=%d symlinks=%d fallbacks=%d bytes=%d",
		s.FilesLinked, s.FilesCopied, s.FilesFailed, s.FilesSkipped,
		s.DirsCreated, s.SymlinksCreated, s.LinkFallbacks, s.BytesCopied,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
