package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/stats"
)

const plainProgressInterval = 5 * time.Second

// plainPresenter writes one line per notable entry to stdout and periodic
// progress to stderr. Linked files are only listed when verbose.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(plainProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.FileCopied:
		if p.verbose {
			fmt.Fprintf(p.w, "copy  %s  %s\n", ev.Path, FormatBytes(ev.Size))
		}
	case event.FileLinked:
		if p.verbose {
			fmt.Fprintf(p.w, "link  %s\n", ev.Path)
		}
	case event.LinkFallback:
		if p.verbose {
			fmt.Fprintf(p.w, "fallback  %s  %s\n", ev.Path, errText(ev.Error))
		}
	case event.FileFailed:
		fmt.Fprintf(p.w, "FAILED  %s  %s\n", ev.Path, errText(ev.Error))
	case event.FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "skip  %s\n", ev.Path)
		}
	case event.Published:
		fmt.Fprintf(p.w, "published %s\n", ev.Path)
	case event.VerifyStarted:
		fmt.Fprintln(p.w, "verifying...")
	case event.VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH  %s\n", ev.Path)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.EntriesTotal > 0 {
		pct := float64(snap.Processed()) / float64(snap.EntriesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s entries  linked %s  copied %s (%s)  %s\n",
			pct,
			FormatCount(snap.Processed()), FormatCount(snap.EntriesTotal),
			FormatCount(snap.FilesLinked), FormatCount(snap.FilesCopied),
			FormatBytes(snap.BytesCopied),
			FormatRate(p.stats.RollingSpeed(5)),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s entries  linked %s  copied %s (%s)\n",
		FormatCount(snap.Processed()),
		FormatCount(snap.FilesLinked), FormatCount(snap.FilesCopied),
		FormatBytes(snap.BytesCopied),
	)
}

func errText(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}
