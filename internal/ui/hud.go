package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/bamsammich/linkback/internal/event"
	"github.com/bamsammich/linkback/internal/stats"
)

const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

const (
	// Feed lines stop above rateEnter files/s and resume below rateLeave.
	rateEnter = 200.0
	rateLeave = 100.0

	sparklineWidth   = 20
	progressBarWidth = 20
	redrawEvery      = 100 * time.Millisecond
	redrawMinGap     = 50 * time.Millisecond
)

// hudPresenter prints copied and failed entries as a scrolling feed above a
// status block that is redrawn in place. Linked files are the common case
// and stay out of the feed unless verbose.
type hudPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	verbose bool

	// shown is the height of the status block on screen; zero when cleared.
	shown     int
	lastDraw  time.Time
	rateMode  bool
	rateNoted bool
}

func (p *hudPresenter) Run(events <-chan event.Event) error {
	// The first sample lands early so the sparkline has data, then once a second.
	sample := time.NewTicker(250 * time.Millisecond)
	defer sample.Stop()
	seeded := false

	redraw := time.NewTicker(redrawEvery)
	defer redraw.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			if time.Since(p.lastDraw) >= redrawMinGap {
				p.drawHUD()
			}
		case <-redraw.C:
			p.updateRateMode()
			p.drawHUD()
		case <-sample.C:
			p.stats.Tick()
			if !seeded {
				seeded = true
				sample.Reset(time.Second)
			}
		}
	}
}

func (p *hudPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.FileCopied:
		p.feed(fmt.Sprintf("+  %s  %10s", styledPath(ev.Path), FormatBytes(ev.Size)))
	case event.FileLinked:
		if p.verbose {
			p.feed(fmt.Sprintf("=  %s  %10s  %slinked%s", styledPath(ev.Path), FormatBytes(ev.Size), ansiDim, ansiReset))
		}
	case event.FileSkipped:
		if p.verbose {
			p.feed(fmt.Sprintf("–  %s  %sskipped%s", styledPath(ev.Path), ansiDim, ansiReset))
		}
	case event.FileFailed:
		p.announce(fmt.Sprintf("✗  %s  %s", styledPath(ev.Path), errText(ev.Error)), true)
	case event.VerifyFailed:
		p.announce(fmt.Sprintf("✗  %s  CHECKSUM MISMATCH", styledPath(ev.Path)), true)
	case event.Published:
		p.announce("✓  published "+ev.Path, false)
	case event.VerifyStarted:
		p.announce(ansiDim+"verifying checksums..."+ansiReset, false)
	}
}

// feed prints a routine line above the status block; rate mode drops it.
func (p *hudPresenter) feed(line string) {
	if p.rateMode {
		return
	}
	p.announce(line, true)
}

// announce prints line above the status block regardless of rate mode.
func (p *hudPresenter) announce(line string, redraw bool) {
	p.clearHUD()
	fmt.Fprintln(p.w, line)
	if redraw {
		p.drawHUD()
	}
}

func (p *hudPresenter) updateRateMode() {
	fps := p.stats.RollingFilesPerSec(2)
	switch {
	case !p.rateMode && fps > rateEnter:
		p.rateMode = true
		if !p.rateNoted {
			p.rateNoted = true
			p.announce(fmt.Sprintf("↯ rate view (%s files/s)", FormatCount(int64(fps))), false)
		}
	case p.rateMode && fps < rateLeave:
		p.rateMode = false
	}
}

// statusLines renders the status block: an optional rate line, throughput
// with the copied/linked byte split, and entry progress.
func (p *hudPresenter) statusLines() []string {
	snap := p.stats.Snapshot()
	done, total := snap.Processed(), snap.EntriesTotal
	var frac float64
	if total > 0 {
		frac = float64(done) / float64(total)
	}

	var lines []string
	if p.rateMode {
		lines = append(lines, fmt.Sprintf("%s files/s   %s / %s done",
			FormatCount(int64(p.stats.RollingFilesPerSec(5))), FormatCount(done), FormatCount(total)))
	}
	lines = append(lines,
		fmt.Sprintf("       %s   %s   copied %s   linked %s",
			Sparkline(p.stats.SparklineData(sparklineWidth), sparklineWidth),
			FormatRate(p.stats.RollingSpeed(10)),
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesLinked)),
		fmt.Sprintf(" %3.0f%%  %s   %s / %s entries   eta %s",
			frac*100, ProgressBar(frac, progressBarWidth),
			FormatCount(done), FormatCount(total), FormatETA(p.stats.ETA())),
	)
	return lines
}

func (p *hudPresenter) drawHUD() {
	p.clearHUD()
	lines := p.statusLines()
	io.WriteString(p.w, strings.Join(lines, "\n")+"\n")
	p.shown = len(lines)
	p.lastDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if p.shown == 0 {
		return
	}
	// Move up over the block and erase to the end of the screen.
	fmt.Fprintf(p.w, "\033[%dA\033[J", p.shown)
	p.shown = 0
}

// styledPath dims the directory part so the file name stands out.
func styledPath(path string) string {
	dir, base := filepath.Split(path)
	if dir == "" {
		return base
	}
	return ansiDim + dir + ansiReset + base
}
