package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/linkback/internal/engine"
)

// maxListedFailures bounds each listing in a truncated summary.
const maxListedFailures = 20

var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorRed    = lipgloss.Color("#f38ba8")
	colorMuted  = lipgloss.Color("#5a6278")
	colorMauve  = lipgloss.Color("#cba6f7")

	styleOK    = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	styleWarn  = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	styleFail  = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	styleLabel = lipgloss.NewStyle().Foreground(colorMauve)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
)

// summaryStyle renders through lipgloss when colour is on and passes text
// through unchanged otherwise.
type summaryStyle struct{ color bool }

func (s summaryStyle) render(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

// SummaryOptions controls how Summary renders.
type SummaryOptions struct {
	Color bool
	// Truncate caps the failure listing for an interactive terminal. Off,
	// every failed entry is listed.
	Truncate bool
}

// Summary renders the end-of-run report. vr is nil when no verify pass ran.
// A run that failed outright renders as its single error line.
func Summary(res engine.RunResult, vr *engine.VerifyResult, opts SummaryOptions) string {
	s := summaryStyle{color: opts.Color}
	if res.Err != nil {
		return fmt.Sprintf("%s  %v\n", s.render(styleFail, "failed ✗"), res.Err)
	}

	var b strings.Builder
	switch {
	case !res.OK() || (vr != nil && vr.Failed > 0):
		fmt.Fprintf(&b, "%s  %s\n", s.render(styleWarn, "done with errors ✗"), res.Snapshot)
	default:
		fmt.Fprintf(&b, "%s  %s\n", s.render(styleOK, "done ✓"), res.Snapshot)
	}

	label := func(l string) string { return s.render(styleLabel, fmt.Sprintf("%-9s", l)) }

	if res.Reference != "" {
		fmt.Fprintf(&b, "%s %s %s\n", label("reference"), res.Reference,
			s.render(styleMuted, "("+res.RefSource+")"))
	}
	fmt.Fprintf(&b, "%s %s files  %s\n", label("linked"), FormatCount(res.Linked), FormatBytes(res.BytesLinked))

	copied := fmt.Sprintf("%s %s files  %s", label("copied"), FormatCount(res.Copied), FormatBytes(res.BytesCopied))
	if res.LinkFallbacks > 0 {
		copied += s.render(styleMuted, fmt.Sprintf("  (%s link fallbacks)", FormatCount(res.LinkFallbacks)))
	}
	b.WriteString(copied + "\n")

	if total := res.BytesLinked + res.BytesCopied; total > 0 && res.BytesLinked > 0 {
		fmt.Fprintf(&b, "%s %s (%.0f%%)\n", label("saved"), FormatBytes(res.BytesLinked),
			float64(res.BytesLinked)/float64(total)*100)
	}
	fmt.Fprintf(&b, "%s %s dirs  %s symlinks  %s skipped  %s ignored\n", label("other"),
		FormatCount(res.Dirs), FormatCount(res.Symlinks),
		FormatCount(res.Skipped), FormatCount(res.Ignored))

	if res.Failed > 0 {
		fmt.Fprintf(&b, "%s %s\n", label("failed"), s.render(styleFail, FormatCount(res.Failed)))
		writeFailures(&b, s, res.Failures, opts.Truncate)
	}

	if vr != nil {
		line := fmt.Sprintf("%s %s files", label("verified"), FormatCount(vr.Verified))
		if vr.Failed > 0 {
			line += "  " + s.render(styleFail, FormatCount(vr.Failed)+" mismatched")
		}
		b.WriteString(line + "\n")
		for i, ve := range vr.Errors {
			if opts.Truncate && i == maxListedFailures {
				fmt.Fprintf(&b, "  ... and %d more\n", len(vr.Errors)-i)
				break
			}
			if ve.Err != nil {
				fmt.Fprintf(&b, "  %s  %v\n", ve.Path, ve.Err)
			} else {
				fmt.Fprintf(&b, "  %s  checksum mismatch\n", ve.Path)
			}
		}
	}

	fmt.Fprintf(&b, "%s %s\n", label("time"), FormatDuration(res.Elapsed))
	return b.String()
}

func writeFailures(b *strings.Builder, s summaryStyle, failures []engine.Failure, truncate bool) {
	for i, f := range failures {
		if truncate && i == maxListedFailures {
			fmt.Fprintf(b, "  ... and %d more\n", len(failures)-i)
			return
		}
		fmt.Fprintf(b, "  %s  %s  %v\n", s.render(styleMuted, fmt.Sprintf("%-8s", f.Kind)), f.Path, f.Err)
	}
}
