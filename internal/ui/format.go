package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/linkback/internal/stats"
)

// FormatBytes renders a byte count with binary units.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}

// FormatRate renders a bytes-per-second rate with binary units and about
// three significant digits.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	const units = "KMGTPE"
	if bytesPerSec < 1024 {
		return trimRate(bytesPerSec, "B/s")
	}
	val := bytesPerSec
	i := -1
	for val >= 1024 && i < len(units)-1 {
		val /= 1024
		i++
	}
	return trimRate(val, string(units[i])+"iB/s")
}

func trimRate(val float64, unit string) string {
	switch {
	case val < 10:
		return fmt.Sprintf("%.2f %s", val, unit)
	case val < 100:
		return fmt.Sprintf("%.1f %s", val, unit)
	default:
		return fmt.Sprintf("%.0f %s", val, unit)
	}
}

// FormatETA renders a remaining-time estimate; unknown is "--".
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return clock(d)
}

// FormatDuration renders elapsed time.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return clock(d)
}

// clock renders d as "1h 02m 03s", dropping leading zero units.
func clock(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	digits := strconv.FormatInt(n, 10)
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	var b strings.Builder
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// ProgressBar renders frac (clamped to [0, 1]) as a bar width cells wide.
func ProgressBar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac = min(max(frac, 0), 1)
	filled := int(frac * float64(width))
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}
