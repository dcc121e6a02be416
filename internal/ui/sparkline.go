package ui

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the most recent width samples as block characters
// scaled to the largest of them. Short input is padded on the left.
func Sparkline(samples []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	peak := 0.0
	for _, v := range samples {
		peak = max(peak, v)
	}

	out := make([]rune, width)
	pad := width - len(samples)
	for i := range out {
		out[i] = sparkBlocks[0]
		if i < pad || peak <= 0 {
			continue
		}
		if v := samples[i-pad]; v > 0 {
			idx := int(v * float64(len(sparkBlocks)-1) / peak)
			out[i] = sparkBlocks[min(idx, len(sparkBlocks)-1)]
		}
	}
	return string(out)
}
