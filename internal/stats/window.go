package stats

// windowSize is how many per-second samples a window holds.
const windowSize = 60

// window is a fixed ring of the most recent samples. Not safe for
// concurrent use; Collector guards it.
type window struct {
	buf  [windowSize]int64
	next int
	n    int
}

func (w *window) push(v int64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % windowSize
	w.n = min(w.n+1, windowSize)
}

// at returns the i-th most recent sample, 0 being the newest.
func (w *window) at(i int) int64 {
	return w.buf[(w.next-1-i+windowSize)%windowSize]
}

func (w *window) mean(k int) float64 {
	k = min(k, w.n)
	if k <= 0 {
		return 0
	}
	var sum int64
	for i := range k {
		sum += w.at(i)
	}
	return float64(sum) / float64(k)
}

// recent returns up to k samples, oldest first.
func (w *window) recent(k int) []float64 {
	k = max(min(k, w.n), 0)
	out := make([]float64, k)
	for i := range k {
		out[k-1-i] = float64(w.at(i))
	}
	return out
}
