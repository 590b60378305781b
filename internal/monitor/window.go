package monitor

// Window is a fixed-capacity ring of recent readings for one metric.
// Unwritten slots count as zero, so the average stays defined (and
// conservative) before the ring has seen a full set of samples.
type Window struct {
	samples []float64
	next    int
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}

	return &Window{samples: make([]float64, size)}
}

// Push overwrites the oldest slot with v and returns the new average.
func (w *Window) Push(v float64) float64 {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)

	return w.Average()
}

// Average is the arithmetic mean over the full ring capacity.
func (w *Window) Average() float64 {
	sum := 0.0
	for _, s := range w.samples {
		sum += s
	}

	return sum / float64(len(w.samples))
}

// Size returns the ring capacity.
func (w *Window) Size() int {
	return len(w.samples)
}
