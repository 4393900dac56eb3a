// Package filter smooths noisy scalar readings.
package filter

// EWMA is an exponentially weighted moving average.
// The first sample seeds the average unchanged.
type EWMA struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewEWMA returns a filter with alpha clamped to [0,1].
// Lower alpha smooths harder; 1 passes samples through.
func NewEWMA(alpha float64) *EWMA {
	if !(alpha >= 0) {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &EWMA{alpha: alpha}
}

// Update folds x into the average and returns the new value.
func (f *EWMA) Update(x float64) float64 {
	if !f.initialized {
		f.value = x
		f.initialized = true
		return f.value
	}
	f.value = f.alpha*x + (1-f.alpha)*f.value
	return f.value
}

// Value returns the current average and whether any sample was seen.
func (f *EWMA) Value() (float64, bool) {
	return f.value, f.initialized
}

// Reset forgets the average so the next sample reseeds it.
func (f *EWMA) Reset() {
	f.value = 0
	f.initialized = false
}
