package pipeline

import "math"

// Level computes the RMS level and absolute peak of a block of samples, both
// in [0, 1]. Fed to the UI as the input meter.
func Level(samples []float32) (rms, peak float32) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	rms = float32(math.Sqrt(sum / float64(len(samples))))
	return rms, peak
}
