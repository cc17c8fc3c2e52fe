package pipeline

import "math"

const (
	vadThresholdDB = -50.0
	vadSmoothing   = 0.3 // weight of the current frame in the energy average
	vadDebounce    = 3   // consecutive speech frames to confirm voice
	vadHangover    = 15  // silent frames before voice is considered ended
)

// VAD is a short-time-energy voice detector. Each frame's energy in dB is
// smoothed exponentially and compared against a fixed floor; debounce and
// hangover keep single noisy frames from flapping the decision. Not safe for
// concurrent use.
type VAD struct {
	smoothed   float64
	primed     bool
	speechRun  int
	silenceRun int
	active     bool
}

func NewVAD() *VAD {
	return &VAD{}
}

// Process consumes one frame of samples and reports whether voice is active
// after it.
func (v *VAD) Process(samples []float32) bool {
	db := energyDB(samples)
	if !v.primed {
		v.smoothed = db
		v.primed = true
	} else {
		v.smoothed = vadSmoothing*db + (1-vadSmoothing)*v.smoothed
	}

	if v.smoothed > vadThresholdDB {
		v.speechRun++
		v.silenceRun = 0
		if v.speechRun >= vadDebounce {
			v.active = true
		}
	} else {
		v.speechRun = 0
		v.silenceRun++
		if v.silenceRun >= vadHangover {
			v.active = false
		}
	}
	return v.active
}

// Active reports the current decision without consuming a frame.
func (v *VAD) Active() bool { return v.active }

// SilenceRun returns how many consecutive frames have been below threshold.
func (v *VAD) SilenceRun() int { return v.silenceRun }

func (v *VAD) Reset() {
	v.smoothed = 0
	v.primed = false
	v.speechRun = 0
	v.silenceRun = 0
	v.active = false
}

func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -120
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	mean := sum / float64(len(samples))
	return 10 * math.Log10(mean+1e-10)
}
