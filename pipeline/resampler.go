package pipeline

import "fmt"

// Resampler converts a mono float32 stream between rates using linear
// interpolation. It is stateful: the unconsumed input tail carries over so
// batch boundaries do not distort the output. Not safe for concurrent use.
type Resampler struct {
	inRate  int
	outRate int
	step    float64 // input samples advanced per output sample

	pos float64
	buf []float32
}

// NewResampler fails on a non-positive rate. The failure is fatal to the
// owning pipeline: rates come from device and provider configuration, and a
// bad value will not improve on retry.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", inRate, outRate)
	}
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    float64(inRate) / float64(outRate),
	}, nil
}

// Resample consumes in and returns however many output samples are fully
// determined so far. Interpolation needs one lookahead sample, so the final
// input sample is held until the next call.
func (r *Resampler) Resample(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	r.buf = append(r.buf, in...)
	n := len(r.buf)

	outLen := int((float64(n-1)-r.pos)/r.step) + 1
	if outLen < 0 {
		outLen = 0
	}
	out := make([]float32, 0, outLen)
	for {
		i := int(r.pos)
		if i+1 >= n {
			break
		}
		frac := float32(r.pos - float64(i))
		out = append(out, r.buf[i]+frac*(r.buf[i+1]-r.buf[i]))
		r.pos += r.step
	}

	if consumed := int(r.pos); consumed > 0 {
		if consumed > n {
			consumed = n
		}
		r.buf = append(r.buf[:0:0], r.buf[consumed:]...)
		r.pos -= float64(consumed)
	}
	return out
}

// Reset discards carried state so the next Resample call behaves like the
// first.
func (r *Resampler) Reset() {
	r.pos = 0
	r.buf = nil
}
