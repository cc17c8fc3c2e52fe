package pipeline

import (
	"encoding/binary"
	"math"
)

const (
	// TargetRate is the provider's required PCM rate.
	TargetRate = 16000
	// BatchMs is the fixed duration of one outbound batch.
	BatchMs = 20
	// BatchSamples is samples per batch at TargetRate.
	BatchSamples = TargetRate * BatchMs / 1000
	// BatchBytes is the encoded size of one batch (16-bit mono).
	BatchBytes = BatchSamples * 2
)

// Batch is one wire-ready span of resampled audio. Seq increases by one per
// batch and exists for loss accounting only; ordering is preserved by the
// single sender.
type Batch struct {
	Seq int
	PCM []byte // little-endian 16-bit mono at TargetRate
}

// Processor turns device-rate float32 samples into fixed-duration PCM16
// batches. Leftover samples short of a batch are retained, never dropped.
// Not safe for concurrent use; the pump goroutine owns it.
type Processor struct {
	res *Resampler
	acc []float32
	seq int
}

// NewProcessor wires a resampler from the device rate to TargetRate. A
// resampler configuration error is fatal to the pipeline instance.
func NewProcessor(deviceRate int) (*Processor, error) {
	res, err := NewResampler(deviceRate, TargetRate)
	if err != nil {
		return nil, err
	}
	return &Processor{res: res}, nil
}

// Process resamples raw and returns zero or more complete batches. A batch
// is emitted only once BatchSamples have accumulated.
func (p *Processor) Process(raw []float32) []Batch {
	p.acc = append(p.acc, p.res.Resample(raw)...)

	var batches []Batch
	for len(p.acc) >= BatchSamples {
		batches = append(batches, p.emit(p.acc[:BatchSamples]))
		p.acc = append(p.acc[:0:0], p.acc[BatchSamples:]...)
	}
	return batches
}

// Flush drains the remainder as one final batch, padded with silence to the
// full duration. Returns nil if nothing is pending.
func (p *Processor) Flush() *Batch {
	if len(p.acc) == 0 {
		return nil
	}
	tail := make([]float32, BatchSamples)
	copy(tail, p.acc)
	p.acc = nil
	b := p.emit(tail)
	return &b
}

// Reset clears accumulated samples and resampler state. Sequence numbers
// keep counting; they identify batches within the process lifetime.
func (p *Processor) Reset() {
	p.acc = nil
	p.res.Reset()
}

func (p *Processor) emit(samples []float32) Batch {
	b := Batch{Seq: p.seq, PCM: EncodePCM16(samples)}
	p.seq++
	return b
}

// EncodePCM16 quantizes float32 samples to little-endian int16. Values are
// clamped to [-1, 1] first so overdriven input saturates instead of wrapping,
// and quantization rounds to nearest rather than truncating.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 is the inverse of EncodePCM16, used by the diagnostics
// archive and tests.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
