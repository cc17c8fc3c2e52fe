package pipeline

import (
	"math"
	"testing"
)

func TestProcessorBatchSize(t *testing.T) {
	p, err := NewProcessor(TargetRate) // 1:1, no rate conversion
	if err != nil {
		t.Fatal(err)
	}

	// Just under one batch: nothing emitted, remainder retained.
	// The resampler holds one lookahead sample, so feed one extra.
	batches := p.Process(make([]float32, BatchSamples-1))
	if len(batches) != 0 {
		t.Fatalf("emitted %d batches below threshold", len(batches))
	}

	batches = p.Process(make([]float32, 2))
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0].PCM) != BatchBytes {
		t.Errorf("batch size %d bytes, want %d", len(batches[0].PCM), BatchBytes)
	}
}

func TestProcessorSequenceNumbers(t *testing.T) {
	p, err := NewProcessor(TargetRate)
	if err != nil {
		t.Fatal(err)
	}

	batches := p.Process(make([]float32, BatchSamples*3+1))
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for i, b := range batches {
		if b.Seq != i {
			t.Errorf("batch %d has seq %d", i, b.Seq)
		}
	}
}

func TestProcessorFlushPadsWithSilence(t *testing.T) {
	p, err := NewProcessor(TargetRate)
	if err != nil {
		t.Fatal(err)
	}

	in := make([]float32, 100)
	for i := range in {
		in[i] = 0.5
	}
	p.Process(in)

	b := p.Flush()
	if b == nil {
		t.Fatal("Flush returned nil with pending samples")
	}
	if len(b.PCM) != BatchBytes {
		t.Fatalf("flushed batch is %d bytes, want %d", len(b.PCM), BatchBytes)
	}
	samples := DecodePCM16(b.PCM)
	// Tail must be silence, head must be the real samples (minus the one
	// lookahead sample the resampler holds).
	if samples[0] != 16384 {
		t.Errorf("head sample = %d, want 16384", samples[0])
	}
	if samples[BatchSamples-1] != 0 {
		t.Errorf("padded tail = %d, want 0", samples[BatchSamples-1])
	}

	if p.Flush() != nil {
		t.Error("second Flush should return nil")
	}
}

func TestEncodePCM16ClampsAndRounds(t *testing.T) {
	pcm := EncodePCM16([]float32{0, 1, -1, 2, -2, 0.5})
	got := DecodePCM16(pcm)
	want := []int16{0, 32767, -32767, 32767, -32767, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResamplerDownsamples(t *testing.T) {
	r, err := NewResampler(48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	out := r.Resample(make([]float32, 4800)) // 100ms at 48k
	// ~1600 samples expected, minus edge effects from the held tail.
	if len(out) < 1590 || len(out) > 1610 {
		t.Errorf("got %d samples, want ~1600", len(out))
	}
}

func TestResamplerDeterministic(t *testing.T) {
	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 7))
	}

	r, err := NewResampler(44100, 16000)
	if err != nil {
		t.Fatal(err)
	}
	first := r.Resample(in)

	r.Reset()
	second := r.Resample(in)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if math.Abs(float64(first[i]-second[i])) > 1e-7 {
			t.Fatalf("sample %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestResamplerStreamingMatchesWhole(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 11))
	}

	whole, err := NewResampler(48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	want := whole.Resample(in)

	chunked, err := NewResampler(48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	var got []float32
	for pos := 0; pos < len(in); pos += 480 {
		got = append(got, chunked.Resample(in[pos:pos+480])...)
	}

	if len(got) != len(want) {
		t.Fatalf("lengths differ: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("sample %d differs: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestNewResamplerRejectsBadRates(t *testing.T) {
	if _, err := NewResampler(0, 16000); err == nil {
		t.Error("expected error for zero input rate")
	}
	if _, err := NewResampler(48000, -1); err == nil {
		t.Error("expected error for negative output rate")
	}
}

func TestVADDetectsToneNotSilence(t *testing.T) {
	v := NewVAD()

	frame := make([]float32, 320)
	for i := range frame {
		frame[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	for i := 0; i < vadDebounce+2; i++ {
		v.Process(frame)
	}
	if !v.Active() {
		t.Fatal("voice not detected on sustained tone")
	}

	silence := make([]float32, 320)
	for i := 0; i < vadHangover+2; i++ {
		v.Process(silence)
	}
	if v.Active() {
		t.Fatal("voice still active after sustained silence")
	}
	if v.SilenceRun() < vadHangover {
		t.Errorf("silence run = %d, want >= %d", v.SilenceRun(), vadHangover)
	}
}

func TestVADDebounce(t *testing.T) {
	v := NewVAD()

	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.5
	}

	// A single loud frame must not flip the decision.
	if v.Process(loud) {
		t.Error("one frame flipped VAD to active")
	}
}

func TestLevel(t *testing.T) {
	rms, peak := Level([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(float64(rms)-0.5) > 1e-6 {
		t.Errorf("rms = %v, want 0.5", rms)
	}
	if peak != 0.5 {
		t.Errorf("peak = %v, want 0.5", peak)
	}

	rms, peak = Level(nil)
	if rms != 0 || peak != 0 {
		t.Errorf("empty input: got %v/%v, want 0/0", rms, peak)
	}
}
