package audio

import (
	"math"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext feeds a fixed sample script through the normal capture
// interfaces. With realtime=false the whole script is delivered on Start and
// silence follows; with realtime=true frames are paced at the configured
// sample rate.
type FakeContext struct {
	samples  []float32
	rate     uint32
	realtime bool
}

func NewFakeContext(samples []float32, rate uint32, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, rate: rate, realtime: realtime}
}

// Tone returns n samples of a sine at freq hz, handy as fake capture input.
func Tone(freq float64, rate uint32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return s
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{
		samples:   f.samples,
		rate:      f.rate,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}, nil
}

type FakeCapture struct {
	samples   []float32
	rate      uint32
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the scripted samples have all been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize, len(f.samples))
	chunk := make([]float32, end-pos)
	copy(chunk, f.samples[pos:end])
	cb(chunk, uint32(len(chunk)))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.samples); {
				pos = f.feedChunk(cb, pos)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]float32, fakeFrameSize)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]float32, fakeFrameSize)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.samples) {
				pos = f.feedChunk(cb, pos)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {}
