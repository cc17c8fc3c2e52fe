// Package archive writes per-activation FLAC dumps of the resampled audio
// stream for offline diagnosis of transcription quality.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"voxd/pipeline"
)

const blockSize = 4096

// Recorder accumulates one activation's PCM and encodes it to a FLAC file on
// Close. Append is cheap; encoding happens per full block.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	enc     *flac.Encoder
	pending []int16
	frames  uint64
	path    string
	closed  bool
}

// New opens a timestamped dump file under dir.
func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, time.Now().Format("20060102-150405")+".flac")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    pipeline.TargetRate,
		NChannels:     1,
		BitsPerSample: 16,
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("archive: creating flac encoder: %w", err)
	}

	return &Recorder{file: f, enc: enc, path: path}, nil
}

// Path returns the dump file location.
func (r *Recorder) Path() string { return r.path }

// TotalFrames returns the number of samples encoded so far.
func (r *Recorder) TotalFrames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Append adds one batch of wire PCM to the dump.
func (r *Recorder) Append(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("archive: recorder closed")
	}
	r.pending = append(r.pending, pipeline.DecodePCM16(pcm)...)
	for len(r.pending) >= blockSize {
		if err := r.writeBlock(r.pending[:blockSize]); err != nil {
			return err
		}
		r.pending = append(r.pending[:0:0], r.pending[blockSize:]...)
	}
	return nil
}

// Close flushes the remainder and finalizes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if len(r.pending) > 0 {
		if err := r.writeBlock(r.pending); err != nil {
			r.enc.Close()
			r.file.Close()
			return err
		}
		r.pending = nil
	}
	// enc.Close writes the stream trailer and closes the underlying file
	// itself; closing again here would report a spurious error.
	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("archive: finalizing flac: %w", err)
	}
	return nil
}

func (r *Recorder) writeBlock(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    pipeline.TargetRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: 16,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := r.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("archive: writing flac frame: %w", err)
	}
	r.frames += uint64(len(block))
	return nil
}
