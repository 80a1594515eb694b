package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultFrameSize is the number of samples per frame delivered by
// FileDevice streams, sized to roughly 32ms at 16kHz.
const DefaultFrameSize = 512

// FileDevice is a CaptureDevice that replays a PCM16 WAV file as a live
// stream. Useful for demos and tests that need deterministic microphone
// input.
type FileDevice struct {
	Path string

	// FrameSize is the samples-per-Read frame size.
	// Zero means DefaultFrameSize.
	FrameSize int
}

// Open reads the WAV file and returns a stream over its frames.
func (d *FileDevice) Open(ctx context.Context) (CaptureStream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}

	samples, rate, channels, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode capture file: %w", err)
	}
	if channels != 1 {
		return nil, fmt.Errorf("capture file must be mono, got %d channels", channels)
	}

	frame := d.FrameSize
	if frame <= 0 {
		frame = DefaultFrameSize
	}

	return &fileStream{ctx: ctx, samples: samples, rate: rate, frame: frame}, nil
}

type fileStream struct {
	ctx     context.Context
	samples []int16
	rate    int
	frame   int

	mu     sync.Mutex
	pos    int
	closed bool
}

func (s *fileStream) Read() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}

	end := s.pos + s.frame
	if end > len(s.samples) {
		end = len(s.samples)
	}
	frame := s.samples[s.pos:end]
	s.pos = end
	return frame, nil
}

func (s *fileStream) SampleRate() int {
	return s.rate
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
