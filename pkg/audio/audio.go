// Package audio defines the capture and playback capability interfaces used
// by the call orchestrator, plus PCM16 helpers shared across packages.
//
// The microphone and the speaker are each single-owner resources: a
// CaptureStream is held by exactly one recorder session at a time, and a
// Player holds at most one active source. Concrete backends (WebRTC
// microphone, GStreamer output, WAV files for tests) implement these
// interfaces so the state machine never touches a platform audio API
// directly.
package audio

import "context"

// Clip is a finite, immutable encoded audio buffer with its MIME type.
// A clip is owned by whoever produced it until it is handed off; it is
// never mutated after creation.
type Clip struct {
	Data []byte
	MIME string
}

// Empty reports whether the clip carries no audio data.
func (c *Clip) Empty() bool {
	return c == nil || len(c.Data) == 0
}

// CaptureDevice opens live microphone streams.
// Open acquires exclusive access to the underlying device; the returned
// stream must be closed to release it.
type CaptureDevice interface {
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is a live PCM16 sample stream from a capture device.
type CaptureStream interface {
	// Read returns the next frame of PCM16 samples.
	// Returns io.EOF when the stream ends.
	Read() ([]int16, error)

	// SampleRate returns the stream's sample rate in Hz.
	SampleRate() int

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Sink plays one encoded clip at a time.
// Play blocks until playback finishes naturally or ctx is cancelled, and
// releases all playback resources before returning on either path.
type Sink interface {
	Play(ctx context.Context, clip *Clip) error
	Close() error
}
