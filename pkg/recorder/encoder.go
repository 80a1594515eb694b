package recorder

import (
	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Encoder turns a session's PCM16 frames into one encoded clip.
// Reset is called once at session start with the stream's sample rate;
// Finish seals the clip and leaves the encoder reusable after another
// Reset.
type Encoder interface {
	Reset(sampleRate int) error
	Encode(frame []int16) error
	Finish() (*audio.Clip, error)
}

// WAVEncoder buffers PCM16 frames and seals them in a RIFF/WAVE container.
type WAVEncoder struct {
	rate    int
	samples []int16
}

// NewWAVEncoder creates a WAV clip encoder.
func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{}
}

// Reset starts a new clip at the given sample rate.
func (e *WAVEncoder) Reset(sampleRate int) error {
	e.rate = sampleRate
	e.samples = e.samples[:0]
	return nil
}

// Encode appends one frame.
func (e *WAVEncoder) Encode(frame []int16) error {
	e.samples = append(e.samples, frame...)
	return nil
}

// Finish seals the buffered samples into a clip. A session with no samples
// yields a clip with no data, which Begin reports as empty.
func (e *WAVEncoder) Finish() (*audio.Clip, error) {
	if len(e.samples) == 0 {
		return &audio.Clip{MIME: audio.MIMEWAV}, nil
	}
	return &audio.Clip{
		Data: audio.EncodeWAV(e.samples, e.rate, 1),
		MIME: audio.MIMEWAV,
	}, nil
}
