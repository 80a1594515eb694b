// Package recorder captures one caller utterance at a time.
//
// A session acquires exclusive microphone access, buffers encoded audio,
// and runs a silence detector over the same PCM stream. When the caller
// goes quiet the session ends and yields one finite clip. Only one session
// may be outstanding per Recorder.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
	"github.com/pulsecall/go-callkit/pkg/vad"
)

// Errors returned by Begin.
var (
	// ErrBusy is returned when a session is already outstanding.
	ErrBusy = errors.New("recorder: session already in progress")

	// ErrDeviceUnavailable is returned when the capture device cannot be
	// acquired (permission denied, hardware missing).
	ErrDeviceUnavailable = errors.New("recorder: capture device unavailable")

	// ErrEmptyClip is returned when a session ends with no speech to hand
	// off. The caller should resume listening instead of invoking the
	// pipeline.
	ErrEmptyClip = errors.New("recorder: utterance contained no speech")
)

// EncoderFactory creates a fresh encoder for each session.
type EncoderFactory func() Encoder

// Recorder produces one utterance clip per Begin call.
type Recorder struct {
	device     audio.CaptureDevice
	newEncoder EncoderFactory
	threshold  float64
	hold       time.Duration

	busy atomic.Bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEncoder sets the clip encoder factory. Default is WAV.
func WithEncoder(f EncoderFactory) Option {
	return func(r *Recorder) { r.newEncoder = f }
}

// WithSilence sets the silence threshold and hold duration.
func WithSilence(threshold float64, hold time.Duration) Option {
	return func(r *Recorder) {
		r.threshold = threshold
		r.hold = hold
	}
}

// New creates a recorder over the given capture device.
func New(device audio.CaptureDevice, opts ...Option) *Recorder {
	r := &Recorder{
		device:     device,
		newEncoder: func() Encoder { return NewWAVEncoder() },
		threshold:  vad.DefaultThreshold,
		hold:       vad.DefaultHold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin runs one recording session: it opens the microphone, buffers
// encoded audio until the silence detector fires or the stream ends, and
// returns the finite clip. The microphone is released on every exit path.
//
// Returns ErrBusy if a session is already outstanding, ErrDeviceUnavailable
// if the microphone cannot be acquired, ErrEmptyClip if the caller never
// spoke, and ctx.Err() if cancelled mid-session.
func (r *Recorder) Begin(ctx context.Context) (*audio.Clip, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)

	stream, err := r.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, err)
	}
	defer stream.Close()

	detector := vad.New(r.threshold, r.hold)
	defer detector.Stop()

	enc := r.newEncoder()
	if err := enc.Reset(stream.SampleRate()); err != nil {
		return nil, fmt.Errorf("init encoder: %w", err)
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := stream.Read()
		if err == io.EOF {
			// Stream ended before silence was detected; the session is
			// still finishable with whatever was buffered.
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read capture stream: %w", err)
		}

		if err := enc.Encode(frame); err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}

		if detector.Process(frame) {
			break
		}
	}

	clip, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("finish clip: %w", err)
	}

	if clip.Empty() || !detector.SawSpeech() {
		return nil, ErrEmptyClip
	}

	log.Debug("utterance recorded",
		"bytes", len(clip.Data),
		"mime", clip.MIME,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return clip, nil
}

// Busy reports whether a session is outstanding.
func (r *Recorder) Busy() bool {
	return r.busy.Load()
}
