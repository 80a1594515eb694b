// Package vad implements silence detection over a live PCM16 stream.
//
// The detector estimates short-term loudness as RMS energy over a fixed
// sliding window, one estimate per delivered frame. When the energy stays
// below the threshold continuously for the hold duration, it fires once and
// stops sampling until Reset.
package vad

import (
	"sync"
	"time"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Defaults, calibrated empirically against 16kHz mono microphone input.
const (
	// DefaultThreshold is the RMS level (on a [-1,1] sample scale) below
	// which audio counts as quiet.
	DefaultThreshold = 0.01

	// DefaultHold is how long the stream must stay quiet before the
	// detector fires.
	DefaultHold = 1000 * time.Millisecond

	// WindowSize is the number of samples in the RMS sliding window.
	WindowSize = 512
)

// Detector signals when a capture stream has gone quiet long enough to end
// an utterance. It fires at most once per session; Reset starts a new one.
// A Detector is safe for use from a single capture loop goroutine with
// Stop called from elsewhere.
type Detector struct {
	threshold float64
	hold      time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time

	// OnSilence, if set, is invoked exactly once when silence is detected.
	OnSilence func()

	mu         sync.Mutex
	window     []int16
	quietSince time.Time
	sawSpeech  bool
	fired      bool
	stopped    bool
}

// New creates a detector with the given threshold and hold duration.
// Non-positive arguments select the defaults.
func New(threshold float64, hold time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Detector{
		threshold: threshold,
		hold:      hold,
		now:       time.Now,
		window:    make([]int16, 0, WindowSize),
	}
}

// Process feeds one frame of PCM16 samples and returns true when the frame
// completes the hold duration of continuous quiet. After firing (or after
// Stop) further frames are ignored until Reset.
func (d *Detector) Process(samples []int16) bool {
	d.mu.Lock()

	if d.fired || d.stopped {
		d.mu.Unlock()
		return false
	}

	d.push(samples)
	level := audio.RMS(d.window)
	now := d.now()

	if level >= d.threshold {
		// Loud frame: the quiet timer restarts, it never accumulates.
		d.quietSince = time.Time{}
		d.sawSpeech = true
		d.mu.Unlock()
		return false
	}

	if d.quietSince.IsZero() {
		d.quietSince = now
		d.mu.Unlock()
		return false
	}

	if now.Sub(d.quietSince) < d.hold {
		d.mu.Unlock()
		return false
	}

	d.fired = true
	cb := d.OnSilence
	d.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Stop cancels detection without firing. Safe to call at any point,
// including after the stream has ended or the detector has already fired.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Reset arms the detector for a new session.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.window = d.window[:0]
	d.quietSince = time.Time{}
	d.sawSpeech = false
	d.fired = false
	d.stopped = false
	d.mu.Unlock()
}

// Fired reports whether the detector has fired this session.
func (d *Detector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// SawSpeech reports whether any frame this session crossed the threshold.
// A session that fires without ever crossing it recorded nothing but
// ambient quiet.
func (d *Detector) SawSpeech() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sawSpeech
}

// push appends samples to the sliding window, keeping the last WindowSize.
func (d *Detector) push(samples []int16) {
	d.window = append(d.window, samples...)
	if n := len(d.window); n > WindowSize {
		d.window = d.window[n-WindowSize:]
	}
}

