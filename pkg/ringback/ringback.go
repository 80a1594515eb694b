// Package ringback synthesizes the audible tone played while a call is
// connecting: the classic two-tone ringback (440Hz + 480Hz) repeated on a
// fixed period until the first reply arrives.
package ringback

import (
	"math"
	"sync"
	"time"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Ringback tone parameters (North American ringback cadence).
const (
	ToneLow       = 440.0
	ToneHigh      = 480.0
	ToneDuration  = 2 * time.Second
	DefaultPeriod = 6 * time.Second

	toneSampleRate = 16000
	toneAmplitude  = 0.3
	toneRampMs     = 150
)

// Generator plays the ringback pattern into an audio sink.
//
// Start and Stop may race with an already-fired periodic retrigger; a
// generation counter guarantees no tone plays after Stop returns.
type Generator struct {
	player *audio.Player
	period time.Duration

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   *time.Timer
	clip    *audio.Clip
}

// Option configures a Generator.
type Option func(*Generator)

// WithPeriod overrides the repeat period.
func WithPeriod(period time.Duration) Option {
	return func(g *Generator) { g.period = period }
}

// New creates a ringback generator over the given sink.
// The generator owns its own player so it never contends with the call's
// reply playback for a source.
func New(sink audio.Sink, opts ...Option) *Generator {
	g := &Generator{
		player: audio.NewPlayer(sink),
		period: DefaultPeriod,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins the ringback pattern. Calling Start while already ringing
// is a no-op.
func (g *Generator) Start() {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.gen++
	gen := g.gen
	g.mu.Unlock()

	g.ring(gen)
}

// Stop silences the ringback. Idempotent, safe to call before Start, and
// guarantees no further tone plays after it returns even if a periodic
// retrigger already fired.
func (g *Generator) Stop() {
	g.mu.Lock()
	g.running = false
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	g.player.Stop()
}

// Close stops the generator and releases the audio sink.
func (g *Generator) Close() error {
	g.Stop()
	return g.player.Close()
}

// ring plays one tone and schedules the next, unless the generation has
// moved on.
func (g *Generator) ring(gen uint64) {
	g.mu.Lock()
	if !g.running || gen != g.gen {
		g.mu.Unlock()
		return
	}
	clip := g.toneClip()
	g.timer = time.AfterFunc(g.period, func() { g.ring(gen) })
	g.mu.Unlock()

	g.player.Play(clip, nil)
}

// toneClip lazily synthesizes the two-tone WAV clip. Must hold mu.
func (g *Generator) toneClip() *audio.Clip {
	if g.clip != nil {
		return g.clip
	}

	n := int(ToneDuration.Seconds() * toneSampleRate)
	ramp := toneRampMs * toneSampleRate / 1000
	samples := make([]int16, n)

	for i := 0; i < n; i++ {
		t := float64(i) / toneSampleRate
		v := (math.Sin(2*math.Pi*ToneLow*t) + math.Sin(2*math.Pi*ToneHigh*t)) / 2

		// Envelope up then down.
		env := 1.0
		if i < ramp {
			env = float64(i) / float64(ramp)
		} else if n-i < ramp {
			env = float64(n-i) / float64(ramp)
		}

		samples[i] = int16(v * env * toneAmplitude * 32767)
	}

	g.clip = &audio.Clip{
		Data: audio.EncodeWAV(samples, toneSampleRate, 1),
		MIME: audio.MIMEWAV,
	}
	return g.clip
}
