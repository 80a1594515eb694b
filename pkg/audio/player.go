package audio

import (
	"context"
	"sync"

	"github.com/pulsecall/go-callkit/internal/log"
)

// Player plays one clip at a time through a Sink.
//
// Starting a new clip always stops and releases the previous source first.
// The completion callback passed to Play fires exactly once, when playback
// stops on its own (finished or failed); a forced stop (Stop or a
// superseding Play) releases resources without firing it.
type Player struct {
	sink Sink

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	playing bool

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// NewPlayer creates a player backed by the given sink.
func NewPlayer(sink Sink) *Player {
	return &Player{sink: sink}
}

// Play starts playback of the clip. Any active playback is stopped and
// released first. onComplete may be nil.
func (p *Player) Play(clip *Clip, onComplete func(error)) {
	p.stopActive()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.playing = true
	p.mu.Unlock()

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}

	go func() {
		defer close(done)

		err := p.sink.Play(ctx, clip)

		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()

		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd()
		}

		if ctx.Err() != nil {
			// Forced stop: resources are released by the sink, but the
			// completion callback must not fire.
			return
		}
		if err != nil {
			log.Warn("playback error", "err", err)
		}
		if onComplete != nil {
			onComplete(err)
		}
	}()
}

// Stop interrupts any active playback and releases its source.
// Safe to call with no active playback, and safe to call repeatedly.
func (p *Player) Stop() {
	p.stopActive()
}

// IsPlaying returns whether a clip is currently playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops playback and releases the underlying sink.
func (p *Player) Close() error {
	p.stopActive()
	return p.sink.Close()
}

// stopActive cancels the current playback, if any, and waits for the sink
// to release its source before returning.
func (p *Player) stopActive() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
