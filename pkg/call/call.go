// Package call implements the call session state machine: answer, the
// greeting turn, the listen → transcribe → reply → speak loop, hangup and
// the terminal summary.
//
// All state transitions happen on a single event-loop goroutine. Public
// methods post events; completions of asynchronous work (recording, the
// remote pipeline, playback) come back as events tagged with the generation
// they were started under, and events from a superseded generation are
// dropped. Hanging up bumps the generation, so nothing an abandoned turn
// does can leak into the ended call.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
	"github.com/pulsecall/go-callkit/pkg/pipeline"
	"github.com/pulsecall/go-callkit/pkg/recorder"
	"github.com/pulsecall/go-callkit/pkg/ringback"
)

// Listener captures one caller utterance, returning when silence follows
// speech. *recorder.Recorder implements it.
type Listener interface {
	Begin(ctx context.Context) (*audio.Clip, error)
}

// Deps are the components a Call drives. All fields except Ring are
// required.
type Deps struct {
	Recorder    Listener
	Transcriber pipeline.Transcriber
	Responder   pipeline.Responder
	Summarizer  pipeline.Summarizer
	Player      *audio.Player

	// Ring plays the ringback tone between answer and the first agent
	// words. Optional.
	Ring *ringback.Generator
}

// Call is one call session. Create with New, drive with Answer, Hangup and
// Restart. Callbacks are invoked from the event-loop goroutine and must not
// block; they may post commands back (Hangup from OnError is fine).
type Call struct {
	cfg  Config
	id   string
	deps Deps

	metrics *MetricsCollector

	events chan event
	done   chan struct{}
	start  sync.Once

	// Loop-owned; mu guards reads from other goroutines.
	mu               sync.Mutex
	phase            Phase
	status           TurnStatus
	duration         int
	transcript       []pipeline.Message
	summary          *pipeline.Summary
	gen              uint64
	retries          int
	summaryRequested bool

	runCtx     context.Context
	turnCtx    context.Context
	turnCancel context.CancelFunc
	ticker     *time.Ticker
	tickC      <-chan time.Time
	retryTimer *time.Timer

	// OnPhaseChange fires on every phase transition.
	OnPhaseChange func(Phase)

	// OnStatusChange fires on every turn-status transition.
	OnStatusChange func(TurnStatus)

	// OnMessage fires as each message is appended to the transcript.
	OnMessage func(pipeline.Message)

	// OnDuration fires once per second while the call is connected.
	OnDuration func(seconds int)

	// OnSummary fires when the terminal summary arrives.
	OnSummary func(*pipeline.Summary)

	// OnError fires on recoverable failures (pipeline errors, device
	// errors). The call stays alive; the caller decides what to surface.
	OnError func(error)
}

// Events consumed by the run loop. Async completions carry the generation
// they were started under.
type event interface{}

type evAnswer struct{}
type evHangup struct{}
type evRestart struct{}

type evListen struct{ gen uint64 }

type evRecorderDone struct {
	gen  uint64
	clip *audio.Clip
	err  error
}

type evStage struct {
	gen   uint64
	stage pipeline.Stage
}

type evCallerText struct {
	gen  uint64
	text string
}

type evTurnDone struct {
	gen  uint64
	kind pipeline.TurnKind
	res  *pipeline.TurnResult
}

type evPlaybackDone struct {
	gen    uint64
	ending bool
	err    error
}

type evSummaryDone struct {
	gen     uint64
	summary *pipeline.Summary
	err     error
}

// New creates a call session. The configuration must validate and all
// required dependencies must be set.
func New(cfg Config, deps Deps) (*Call, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Recorder == nil || deps.Transcriber == nil || deps.Responder == nil ||
		deps.Summarizer == nil || deps.Player == nil {
		return nil, errors.New("call: missing dependency")
	}

	return &Call{
		cfg:     cfg,
		id:      uuid.NewString(),
		deps:    deps,
		metrics: NewMetricsCollector(),
		events:  make(chan event, 64),
		done:    make(chan struct{}),
		phase:   PhaseHome,
		status:  StatusIdle,
	}, nil
}

// ID returns the session identifier.
func (c *Call) ID() string { return c.id }

// Metrics returns the per-turn latency collector.
func (c *Call) Metrics() *MetricsCollector { return c.metrics }

// Start launches the event loop. It returns immediately; the loop runs
// until ctx is cancelled. Calling Start more than once is a no-op.
func (c *Call) Start(ctx context.Context) {
	c.start.Do(func() {
		c.runCtx = ctx
		go c.run(ctx)
	})
}

// Done is closed when the event loop has exited.
func (c *Call) Done() <-chan struct{} { return c.done }

// Answer transitions Home → Connected and begins the greeting turn.
func (c *Call) Answer() { c.post(evAnswer{}) }

// Hangup ends the call from any state. It is idempotent: repeated calls
// leave the same terminal state and the summary is requested at most once.
func (c *Call) Hangup() { c.post(evHangup{}) }

// Restart resets an ended call back to a fresh Home state.
func (c *Call) Restart() { c.post(evRestart{}) }

// Phase returns the current call phase.
func (c *Call) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Status returns the current turn status.
func (c *Call) Status() TurnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Duration returns elapsed connected time in seconds. It freezes at the
// value reached when the call ended.
func (c *Call) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Transcript returns a copy of the conversation so far.
func (c *Call) Transcript() []pipeline.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pipeline.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Summary returns the terminal summary, or nil while it has not arrived.
func (c *Call) Summary() *pipeline.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

func (c *Call) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// run is the event loop. It is the only goroutine that mutates call state.
func (c *Call) run(ctx context.Context) {
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.tickC:
			c.handleTick()
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Call) dispatch(ev event) {
	switch ev := ev.(type) {
	case evAnswer:
		c.handleAnswer()
	case evHangup:
		c.handleHangup()
	case evRestart:
		c.handleRestart()
	case evListen:
		if c.live(ev.gen) {
			c.startListening()
		}
	case evRecorderDone:
		if c.live(ev.gen) {
			c.handleRecorderDone(ev)
		}
	case evStage:
		if c.live(ev.gen) {
			c.handleStage(ev.stage)
		}
	case evCallerText:
		if c.live(ev.gen) {
			c.appendMessage(pipeline.Message{Role: pipeline.RoleCaller, Content: ev.text})
			c.metrics.MarkTranscript()
		}
	case evTurnDone:
		if c.live(ev.gen) {
			c.handleTurnDone(ev)
		}
	case evPlaybackDone:
		if c.live(ev.gen) {
			c.reportError(ev.err)
			c.metrics.MarkPlaybackDone()
			c.finishTurn(ev.ending)
		}
	case evSummaryDone:
		if ev.gen == c.gen {
			c.handleSummaryDone(ev)
		}
	}
}

// live reports whether a completion event belongs to the current
// generation of a still-connected call.
func (c *Call) live(gen uint64) bool {
	return gen == c.gen && c.phase == PhaseConnected
}

func (c *Call) handleAnswer() {
	if c.phase != PhaseHome {
		log.Warn("answer ignored", "phase", c.phase.String())
		return
	}

	log.Info("call answered", "call_id", c.id, "patient_id", c.cfg.PatientID)

	c.setPhase(PhaseConnected)
	c.setDuration(0)
	c.retries = 0

	c.turnCtx, c.turnCancel = context.WithCancel(c.runCtx)

	c.ticker = time.NewTicker(time.Second)
	c.tickC = c.ticker.C

	if c.deps.Ring != nil {
		c.deps.Ring.Start()
	}
	c.startTurn(pipeline.KindGreeting, nil)
}

func (c *Call) handleHangup() {
	if c.phase == PhaseEnded {
		return
	}
	log.Info("call hung up", "call_id", c.id, "duration_s", c.duration)
	c.endCall()
}

func (c *Call) handleRestart() {
	if c.phase != PhaseEnded {
		log.Warn("restart ignored", "phase", c.phase.String())
		return
	}

	c.gen++
	c.mu.Lock()
	c.transcript = nil
	c.summary = nil
	c.duration = 0
	c.mu.Unlock()
	c.retries = 0
	c.summaryRequested = false
	c.id = uuid.NewString()

	c.setStatus(StatusIdle)
	c.setPhase(PhaseHome)
}

// startTurn launches the transcribe → reply steps for one turn. A fresh
// invoker is built per turn so its callbacks capture the generation the
// turn was started under.
func (c *Call) startTurn(kind pipeline.TurnKind, clip *audio.Clip) {
	gen := c.gen

	if kind == pipeline.KindGreeting {
		c.setStatus(StatusThinking)
	} else {
		c.setStatus(StatusTranscribing)
	}

	in := pipeline.TurnInput{
		Kind:      kind,
		Clip:      clip,
		PatientID: c.cfg.PatientID,
		History:   c.Transcript(),
	}

	iv := pipeline.NewInvoker(c.deps.Transcriber, c.deps.Responder)
	iv.OnStage = func(s pipeline.Stage) {
		c.post(evStage{gen: gen, stage: s})
	}
	iv.OnCallerText = func(text string) {
		c.post(evCallerText{gen: gen, text: text})
	}

	ctx := c.turnCtx
	go func() {
		res := iv.RunTurn(ctx, in)
		c.post(evTurnDone{gen: gen, kind: kind, res: res})
	}()
}

func (c *Call) handleStage(s pipeline.Stage) {
	switch s {
	case pipeline.StageTranscribing:
		c.setStatus(StatusTranscribing)
	case pipeline.StageThinking:
		c.setStatus(StatusThinking)
	}
}

func (c *Call) handleTurnDone(ev evTurnDone) {
	res := ev.res

	if res.Outcome == pipeline.OutcomeRetry {
		c.reportError(res.Err)

		if ev.kind == pipeline.KindGreeting {
			// The greeting cannot be re-listened; stop ringing and wait.
			if c.deps.Ring != nil {
				c.deps.Ring.Stop()
			}
			c.setStatus(StatusIdle)
			return
		}

		c.retries++
		if c.retries > c.cfg.MaxRetries {
			log.Error("retry limit reached, pausing turn loop",
				"call_id", c.id, "retries", c.retries)
			c.setStatus(StatusIdle)
			return
		}

		gen := c.gen
		c.setStatus(StatusIdle)
		c.retryTimer = time.AfterFunc(c.cfg.RetryPause, func() {
			c.post(evListen{gen: gen})
		})
		return
	}

	c.retries = 0
	c.metrics.MarkReply()

	// The agent is about to speak; the caller has heard the line pick up.
	if c.deps.Ring != nil {
		c.deps.Ring.Stop()
	}

	c.appendMessage(pipeline.Message{Role: pipeline.RoleAgent, Content: res.ReplyText})

	if res.Audio == nil {
		c.finishTurn(res.IsEnding)
		return
	}

	gen := c.gen
	ending := res.IsEnding
	c.setStatus(StatusSpeaking)
	c.deps.Player.Play(res.Audio, func(err error) {
		c.post(evPlaybackDone{gen: gen, ending: ending, err: err})
	})
}

// finishTurn closes out a turn after the agent side resolved: either the
// conversation is over or the call goes back to listening.
func (c *Call) finishTurn(ending bool) {
	if ending {
		log.Info("agent ended conversation", "call_id", c.id)
		c.endCall()
		return
	}
	c.startListening()
}

func (c *Call) startListening() {
	if c.phase != PhaseConnected {
		return
	}
	c.setStatus(StatusRecording)

	gen := c.gen
	ctx := c.turnCtx
	go func() {
		clip, err := c.deps.Recorder.Begin(ctx)
		c.post(evRecorderDone{gen: gen, clip: clip, err: err})
	}()
}

func (c *Call) handleRecorderDone(ev evRecorderDone) {
	if ev.err != nil {
		switch {
		case errors.Is(ev.err, recorder.ErrEmptyClip):
			// Caller never spoke; listen again without touching the
			// pipeline or the retry budget.
			c.startListening()
		case errors.Is(ev.err, context.Canceled):
			// Superseded; the hangup path already cleaned up.
		default:
			c.reportError(ev.err)
			c.setStatus(StatusIdle)
		}
		return
	}

	c.metrics.MarkUtteranceEnd()
	c.startTurn(pipeline.KindUtterance, ev.clip)
}

func (c *Call) handleTick() {
	if c.phase != PhaseConnected {
		return
	}
	c.setDuration(c.duration + 1)
}

// endCall moves to the terminal state: all in-flight work is abandoned via
// the generation bump and context cancel, and the summary is requested at
// most once, only when the conversation produced a transcript.
func (c *Call) endCall() {
	c.gen++

	if c.turnCancel != nil {
		c.turnCancel()
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if c.deps.Ring != nil {
		c.deps.Ring.Stop()
	}
	c.deps.Player.Stop()
	if c.ticker != nil {
		c.ticker.Stop()
		c.tickC = nil
	}

	c.setStatus(StatusIdle)
	c.setPhase(PhaseEnded)

	if c.summaryRequested || len(c.Transcript()) == 0 {
		return
	}
	c.summaryRequested = true

	gen := c.gen
	history := c.Transcript()
	timeout := c.cfg.SummaryTimeout
	go func() {
		// The summary must survive the turn context, which is already
		// cancelled by now.
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		summary, err := c.deps.Summarizer.Summarize(ctx, history)
		c.post(evSummaryDone{gen: gen, summary: summary, err: err})
	}()
}

func (c *Call) handleSummaryDone(ev evSummaryDone) {
	if ev.err != nil {
		log.Error("summary failed", "call_id", c.id, "err", ev.err)
		c.reportError(ev.err)
		return
	}

	c.mu.Lock()
	c.summary = ev.summary
	c.mu.Unlock()

	log.Info("summary ready", "call_id", c.id)
	if c.OnSummary != nil {
		c.OnSummary(ev.summary)
	}
}

// shutdown releases loop-owned resources when the run context ends.
func (c *Call) shutdown() {
	if c.turnCancel != nil {
		c.turnCancel()
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if c.ticker != nil {
		c.ticker.Stop()
	}
	if c.deps.Ring != nil {
		c.deps.Ring.Stop()
	}
	c.deps.Player.Stop()
}

func (c *Call) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	if c.OnPhaseChange != nil {
		c.OnPhaseChange(p)
	}
}

func (c *Call) setStatus(s TurnStatus) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	if c.OnStatusChange != nil {
		c.OnStatusChange(s)
	}
}

func (c *Call) setDuration(seconds int) {
	c.mu.Lock()
	c.duration = seconds
	c.mu.Unlock()
	if c.OnDuration != nil {
		c.OnDuration(seconds)
	}
}

func (c *Call) appendMessage(msg pipeline.Message) {
	c.mu.Lock()
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

func (c *Call) reportError(err error) {
	if err == nil {
		return
	}
	log.Warn("call error", "call_id", c.id, "err", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}
