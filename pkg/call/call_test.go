package call_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsecall/go-callkit/pkg/audio"
	"github.com/pulsecall/go-callkit/pkg/call"
	"github.com/pulsecall/go-callkit/pkg/pipeline"
	"github.com/pulsecall/go-callkit/pkg/recorder"
)

// instantSink plays everything immediately.
type instantSink struct{}

func (instantSink) Play(ctx context.Context, clip *audio.Clip) error { return nil }
func (instantSink) Close() error                                     { return nil }

// slowSink holds playback open long enough for status assertions.
type slowSink struct{ delay time.Duration }

func (s slowSink) Play(ctx context.Context, clip *audio.Clip) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (slowSink) Close() error { return nil }

type beginResult struct {
	clip *audio.Clip
	err  error
}

// fakeListener blocks each Begin until the test scripts a result.
type fakeListener struct {
	results chan beginResult
	begins  atomic.Int32
}

func newFakeListener() *fakeListener {
	return &fakeListener{results: make(chan beginResult, 8)}
}

func (l *fakeListener) Begin(ctx context.Context) (*audio.Clip, error) {
	l.begins.Add(1)
	select {
	case r := <-l.results:
		return r.clip, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// speak completes the pending (or next) Begin with an utterance clip.
func (l *fakeListener) speak() {
	l.results <- beginResult{clip: &audio.Clip{Data: []byte("pcm"), MIME: audio.MIMEWAV}}
}

func (l *fakeListener) fail(err error) {
	l.results <- beginResult{err: err}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newSession(t *testing.T, mock *pipeline.Mock, sink audio.Sink) (*call.Call, *fakeListener) {
	t.Helper()

	if sink == nil {
		sink = instantSink{}
	}
	listener := newFakeListener()
	player := audio.NewPlayer(sink)
	t.Cleanup(func() { player.Close() })

	cfg := call.DefaultConfig().
		WithPatientID("pt_demo_001").
		WithRetries(5, time.Millisecond)

	session, err := call.New(cfg, call.Deps{
		Recorder:    listener,
		Transcriber: mock,
		Responder:   mock,
		Summarizer:  mock,
		Player:      player,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	session.Start(ctx)
	return session, listener
}

func transcriptLen(s *call.Call) func() bool {
	return func() bool { return len(s.Transcript()) > 0 }
}

func TestNewValidatesConfigAndDeps(t *testing.T) {
	if _, err := call.New(call.DefaultConfig(), call.Deps{}); err == nil {
		t.Error("New() with empty patient ID succeeded")
	}

	cfg := call.DefaultConfig().WithPatientID("pt_demo_001")
	if _, err := call.New(cfg, call.Deps{}); err == nil {
		t.Error("New() with missing deps succeeded")
	}
}

func TestAnswerRunsGreetingThenListens(t *testing.T) {
	mock := pipeline.NewMock()
	session, listener := newSession(t, mock, nil)

	if session.Phase() != call.PhaseHome {
		t.Fatalf("initial phase = %v, want home", session.Phase())
	}

	session.Answer()

	waitFor(t, transcriptLen(session), "greeting never appended")
	waitFor(t, func() bool { return session.Status() == call.StatusRecording },
		"never started listening after greeting")

	if session.Phase() != call.PhaseConnected {
		t.Errorf("phase = %v, want connected", session.Phase())
	}

	transcript := session.Transcript()
	if len(transcript) != 1 || transcript[0].Role != pipeline.RoleAgent {
		t.Fatalf("transcript = %+v, want one agent message", transcript)
	}
	if mock.CallCount("Transcribe") != 0 {
		t.Error("greeting ran transcription")
	}
	if listener.begins.Load() != 1 {
		t.Errorf("listener began %d times, want 1", listener.begins.Load())
	}
}

func TestTranscriptAlternatesRoles(t *testing.T) {
	mock := pipeline.NewMock()
	session, listener := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, func() bool { return session.Status() == call.StatusRecording }, "not listening")

	listener.speak()
	waitFor(t, func() bool { return len(session.Transcript()) == 3 }, "turn never completed")

	transcript := session.Transcript()
	wantRoles := []pipeline.Role{pipeline.RoleAgent, pipeline.RoleCaller, pipeline.RoleAgent}
	for i, want := range wantRoles {
		if transcript[i].Role != want {
			t.Errorf("transcript[%d].Role = %q, want %q", i, transcript[i].Role, want)
		}
	}
}

func TestAgentEndingEndsCallAndSummarizes(t *testing.T) {
	mock := pipeline.NewMock()
	var chats atomic.Int32
	mock.ChatFunc = func(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatReply, error) {
		if chats.Add(1) == 1 {
			return &pipeline.ChatReply{Text: "Hi, quick check-in. How are you?"}, nil
		}
		return &pipeline.ChatReply{Text: "Great. Take care, goodbye.", IsEnding: true}, nil
	}

	session, listener := newSession(t, mock, nil)
	session.Answer()
	waitFor(t, func() bool { return session.Status() == call.StatusRecording }, "not listening")

	listener.speak()
	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")
	waitFor(t, func() bool { return session.Summary() != nil }, "summary never arrived")

	if got := mock.CallCount("Summarize"); got != 1 {
		t.Errorf("Summarize called %d times, want 1", got)
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, transcriptLen(session), "greeting never appended")

	session.Hangup()
	session.Hangup()
	session.Hangup()

	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")
	waitFor(t, func() bool { return session.Summary() != nil }, "summary never arrived")

	// Let any duplicate summary request surface.
	time.Sleep(50 * time.Millisecond)
	if got := mock.CallCount("Summarize"); got != 1 {
		t.Errorf("Summarize called %d times, want 1", got)
	}
}

func TestInterruptHangupStillSummarizes(t *testing.T) {
	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	// Mirrors the CLI shutdown wiring: the interrupt signal cancels its
	// own context, never the context the call loop runs on, so the hangup
	// still drives the call to ended and requests the summary.
	interrupt, fire := context.WithCancel(context.Background())

	session.Answer()
	waitFor(t, func() bool { return session.Status() == call.StatusRecording }, "not listening")

	fire()
	<-interrupt.Done()
	session.Hangup()

	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded },
		"never reached ended after interrupt hangup")
	waitFor(t, func() bool { return session.Summary() != nil },
		"summary lost after interrupt hangup")

	if got := mock.CallCount("Summarize"); got != 1 {
		t.Errorf("Summarize called %d times, want 1", got)
	}
}

func TestHangupWithoutConversationSkipsSummary(t *testing.T) {
	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	session.Hangup()
	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")

	time.Sleep(50 * time.Millisecond)
	if got := mock.CallCount("Summarize"); got != 0 {
		t.Errorf("Summarize called %d times, want 0", got)
	}
	if session.Summary() != nil {
		t.Error("summary set without a conversation")
	}
}

func TestChatFailureKeepsCallerTextAndRecovers(t *testing.T) {
	mock := pipeline.NewMock()
	var chats atomic.Int32
	mock.ChatFunc = func(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatReply, error) {
		switch chats.Add(1) {
		case 2:
			return nil, &pipeline.APIError{StatusCode: 503, Endpoint: "chat"}
		default:
			return &pipeline.ChatReply{Text: "Understood."}, nil
		}
	}

	session, listener := newSession(t, mock, nil)
	session.Answer()
	waitFor(t, func() bool { return session.Status() == call.StatusRecording }, "not listening")

	// This utterance hits the failing chat: the caller's words must stay.
	listener.speak()
	waitFor(t, func() bool { return len(session.Transcript()) == 2 }, "caller text never appended")

	// After the retry pause the call listens again; the next turn succeeds.
	waitFor(t, func() bool { return listener.begins.Load() >= 2 }, "never re-listened after failure")
	listener.speak()
	waitFor(t, func() bool { return len(session.Transcript()) == 4 }, "recovery turn never completed")

	transcript := session.Transcript()
	wantRoles := []pipeline.Role{
		pipeline.RoleAgent, pipeline.RoleCaller, pipeline.RoleCaller, pipeline.RoleAgent,
	}
	for i, want := range wantRoles {
		if transcript[i].Role != want {
			t.Errorf("transcript[%d].Role = %q, want %q", i, transcript[i].Role, want)
		}
	}
}

func TestRetryLimitPausesTurnLoop(t *testing.T) {
	mock := pipeline.NewMock()
	mock.TranscribeFunc = func(ctx context.Context, clip *audio.Clip) (string, error) {
		return "", errors.New("asr down")
	}

	listener := newFakeListener()
	player := audio.NewPlayer(instantSink{})
	t.Cleanup(func() { player.Close() })

	cfg := call.DefaultConfig().
		WithPatientID("pt_demo_001").
		WithRetries(1, time.Millisecond)
	session, err := call.New(cfg, call.Deps{
		Recorder:    listener,
		Transcriber: mock,
		Responder:   mock,
		Summarizer:  mock,
		Player:      player,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	session.Start(ctx)

	session.Answer()
	waitFor(t, func() bool { return listener.begins.Load() == 1 }, "not listening")

	listener.speak() // failure 1: within the limit, re-listens
	waitFor(t, func() bool { return listener.begins.Load() == 2 }, "no retry after first failure")

	listener.speak() // failure 2: over the limit, loop pauses
	waitFor(t, func() bool { return session.Status() == call.StatusIdle }, "never went idle")

	time.Sleep(50 * time.Millisecond)
	if got := listener.begins.Load(); got != 2 {
		t.Errorf("listener began %d times after limit, want 2", got)
	}
	if session.Phase() != call.PhaseConnected {
		t.Errorf("phase = %v, want still connected", session.Phase())
	}
}

func TestEmptyUtteranceRelistensWithoutPipeline(t *testing.T) {
	mock := pipeline.NewMock()
	session, listener := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, func() bool { return listener.begins.Load() == 1 }, "not listening")

	listener.fail(recorder.ErrEmptyClip)
	waitFor(t, func() bool { return listener.begins.Load() == 2 }, "did not re-listen after empty clip")

	if got := mock.CallCount("Transcribe"); got != 0 {
		t.Errorf("Transcribe called %d times for an empty utterance", got)
	}
	if session.Phase() != call.PhaseConnected {
		t.Errorf("phase = %v, want connected", session.Phase())
	}
}

func TestHangupDiscardsInFlightReply(t *testing.T) {
	mock := pipeline.NewMock()
	release := make(chan struct{})
	var chats atomic.Int32
	mock.ChatFunc = func(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatReply, error) {
		if chats.Add(1) == 1 {
			return &pipeline.ChatReply{Text: "Hello!"}, nil
		}
		<-release
		return &pipeline.ChatReply{Text: "too late"}, nil
	}

	session, listener := newSession(t, mock, nil)
	session.Answer()
	waitFor(t, func() bool { return session.Status() == call.StatusRecording }, "not listening")

	listener.speak()
	waitFor(t, func() bool { return chats.Load() == 2 }, "turn chat never started")

	session.Hangup()
	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")

	close(release)
	time.Sleep(50 * time.Millisecond)

	for _, msg := range session.Transcript() {
		if msg.Content == "too late" {
			t.Fatal("stale reply leaked into the ended call's transcript")
		}
	}
}

func TestRestartResetsToFreshCall(t *testing.T) {
	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, transcriptLen(session), "greeting never appended")
	firstID := session.ID()

	session.Hangup()
	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")

	session.Restart()
	waitFor(t, func() bool { return session.Phase() == call.PhaseHome }, "restart never reached home")

	if len(session.Transcript()) != 0 {
		t.Error("transcript survived restart")
	}
	if session.Summary() != nil {
		t.Error("summary survived restart")
	}
	if session.Duration() != 0 {
		t.Error("duration survived restart")
	}
	if session.ID() == firstID {
		t.Error("restart kept the old call ID")
	}

	// The fresh call is answerable again.
	session.Answer()
	waitFor(t, transcriptLen(session), "second call's greeting never appended")
	if session.Phase() != call.PhaseConnected {
		t.Errorf("phase = %v, want connected", session.Phase())
	}
}

func TestRestartOnlyFromEnded(t *testing.T) {
	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, transcriptLen(session), "greeting never appended")

	session.Restart()
	time.Sleep(20 * time.Millisecond)
	if session.Phase() != call.PhaseConnected {
		t.Errorf("restart moved a connected call to %v", session.Phase())
	}
}

func TestSpeakingStatusDuringReplyPlayback(t *testing.T) {
	mock := pipeline.NewMock()
	mock.ChatFunc = func(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatReply, error) {
		return &pipeline.ChatReply{
			Text:  "Hi there.",
			Audio: []byte{0xFF, 0xFB, 0x01},
		}, nil
	}

	session, _ := newSession(t, mock, slowSink{delay: 100 * time.Millisecond})
	session.Answer()

	waitFor(t, func() bool { return session.Status() == call.StatusSpeaking }, "never speaking")
	waitFor(t, func() bool { return session.Status() == call.StatusRecording },
		"never listening after playback")
}

func TestDurationTicksAndFreezes(t *testing.T) {
	if testing.Short() {
		t.Skip("ticker test takes over a second")
	}

	mock := pipeline.NewMock()
	session, _ := newSession(t, mock, nil)

	session.Answer()
	waitFor(t, func() bool { return session.Duration() >= 1 }, "duration never ticked")

	session.Hangup()
	waitFor(t, func() bool { return session.Phase() == call.PhaseEnded }, "call never ended")

	frozen := session.Duration()
	time.Sleep(1200 * time.Millisecond)
	if got := session.Duration(); got != frozen {
		t.Errorf("duration moved after hangup: %d → %d", frozen, got)
	}
}
