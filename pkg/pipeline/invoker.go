package pipeline

import (
	"context"

	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
)

// TurnKind distinguishes the opening greeting from a caller utterance.
type TurnKind int

const (
	// KindGreeting is the agent-initiated opening turn. No transcription
	// runs; the backend is triggered with an empty history.
	KindGreeting TurnKind = iota

	// KindUtterance is a recorded caller utterance.
	KindUtterance
)

// Stage is the step of a turn currently in flight, reported through
// OnStage so the caller can surface turn status.
type Stage int

const (
	StageTranscribing Stage = iota
	StageThinking
)

// Outcome classifies a finished turn.
type Outcome int

const (
	// OutcomeOK means the turn produced a reply.
	OutcomeOK Outcome = iota

	// OutcomeRetry means a transient failure: the caller should resume
	// listening without advancing the agent side of the transcript.
	OutcomeRetry
)

// TurnInput describes one turn for RunTurn.
type TurnInput struct {
	Kind      TurnKind
	Clip      *audio.Clip
	PatientID string

	// History is the conversation so far, not including this turn.
	History []Message
}

// TurnResult is the outcome of one turn.
//
// CallerText is set as soon as transcription succeeds, even when a later
// step fails: the caller's words are real and must not be discarded on a
// downstream failure.
type TurnResult struct {
	Outcome    Outcome
	CallerText string
	ReplyText  string
	Audio      *audio.Clip
	IsEnding   bool
	Err        error
}

// Invoker runs the strictly sequential transcribe → reply steps of one
// turn. Turns never overlap; the call state machine gates the next RunTurn
// on the previous turn's full resolution.
type Invoker struct {
	transcriber Transcriber
	responder   Responder

	// OnStage, if set, is invoked as the turn enters each step.
	OnStage func(Stage)

	// OnCallerText, if set, is invoked with the transcription result
	// before reply generation begins.
	OnCallerText func(text string)
}

// NewInvoker creates an invoker over the given remote operations.
func NewInvoker(t Transcriber, r Responder) *Invoker {
	return &Invoker{transcriber: t, responder: r}
}

// RunTurn executes one turn. No step begins before the previous resolves.
func (iv *Invoker) RunTurn(ctx context.Context, in TurnInput) *TurnResult {
	var callerText string

	if in.Kind == KindUtterance {
		iv.stage(StageTranscribing)

		text, err := iv.transcriber.Transcribe(ctx, in.Clip)
		if err != nil {
			log.Warn("transcription failed", "err", err)
			return &TurnResult{Outcome: OutcomeRetry, Err: err}
		}
		callerText = text
		if iv.OnCallerText != nil {
			iv.OnCallerText(text)
		}
	}

	iv.stage(StageThinking)

	req := ChatRequest{
		PatientID: in.PatientID,
		History:   in.History,
	}
	if in.Kind == KindGreeting {
		req.Trigger = TriggerInitial
	} else {
		req.Trigger = TriggerFollowup
		req.Message = callerText
	}

	reply, err := iv.responder.Chat(ctx, req)
	if err != nil {
		// The caller utterance stays applied; only the agent side of the
		// turn is abandoned.
		log.Warn("reply generation failed", "err", err)
		return &TurnResult{Outcome: OutcomeRetry, CallerText: callerText, Err: err}
	}

	result := &TurnResult{
		Outcome:    OutcomeOK,
		CallerText: callerText,
		ReplyText:  reply.Text,
		IsEnding:   reply.IsEnding,
	}
	if len(reply.Audio) > 0 {
		result.Audio = &audio.Clip{Data: reply.Audio, MIME: MIMEMPEG}
	}
	return result
}

func (iv *Invoker) stage(s Stage) {
	if iv.OnStage != nil {
		iv.OnStage(s)
	}
}
