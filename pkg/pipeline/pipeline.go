// Package pipeline sequences the three remote operations behind one call
// turn: transcription, reply generation and summary. The remote services
// are opaque; this package owns their request/response shapes, the HTTP
// client against the PulseCall backend, and the per-turn invoker the call
// state machine drives.
package pipeline

import (
	"context"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Role identifies who produced a transcript message. Values match the
// backend's wire format.
type Role string

const (
	// RoleCaller is the patient on the call.
	RoleCaller Role = "user"

	// RoleAgent is the automated agent.
	RoleAgent Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chat triggers.
const (
	TriggerInitial  = "initial"
	TriggerFollowup = "followup"
)

// ChatRequest is the reply-generation input: the new utterance plus the
// full prior conversation.
type ChatRequest struct {
	PatientID string
	Trigger   string
	Message   string
	History   []Message
}

// ChatReply is the reply-generation output. Audio is nil when the backend
// returned no synthesized speech; that is the text-only fallback, not an
// error.
type ChatReply struct {
	Text     string
	IsEnding bool
	Audio    []byte
}

// Summary is the terminal call summary. Nil pointers and empty fields mean
// "not discussed", never zero.
type Summary struct {
	PainLevel           *int     `json:"painLevel,omitempty"`
	Symptoms            []string `json:"symptoms,omitempty"`
	MedicationAdherence *bool    `json:"medicationAdherence,omitempty"`
	PTExercise          *bool    `json:"ptExercise,omitempty"`
	Concerns            string   `json:"concerns,omitempty"`
	Recommendation      string   `json:"recommendation,omitempty"`
	FollowUp            string   `json:"followUp,omitempty"`
	Narrative           string   `json:"summary,omitempty"`
}

// Transcriber converts one utterance clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *audio.Clip) (string, error)
}

// Responder generates the agent's next reply.
type Responder interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatReply, error)
}

// Summarizer produces the terminal call summary from the full transcript.
type Summarizer interface {
	Summarize(ctx context.Context, history []Message) (*Summary, error)
}
