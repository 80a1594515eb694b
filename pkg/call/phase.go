package call

// Phase is the top-level call state.
//
// Home → Connected on Answer, Connected → Ended on Hangup or when the
// pipeline signals the conversation is over. No transition leaves Ended;
// Restart produces a fresh Home state.
type Phase int

const (
	// PhaseHome means the call has not been answered yet.
	PhaseHome Phase = iota

	// PhaseConnected means live turn-taking is in progress.
	PhaseConnected

	// PhaseEnded is terminal; the summary may still be loading.
	PhaseEnded
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseHome:
		return "home"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// TurnStatus is the sub-state of the current turn while the call is
// connected. Exactly one is active at a time; it gates side effects such
// as starting a recording.
type TurnStatus int

const (
	// StatusIdle means no turn activity (connecting, or recovering from
	// an error).
	StatusIdle TurnStatus = iota

	// StatusRecording means a caller utterance is being captured.
	StatusRecording

	// StatusTranscribing means the utterance is at the transcription step.
	StatusTranscribing

	// StatusThinking means reply generation is in flight.
	StatusThinking

	// StatusSpeaking means the agent's reply audio is playing.
	StatusSpeaking
)

// String returns the status name.
func (s TurnStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusTranscribing:
		return "transcribing"
	case StatusThinking:
		return "thinking"
	case StatusSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
