package pipeline

import (
	"context"
	"sync"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Mock implements Transcriber, Responder and Summarizer for testing.
// All methods can be customized via function fields.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns a fixed utterance.
	TranscribeFunc func(ctx context.Context, clip *audio.Clip) (string, error)

	// ChatFunc is called when Chat is invoked.
	// If nil, returns a fixed non-ending reply with no audio.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatReply, error)

	// SummarizeFunc is called when Summarize is invoked.
	// If nil, returns an empty summary.
	SummarizeFunc func(ctx context.Context, history []Message) (*Summary, error)

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method  string
	Request any
}

// NewMock creates a mock with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, clip *audio.Clip) (string, error) {
			return "I'm doing okay today.", nil
		},
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatReply, error) {
			return &ChatReply{Text: "Glad to hear it. Any pain today?"}, nil
		},
		SummarizeFunc: func(ctx context.Context, history []Message) (*Summary, error) {
			return &Summary{}, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	m.record("Transcribe", clip)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, clip)
	}
	return "", ErrEmptyTranscription
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	m.record("Chat", req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ChatReply{}, nil
}

// Summarize calls SummarizeFunc and records the call.
func (m *Mock) Summarize(ctx context.Context, history []Message) (*Summary, error) {
	m.record("Summarize", history)
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, history)
	}
	return &Summary{}, nil
}

func (m *Mock) record(method string, req any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Request: req})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Compile-time interface checks.
var (
	_ Transcriber = (*Mock)(nil)
	_ Responder   = (*Mock)(nil)
	_ Summarizer  = (*Mock)(nil)
)
