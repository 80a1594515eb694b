package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pulsecall/go-callkit/internal/httpc"
	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
)

// Backend endpoints.
const (
	pathTranscribe = "/voice/transcribe"
	pathChat       = "/voice/chat"
	pathSummary    = "/voice/summary"
)

// MIMEMPEG is the MIME type of reply audio returned by the backend.
const MIMEMPEG = "audio/mpeg"

// Client implements Transcriber, Responder and Summarizer against the
// PulseCall backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a backend client.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.Client,
		logger:  log.With("component", "pipeline.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe submits one utterance clip and returns its text.
// An empty transcription is reported as ErrEmptyTranscription.
func (c *Client) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+pathTranscribe, bytes.NewReader(clip.Data))
	if err != nil {
		return "", wrapOp("transcribe", err)
	}
	req.Header.Set("Content-Type", clip.MIME)
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", wrapOp("transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseError("transcribe", resp)
	}

	var out struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", wrapOp("transcribe", fmt.Errorf("decode response: %w", err))
	}

	text := strings.TrimSpace(out.Transcription)
	if text == "" {
		return "", ErrEmptyTranscription
	}

	c.logger.Debug("transcribed utterance",
		"bytes", len(clip.Data),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// Chat submits the conversation context and returns the agent's reply.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (*ChatReply, error) {
	start := time.Now()

	payload := struct {
		PatientID string    `json:"patient_id"`
		Trigger   string    `json:"trigger"`
		Message   string    `json:"message,omitempty"`
		History   []Message `json:"history"`
	}{
		PatientID: in.PatientID,
		Trigger:   in.Trigger,
		Message:   in.Message,
		History:   in.History,
	}
	if payload.History == nil {
		payload.History = []Message{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapOp("chat", fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+pathChat, bytes.NewReader(body))
	if err != nil {
		return nil, wrapOp("chat", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapOp("chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError("chat", resp)
	}

	var out struct {
		Reply    string  `json:"reply"`
		IsEnding bool    `json:"isEnding"`
		Audio    *string `json:"audio"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, wrapOp("chat", fmt.Errorf("decode response: %w", err))
	}

	reply := &ChatReply{Text: out.Reply, IsEnding: out.IsEnding}
	if out.Audio != nil && *out.Audio != "" {
		reply.Audio, err = base64.StdEncoding.DecodeString(*out.Audio)
		if err != nil {
			return nil, wrapOp("chat", fmt.Errorf("decode audio: %w", err))
		}
	}

	c.logger.Debug("got reply",
		"chars", len(reply.Text),
		"audio_bytes", len(reply.Audio),
		"is_ending", reply.IsEnding,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// Summarize submits the full transcript and returns the call summary.
func (c *Client) Summarize(ctx context.Context, history []Message) (*Summary, error) {
	payload := struct {
		History []Message `json:"history"`
	}{History: history}
	if payload.History == nil {
		payload.History = []Message{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapOp("summary", fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+pathSummary, bytes.NewReader(body))
	if err != nil {
		return nil, wrapOp("summary", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapOp("summary", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError("summary", resp)
	}

	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, wrapOp("summary", fmt.Errorf("decode response: %w", err))
	}
	return &summary, nil
}

// setAuth attaches the bearer token when configured.
func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// parseError converts a non-200 response into an APIError.
func (c *Client) parseError(op string, resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: op}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
			apiErr.Message = detail.Detail
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	return apiErr
}
