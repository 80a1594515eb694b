// Package webrtcmic captures caller audio from a remote microphone over
// WebRTC. It joins a websocket signalling server, starts a session with the
// named audio producer and decodes the inbound Opus track to PCM frames.
package webrtcmic

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
)

const (
	// captureRate is the decode rate of the inbound Opus track.
	captureRate = 48000

	// maxFrameSamples is 120ms at 48kHz, the largest Opus frame.
	maxFrameSamples = 5760

	// DefaultProducer is the signalling name of the handset microphone.
	DefaultProducer = "handset"
)

// Device connects to the signalling server on each Open and yields a
// capture stream for one recording session.
type Device struct {
	signalURL string
	producer  string
}

// Option configures a Device.
type Option func(*Device)

// WithProducer selects the signalling producer to pull audio from.
func WithProducer(name string) Option {
	return func(d *Device) { d.producer = name }
}

// New creates a WebRTC microphone device.
func New(signalURL string, opts ...Option) (*Device, error) {
	if signalURL == "" {
		return nil, fmt.Errorf("webrtcmic: signalling URL required")
	}
	d := &Device{signalURL: signalURL, producer: DefaultProducer}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Open dials the signalling server, negotiates a recvonly audio session
// with the producer and returns the decoded PCM stream.
func (d *Device) Open(ctx context.Context) (audio.CaptureStream, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.signalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("webrtcmic: dial signalling: %w", err)
	}

	producerID, err := findProducer(ws, d.producer)
	if err != nil {
		ws.Close()
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("webrtcmic: peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		ws.Close()
		return nil, fmt.Errorf("webrtcmic: add transceiver: %w", err)
	}

	decoder, err := opus.NewDecoder(captureRate, 1)
	if err != nil {
		pc.Close()
		ws.Close()
		return nil, fmt.Errorf("webrtcmic: opus decoder: %w", err)
	}

	s := &stream{
		ws:     ws,
		pc:     pc,
		frames: make(chan []int16, 64),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Debug("audio track up", "codec", track.Codec().MimeType)
		s.decodeLoop(track, decoder)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		s.sendICE(init)
	})

	if err := ws.WriteJSON(map[string]string{
		"type":   "startSession",
		"peerId": producerID,
	}); err != nil {
		pc.Close()
		ws.Close()
		return nil, fmt.Errorf("webrtcmic: start session: %w", err)
	}

	go s.signalLoop()

	return s, nil
}

// findProducer runs the welcome/list exchange and returns the peer ID of
// the named producer.
func findProducer(ws *websocket.Conn, name string) (string, error) {
	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := ws.ReadJSON(&welcome); err != nil {
		return "", fmt.Errorf("webrtcmic: read welcome: %w", err)
	}

	if err := ws.WriteJSON(map[string]string{"type": "list"}); err != nil {
		return "", fmt.Errorf("webrtcmic: request producers: %w", err)
	}
	var list struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := ws.ReadJSON(&list); err != nil {
		return "", fmt.Errorf("webrtcmic: read producers: %w", err)
	}

	for _, p := range list.Producers {
		if p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("webrtcmic: producer %q not found", name)
}

// stream is one live capture session.
type stream struct {
	ws *websocket.Conn
	pc *webrtc.PeerConnection

	frames chan []int16
	errc   chan error

	mu        sync.Mutex
	sessionID string
	dropped   int

	// Serializes signalling sends: the SDP answer and ICE candidates are
	// written from different goroutines and the conn allows one writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Read returns the next decoded PCM frame. It returns io.EOF after Close.
func (s *stream) Read() ([]int16, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case err := <-s.errc:
		return nil, err
	case <-s.closed:
		return nil, io.EOF
	}
}

// SampleRate returns the PCM rate of frames from Read.
func (s *stream) SampleRate() int { return captureRate }

// Close tears the session down. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pc.Close()
		s.ws.Close()
	})
	return nil
}

// decodeLoop pulls RTP off the track and decodes it to PCM frames. It runs
// on pion's track goroutine and exits when the track or session ends.
func (s *stream) decodeLoop(track *webrtc.TrackRemote, decoder *opus.Decoder) {
	frameBuf := make([]int16, maxFrameSamples)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.fail(err)
			return
		}
		s.handlePacket(pkt, decoder, frameBuf)
	}
}

func (s *stream) handlePacket(pkt *rtp.Packet, decoder *opus.Decoder, frameBuf []int16) {
	n, err := decoder.Decode(pkt.Payload, frameBuf)
	if err != nil {
		log.Warn("opus decode failed", "payload_bytes", len(pkt.Payload), "err", err)
		return
	}

	frame := make([]int16, n)
	copy(frame, frameBuf[:n])

	select {
	case s.frames <- frame:
	case <-s.closed:
	default:
		// Reader fell behind; dropping is better than stalling RTP.
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		if dropped == 1 || dropped%100 == 0 {
			log.Warn("dropping audio frames", "dropped", dropped)
		}
	}
}

// signalLoop answers the producer's SDP offer and exchanges ICE candidates.
func (s *stream) signalLoop() {
	for {
		var msg map[string]any
		if err := s.ws.ReadJSON(&msg); err != nil {
			s.fail(err)
			return
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "sessionStarted":
			id, _ := msg["sessionId"].(string)
			s.mu.Lock()
			s.sessionID = id
			s.mu.Unlock()

		case "peer":
			if sdpData, ok := msg["sdp"].(map[string]any); ok {
				s.handleSDP(sdpData)
			}
			if iceData, ok := msg["ice"].(map[string]any); ok {
				s.handleRemoteICE(iceData)
			}
		}
	}
}

func (s *stream) handleSDP(sdpData map[string]any) {
	sdpType, _ := sdpData["type"].(string)
	sdpStr, _ := sdpData["sdp"].(string)
	if sdpType != "offer" {
		return
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpStr,
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		s.fail(err)
		return
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	s.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": sessionID,
		"sdp": map[string]string{
			"type": answer.Type.String(),
			"sdp":  answer.SDP,
		},
	})
}

func (s *stream) handleRemoteICE(iceData map[string]any) {
	candidate, _ := iceData["candidate"].(string)
	var sdpMid string
	if mid, ok := iceData["sdpMid"]; ok && mid != nil {
		sdpMid, _ = mid.(string)
	}
	var sdpMLineIndex uint16
	if idx, ok := iceData["sdpMLineIndex"]; ok && idx != nil {
		if f, ok := idx.(float64); ok {
			sdpMLineIndex = uint16(f)
		}
	}

	s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	})
}

func (s *stream) sendICE(init webrtc.ICECandidateInit) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return
	}

	s.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]any{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (s *stream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

// fail delivers the terminal error to the reader once.
func (s *stream) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

var _ audio.CaptureDevice = (*Device)(nil)
