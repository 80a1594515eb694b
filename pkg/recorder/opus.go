package recorder

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

// MIMEOpus is the MIME type for Opus-encoded clips. Packets are framed as
// a uint16 little-endian length prefix followed by the raw Opus packet,
// which is the framing the backend's transcription service accepts.
const MIMEOpus = "audio/opus"

const (
	opusRate      = 16000
	opusFrameSize = opusRate / 50 // 20ms frames
	opusMaxPacket = 1275          // max Opus packet size per RFC 6716
)

// OpusEncoder compresses PCM16 frames with libopus. Streams at other sample
// rates are resampled to 16kHz before encoding.
type OpusEncoder struct {
	enc     *opus.Encoder
	srcRate int
	pending []int16
	out     []byte
}

// NewOpusEncoder creates an Opus clip encoder.
func NewOpusEncoder() *OpusEncoder {
	return &OpusEncoder{}
}

// Reset starts a new clip for a stream at the given sample rate.
func (e *OpusEncoder) Reset(sampleRate int) error {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	e.enc = enc
	e.srcRate = sampleRate
	e.pending = e.pending[:0]
	e.out = e.out[:0]
	return nil
}

// Encode appends one frame, emitting complete 20ms Opus packets.
func (e *OpusEncoder) Encode(frame []int16) error {
	if e.enc == nil {
		return fmt.Errorf("opus encoder not reset")
	}

	if e.srcRate != opusRate {
		frame = audio.Resample(frame, e.srcRate, opusRate)
	}
	e.pending = append(e.pending, frame...)

	buf := make([]byte, opusMaxPacket)
	for len(e.pending) >= opusFrameSize {
		n, err := e.enc.Encode(e.pending[:opusFrameSize], buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		e.pending = e.pending[opusFrameSize:]

		var prefix [2]byte
		binary.LittleEndian.PutUint16(prefix[:], uint16(n))
		e.out = append(e.out, prefix[:]...)
		e.out = append(e.out, buf[:n]...)
	}
	return nil
}

// Finish seals the clip, padding any trailing partial frame with silence.
func (e *OpusEncoder) Finish() (*audio.Clip, error) {
	if e.enc == nil {
		return nil, fmt.Errorf("opus encoder not reset")
	}

	if len(e.pending) > 0 {
		pad := make([]int16, opusFrameSize-len(e.pending))
		if err := e.Encode(pad); err != nil {
			return nil, err
		}
	}

	data := make([]byte, len(e.out))
	copy(data, e.out)
	e.out = e.out[:0]

	return &audio.Clip{Data: data, MIME: MIMEOpus}, nil
}
