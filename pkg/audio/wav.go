package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MIMEWAV is the MIME type for WAV-encoded clips.
const MIMEWAV = "audio/wav"

// ErrNotWAV is returned when parsing data that is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a WAV file")

// EncodeWAV wraps PCM16 samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	fileSize := 36 + dataSize

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, sample := range samples {
		binary.Write(&buf, binary.LittleEndian, sample)
	}

	return buf.Bytes()
}

// DecodeWAV parses a PCM16 RIFF/WAVE buffer and returns its samples,
// sample rate and channel count. Non-PCM and non-16-bit files are rejected.
func DecodeWAV(data []byte) (samples []int16, sampleRate, channels int, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, ErrNotWAV
	}

	pos := 12
	var pcm []byte
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			return nil, 0, 0, fmt.Errorf("audio: truncated WAV chunk %q", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, 0, fmt.Errorf("audio: short fmt chunk (%d bytes)", chunkSize)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("audio: unsupported WAV format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if bits != 16 {
				return nil, 0, 0, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, 0, fmt.Errorf("audio: missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, 0, fmt.Errorf("audio: missing data chunk")
	}

	return ConvertPCM16ToInt16(pcm), sampleRate, channels, nil
}
