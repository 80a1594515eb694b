package audio_test

import (
	"math"
	"testing"

	"github.com/pulsecall/go-callkit/pkg/audio"
)

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(make([]int16, 512)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// A constant-amplitude square wave has RMS equal to its amplitude.
	frame := make([]int16, 512)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 16384
		} else {
			frame[i] = -16384
		}
	}
	want := 16384.0 / 32768.0
	if got := audio.RMS(frame); math.Abs(got-want) > 1e-9 {
		t.Errorf("RMS(square) = %v, want %v", got, want)
	}
}

func TestConvertRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := audio.ConvertPCM16ToInt16(audio.ConvertInt16ToPCM16(samples))
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(i)
	}

	down := audio.Resample(samples, 48000, 16000)
	if len(down) != 160 {
		t.Errorf("48k→16k: got %d samples, want 160", len(down))
	}

	same := audio.Resample(samples, 16000, 16000)
	if len(same) != len(samples) {
		t.Errorf("identity resample changed length: %d", len(same))
	}
}
