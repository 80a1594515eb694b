package recorder_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pulsecall/go-callkit/pkg/audio"
	"github.com/pulsecall/go-callkit/pkg/recorder"
)

// fakeDevice replays scripted PCM frames as a capture stream.
type fakeDevice struct {
	frames  [][]int16
	openErr error
}

func (d *fakeDevice) Open(ctx context.Context) (audio.CaptureStream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{frames: d.frames}, nil
}

type fakeStream struct {
	frames [][]int16
	pos    int
	closed bool
}

func (s *fakeStream) Read() ([]int16, error) {
	if s.closed || s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.pos]
	s.pos++
	// A real microphone delivers frames in real time; the detector's hold
	// is measured against the wall clock.
	time.Sleep(time.Millisecond)
	return frame, nil
}

func (s *fakeStream) SampleRate() int { return 16000 }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// blockingDevice yields a stream whose Read never returns until the
// context is cancelled.
type blockingDevice struct{}

func (d *blockingDevice) Open(ctx context.Context) (audio.CaptureStream, error) {
	return &blockingStream{ctx: ctx}, nil
}

type blockingStream struct{ ctx context.Context }

func (s *blockingStream) Read() ([]int16, error) {
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *blockingStream) SampleRate() int { return 16000 }
func (s *blockingStream) Close() error    { return nil }

func loudFrame() []int16 {
	frame := make([]int16, 512)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 8000
		} else {
			frame[i] = -8000
		}
	}
	return frame
}

func quietFrame() []int16 {
	return make([]int16, 512)
}

// shortHold makes the detector fire on the second consecutive quiet frame.
func shortHold() recorder.Option {
	return recorder.WithSilence(0.01, time.Nanosecond)
}

func TestCapturesUntilSilence(t *testing.T) {
	device := &fakeDevice{frames: [][]int16{
		loudFrame(), loudFrame(), loudFrame(),
		quietFrame(), quietFrame(), quietFrame(),
	}}
	rec := recorder.New(device, shortHold())

	clip, err := rec.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if clip.Empty() {
		t.Fatal("clip is empty")
	}
	if clip.MIME != audio.MIMEWAV {
		t.Errorf("clip MIME = %q, want %q", clip.MIME, audio.MIMEWAV)
	}

	samples, rate, channels, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("got %dHz/%dch, want 16000Hz/1ch", rate, channels)
	}
	if len(samples) == 0 {
		t.Error("decoded clip has no samples")
	}
}

func TestStreamEndWithSpeechYieldsClip(t *testing.T) {
	// The stream ends before any silence; the buffered speech still counts.
	device := &fakeDevice{frames: [][]int16{loudFrame(), loudFrame()}}
	rec := recorder.New(device, shortHold())

	clip, err := rec.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if clip.Empty() {
		t.Fatal("clip is empty")
	}
}

func TestSilenceOnlySessionIsEmpty(t *testing.T) {
	device := &fakeDevice{frames: [][]int16{
		quietFrame(), quietFrame(), quietFrame(), quietFrame(),
	}}
	rec := recorder.New(device, shortHold())

	_, err := rec.Begin(context.Background())
	if !errors.Is(err, recorder.ErrEmptyClip) {
		t.Fatalf("Begin() error = %v, want ErrEmptyClip", err)
	}
}

func TestBeginWhileBusyIsRejected(t *testing.T) {
	rec := recorder.New(&blockingDevice{}, shortHold())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Begin(ctx)
	}()

	// Wait for the first session to acquire the device.
	deadline := time.Now().Add(2 * time.Second)
	for !rec.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first session never became busy")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := rec.Begin(context.Background()); !errors.Is(err, recorder.ErrBusy) {
		t.Fatalf("concurrent Begin() error = %v, want ErrBusy", err)
	}

	cancel()
	<-done

	if rec.Busy() {
		t.Fatal("recorder still busy after session ended")
	}
}

func TestCancelledSessionReturnsContextError(t *testing.T) {
	rec := recorder.New(&blockingDevice{}, shortHold())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := rec.Begin(ctx)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Begin() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Begin did not return after cancel")
	}
}

func TestUnavailableDevice(t *testing.T) {
	device := &fakeDevice{openErr: errors.New("permission denied")}
	rec := recorder.New(device)

	_, err := rec.Begin(context.Background())
	if !errors.Is(err, recorder.ErrDeviceUnavailable) {
		t.Fatalf("Begin() error = %v, want ErrDeviceUnavailable", err)
	}
	if rec.Busy() {
		t.Fatal("recorder busy after failed open")
	}
}

func TestOpusEncoderOption(t *testing.T) {
	device := &fakeDevice{frames: [][]int16{
		loudFrame(), loudFrame(),
		quietFrame(), quietFrame(), quietFrame(),
	}}
	rec := recorder.New(device,
		shortHold(),
		recorder.WithEncoder(func() recorder.Encoder { return recorder.NewOpusEncoder() }),
	)

	clip, err := rec.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if clip.MIME != recorder.MIMEOpus {
		t.Errorf("clip MIME = %q, want %q", clip.MIME, recorder.MIMEOpus)
	}
	if clip.Empty() {
		t.Fatal("opus clip is empty")
	}
}
