package audio

import (
	"context"
	"fmt"
	"os/exec"
)

// gstPipeline decodes whatever encoded audio arrives on stdin and plays it
// on the default local output. decodebin handles WAV, Opus and MP3 clips.
const gstPipeline = `gst-launch-1.0 -q fdsrc fd=0 ! decodebin ! audioconvert ! audioresample ! autoaudiosink`

// GstSink plays clips through a local GStreamer pipeline.
// Each Play spawns one short-lived gst-launch process; cancelling the
// context kills the process and releases the output device.
type GstSink struct{}

// NewGstSink creates a local GStreamer playback sink.
func NewGstSink() *GstSink {
	return &GstSink{}
}

// Play writes the clip into a gst-launch pipeline and blocks until the
// pipeline drains or ctx is cancelled.
func (s *GstSink) Play(ctx context.Context, clip *Clip) error {
	if clip.Empty() {
		return nil
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", gstPipeline)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	if _, err := stdin.Write(clip.Data); err != nil {
		stdin.Close()
		cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("write to pipeline: %w", err)
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Close implements Sink. The sink holds no long-lived resources.
func (s *GstSink) Close() error {
	return nil
}
