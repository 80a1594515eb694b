// Command callctl runs a voice follow-up call end to end: it answers the
// call, plays the agent greeting, loops listen → transcribe → reply →
// speak until either side ends the conversation, then prints the visit
// summary.
//
// Usage:
//
//	PATIENT_ID=pt_demo_001 go run ./cmd/callctl
//	go run ./cmd/callctl --patient pt_demo_001 --mic file --wav clip.wav
//	go run ./cmd/callctl --patient pt_demo_001 --mic webrtc --encoder opus
//
// Environment variables:
//
//	PULSECALL_URL      - Backend base URL (default http://localhost:8000)
//	PULSECALL_API_KEY  - Bearer token for the backend (optional)
//	PATIENT_ID         - Patient identifier (or --patient flag)
//	MIC_SIGNAL_URL     - WebRTC signalling server for --mic webrtc
//	CALLKIT_WEB_PORT   - Dashboard port (default 8181)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsecall/go-callkit/internal/config"
	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/audio"
	"github.com/pulsecall/go-callkit/pkg/audio/webrtcmic"
	"github.com/pulsecall/go-callkit/pkg/call"
	"github.com/pulsecall/go-callkit/pkg/pipeline"
	"github.com/pulsecall/go-callkit/pkg/recorder"
	"github.com/pulsecall/go-callkit/pkg/ringback"
	"github.com/pulsecall/go-callkit/pkg/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The call loop gets its own context: an interrupt must still let the
	// hangup run and the summary arrive before the loop is torn down.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	backendURL := flag.String("backend", config.BackendURL(config.DefaultBackendURL), "PulseCall backend base URL")
	patient := flag.String("patient", os.Getenv("PATIENT_ID"), "Patient identifier")
	micBackend := flag.String("mic", "webrtc", "Microphone backend: webrtc, file")
	wavPath := flag.String("wav", "", "WAV file to replay when --mic file")
	signalURL := flag.String("signal", config.SignalURL("ws://localhost:8443"), "Signalling server for --mic webrtc")
	encoderName := flag.String("encoder", "wav", "Utterance encoder: wav, opus")
	webPort := flag.String("web-port", config.WebPort(), "Dashboard port, empty to disable")
	noWeb := flag.Bool("no-web", false, "Disable the dashboard")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	if *debug {
		log.Init("debug")
	} else {
		log.Init("info")
	}

	if *patient == "" {
		fmt.Fprintln(os.Stderr, "Error: patient ID required (--patient or PATIENT_ID)")
		os.Exit(1)
	}

	device, err := buildDevice(*micBackend, *wavPath, *signalURL)
	if err != nil {
		log.Error("microphone setup failed", "err", err)
		os.Exit(1)
	}

	var recOpts []recorder.Option
	if *encoderName == "opus" {
		recOpts = append(recOpts, recorder.WithEncoder(func() recorder.Encoder {
			return recorder.NewOpusEncoder()
		}))
	}
	rec := recorder.New(device, recOpts...)

	client, err := pipeline.NewClient(*backendURL, pipeline.WithAPIKey(config.APIKey()))
	if err != nil {
		log.Error("backend client setup failed", "err", err)
		os.Exit(1)
	}

	sink := audio.NewGstSink()
	player := audio.NewPlayer(sink)
	defer player.Close()

	ring := ringback.New(audio.NewGstSink())
	defer ring.Close()

	cfg := call.DefaultConfig().WithPatientID(*patient)
	session, err := call.New(cfg, call.Deps{
		Recorder:    rec,
		Transcriber: client,
		Responder:   client,
		Summarizer:  client,
		Player:      player,
		Ring:        ring,
	})
	if err != nil {
		log.Error("call setup failed", "err", err)
		os.Exit(1)
	}

	summaryCh := make(chan *pipeline.Summary, 1)

	if !*noWeb && *webPort != "" {
		server := web.NewServer(*webPort)
		server.Attach(session)
		server.SetPatientID(*patient)
		server.StartAsync()
		defer server.Shutdown()

		// Chain onto the dashboard's summary hook so the CLI still prints.
		prev := session.OnSummary
		session.OnSummary = func(s *pipeline.Summary) {
			if prev != nil {
				prev(s)
			}
			select {
			case summaryCh <- s:
			default:
			}
		}
	} else {
		session.OnSummary = func(s *pipeline.Summary) {
			select {
			case summaryCh <- s:
			default:
			}
		}
	}

	session.Start(runCtx)
	session.Answer()

	log.Info("call in progress, Ctrl+C to hang up",
		"call_id", session.ID(), "patient_id", *patient)

	// Wait until the conversation ends on its own or the user interrupts.
	waitForEnd(ctx, session)
	session.Hangup()

	printSummary(session, summaryCh)
}

// buildDevice picks the capture backend.
func buildDevice(backend, wavPath, signalURL string) (audio.CaptureDevice, error) {
	switch backend {
	case "file":
		if wavPath == "" {
			return nil, fmt.Errorf("--wav required with --mic file")
		}
		return &audio.FileDevice{Path: wavPath}, nil
	case "webrtc":
		return webrtcmic.New(signalURL)
	default:
		return nil, fmt.Errorf("unknown microphone backend %q", backend)
	}
}

// waitForEnd blocks until the call leaves the connected phase or the
// context is cancelled.
func waitForEnd(ctx context.Context, session *call.Call) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if session.Phase() == call.PhaseEnded {
				return
			}
		}
	}
}

// printSummary waits briefly for the visit summary and prints it.
func printSummary(session *call.Call, summaryCh <-chan *pipeline.Summary) {
	if len(session.Transcript()) == 0 {
		log.Info("call ended with no conversation, skipping summary")
		return
	}

	select {
	case summary := <-summaryCh:
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			log.Error("summary encode failed", "err", err)
			return
		}
		fmt.Println(string(out))
	case <-time.After(35 * time.Second):
		log.Warn("summary did not arrive in time")
	}

	avg := session.Metrics().Average()
	log.Info("call finished",
		"call_id", session.ID(),
		"duration_s", session.Duration(),
		"turns", len(session.Transcript()),
		"latency", avg.FormatLatency(),
	)
}
