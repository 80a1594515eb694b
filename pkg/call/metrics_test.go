package call_test

import (
	"strings"
	"testing"

	"github.com/pulsecall/go-callkit/pkg/call"
)

func TestMetricsLatenciesOrdered(t *testing.T) {
	m := call.NewMetricsCollector()

	m.MarkUtteranceEnd()
	m.MarkTranscript()
	m.MarkReply()
	m.MarkPlaybackDone()

	cur := m.Current()
	if cur.TranscribeLatency <= 0 {
		t.Error("transcribe latency not measured")
	}
	if cur.ReplyLatency < cur.TranscribeLatency {
		t.Error("reply latency shorter than transcribe latency")
	}
	if cur.TotalLatency < cur.ReplyLatency {
		t.Error("total latency shorter than reply latency")
	}

	avg := m.Average()
	if avg.TotalLatency <= 0 {
		t.Error("average empty after an archived turn")
	}
}

func TestMetricsWithoutUtteranceAreSkipped(t *testing.T) {
	m := call.NewMetricsCollector()

	// A greeting has no utterance; marks must not produce latencies
	// measured from the zero time.
	m.MarkReply()
	if got := m.Current().ReplyLatency; got != 0 {
		t.Errorf("reply latency = %v without an utterance mark", got)
	}
}

func TestFormatLatencyPlaceholder(t *testing.T) {
	var tm call.TurnMetrics
	if s := tm.FormatLatency(); !strings.Contains(s, "---ms") {
		t.Errorf("FormatLatency() = %q, want placeholder dashes", s)
	}
}
