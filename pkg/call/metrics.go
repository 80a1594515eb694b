package call

import (
	"sync"
	"time"
)

// TurnMetrics tracks latency at each stage of one conversation turn.
// All durations are measured from the moment the caller stops talking.
type TurnMetrics struct {
	// Timestamps for key events
	UtteranceEndTime time.Time // Silence detected, recording finished
	TranscriptTime   time.Time // Transcription completed
	ReplyTime        time.Time // Reply (and its audio) received
	PlaybackDoneTime time.Time // Reply playback finished

	// Computed latencies (from utterance end)
	TranscribeLatency time.Duration
	ReplyLatency      time.Duration
	TotalLatency      time.Duration
}

// MetricsCollector collects per-turn latency metrics. It is goroutine-safe
// and can be updated from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics

	onUpdate func(TurnMetrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]TurnMetrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(TurnMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkUtteranceEnd records when the caller stopped speaking. This is the
// reference point for the turn's latency measurements.
func (m *MetricsCollector) MarkUtteranceEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{}
	m.current.UtteranceEndTime = time.Now()
}

// MarkTranscript records when transcription completed.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = time.Now()
	if !m.current.UtteranceEndTime.IsZero() {
		m.current.TranscribeLatency = m.current.TranscriptTime.Sub(m.current.UtteranceEndTime)
	}
	m.notify()
}

// MarkReply records when the agent reply arrived.
func (m *MetricsCollector) MarkReply() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	if !m.current.UtteranceEndTime.IsZero() {
		m.current.ReplyLatency = m.current.ReplyTime.Sub(m.current.UtteranceEndTime)
	}
	m.notify()
}

// MarkPlaybackDone records when reply playback finished and archives the turn.
func (m *MetricsCollector) MarkPlaybackDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.PlaybackDoneTime = time.Now()
	if !m.current.UtteranceEndTime.IsZero() {
		m.current.TotalLatency = m.current.PlaybackDoneTime.Sub(m.current.UtteranceEndTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.notify()
}

// Current returns the current turn's metrics snapshot.
func (m *MetricsCollector) Current() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return TurnMetrics{}
	}

	var avg TurnMetrics
	for _, h := range m.history {
		avg.TranscribeLatency += h.TranscribeLatency
		avg.ReplyLatency += h.ReplyLatency
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.TranscribeLatency /= n
	avg.ReplyLatency /= n
	avg.TotalLatency /= n

	return avg
}

// notify calls the update callback if set. Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of the turn's latencies.
func (t *TurnMetrics) FormatLatency() string {
	return formatDuration(t.TranscribeLatency) + " ASR | " +
		formatDuration(t.ReplyLatency) + " REPLY | " +
		formatDuration(t.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
