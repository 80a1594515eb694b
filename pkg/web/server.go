// Package web provides a real-time monitoring and control dashboard for a
// call session. The dashboard is a projection: it derives everything it
// shows from call state and transcript events, and drives the call only
// through its public commands.
package web

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/pulsecall/go-callkit/internal/log"
	"github.com/pulsecall/go-callkit/pkg/call"
	"github.com/pulsecall/go-callkit/pkg/hub"
	"github.com/pulsecall/go-callkit/pkg/pipeline"
)

// CallState is the dashboard's view of the call.
type CallState struct {
	CallID          string `json:"call_id"`
	PatientID       string `json:"patient_id"`
	Phase           string `json:"phase"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	Turns           int    `json:"turns"`
	SummaryReady    bool   `json:"summary_ready"`
	LastError       string `json:"last_error,omitempty"`
}

// TranscriptEntry is one conversation message for the dashboard.
type TranscriptEntry struct {
	Time string `json:"time"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// LogEntry is one log line for the dashboard.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, error
	Message string `json:"message"`
}

// Server is the dashboard server.
type Server struct {
	app  *fiber.App
	port string

	session *call.Call

	state   CallState
	stateMu sync.RWMutex

	// Last 500 log lines.
	logs   []LogEntry
	logsMu sync.RWMutex

	transcript   []TranscriptEntry
	transcriptMu sync.RWMutex

	summary   *pipeline.Summary
	summaryMu sync.RWMutex

	statusHub     *hub.Hub
	transcriptHub *hub.Hub
	logHub        *hub.Hub
}

// NewServer creates a dashboard server listening on the given port.
func NewServer(port string) *Server {
	s := &Server{
		port:          port,
		logs:          make([]LogEntry, 0, 500),
		transcript:    make([]TranscriptEntry, 0, 100),
		statusHub:     hub.New("status"),
		transcriptHub: hub.New("transcript"),
		logHub:        hub.New("logs"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "CallKit Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Static("/", "./web")

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleGetTranscript)
	api.Get("/summary", s.handleGetSummary)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/metrics", s.handleGetMetrics)
	api.Post("/answer", s.handleAnswer)
	api.Post("/hangup", s.handleHangup)
	api.Post("/restart", s.handleRestart)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// Attach wires the server to a call session: it takes over the session's
// callbacks to keep the projection current, and routes control endpoints
// to the session's commands.
func (s *Server) Attach(c *call.Call) {
	s.session = c

	s.UpdateState(func(st *CallState) {
		st.CallID = c.ID()
		st.Phase = c.Phase().String()
		st.Status = c.Status().String()
	})

	c.OnPhaseChange = func(p call.Phase) {
		s.UpdateState(func(st *CallState) {
			st.CallID = c.ID()
			st.Phase = p.String()
			if p == call.PhaseHome {
				// Fresh session after a restart.
				st.DurationSeconds = 0
				st.Turns = 0
				st.SummaryReady = false
				st.LastError = ""
				s.resetTranscript()
				s.setSummary(nil)
			}
		})
		s.AddLog("info", "phase: "+p.String())
	}
	c.OnStatusChange = func(st call.TurnStatus) {
		s.UpdateState(func(state *CallState) { state.Status = st.String() })
	}
	c.OnDuration = func(seconds int) {
		s.UpdateState(func(state *CallState) { state.DurationSeconds = seconds })
	}
	c.OnMessage = s.recordMessage
	c.OnSummary = func(sum *pipeline.Summary) {
		s.setSummary(sum)
		s.UpdateState(func(state *CallState) { state.SummaryReady = true })
		s.AddLog("info", "summary ready")
	}
	c.OnError = func(err error) {
		s.UpdateState(func(state *CallState) { state.LastError = err.Error() })
		s.AddLog("error", err.Error())
	}
}

// SetPatientID records the patient the dashboard is following.
func (s *Server) SetPatientID(id string) {
	s.UpdateState(func(st *CallState) { st.PatientID = id })
}

// Start starts the server. It blocks.
func (s *Server) Start() error {
	log.Info("dashboard listening", "addr", "http://localhost:"+s.port)

	go s.statusHub.Run()
	go s.transcriptHub.Run()
	go s.logHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("dashboard server failed", "err", err)
		}
	}()
}

// UpdateState applies a mutation to the call state and broadcasts the
// result to status subscribers.
func (s *Server) UpdateState(update func(*CallState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

// AddLog appends a log entry and broadcasts it.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > 500 {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// recordMessage projects one transcript message onto the dashboard.
// Turns counts caller exchanges, not individual messages.
func (s *Server) recordMessage(msg pipeline.Message) {
	s.AddTranscript(string(msg.Role), msg.Content)
	if msg.Role == pipeline.RoleCaller {
		s.UpdateState(func(state *CallState) { state.Turns++ })
	}
}

// AddTranscript appends a conversation entry and broadcasts it.
func (s *Server) AddTranscript(role, text string) {
	entry := TranscriptEntry{
		Time: time.Now().Format("15:04:05"),
		Role: role,
		Text: text,
	}

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	s.transcriptMu.Unlock()

	s.transcriptHub.BroadcastJSON(entry)
}

func (s *Server) resetTranscript() {
	s.transcriptMu.Lock()
	s.transcript = s.transcript[:0]
	s.transcriptMu.Unlock()
}

func (s *Server) setSummary(sum *pipeline.Summary) {
	s.summaryMu.Lock()
	s.summary = sum
	s.summaryMu.Unlock()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
