package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/pulsecall/go-callkit/pkg/hub"
)

// handleStatus returns the current call state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

// handleGetTranscript returns the conversation so far.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	return c.JSON(s.transcript)
}

// handleGetSummary returns the terminal summary, 404 until it arrives.
func (s *Server) handleGetSummary(c *fiber.Ctx) error {
	s.summaryMu.RLock()
	defer s.summaryMu.RUnlock()
	if s.summary == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "summary not available",
		})
	}
	return c.JSON(s.summary)
}

// handleGetLogs returns recent log entries.
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleGetMetrics returns per-turn latency metrics.
func (s *Server) handleGetMetrics(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no call attached",
		})
	}
	cur := s.session.Metrics().Current()
	avg := s.session.Metrics().Average()
	return c.JSON(fiber.Map{
		"current": cur.FormatLatency(),
		"average": avg.FormatLatency(),
	})
}

// handleAnswer answers the call.
func (s *Server) handleAnswer(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no call attached",
		})
	}
	s.session.Answer()
	return c.JSON(fiber.Map{"ok": true})
}

// handleHangup hangs the call up.
func (s *Server) handleHangup(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no call attached",
		})
	}
	s.session.Hangup()
	return c.JSON(fiber.Map{"ok": true})
}

// handleRestart resets an ended call to a fresh one.
func (s *Server) handleRestart(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no call attached",
		})
	}
	s.session.Restart()
	return c.JSON(fiber.Map{"ok": true})
}

// handleStatusWS streams call state updates.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// Send the current state before handing off to the hub, so the client
	// never renders empty.
	s.stateMu.RLock()
	c.WriteJSON(s.state)
	s.stateMu.RUnlock()

	hub.NewClient(s.statusHub, c).Run()
}

// handleTranscriptWS streams transcript entries.
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	s.transcriptMu.RLock()
	for _, entry := range s.transcript {
		c.WriteJSON(entry)
	}
	s.transcriptMu.RUnlock()

	hub.NewClient(s.transcriptHub, c).Run()
}

// handleLogsWS streams log entries.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	for _, entry := range s.logs {
		c.WriteJSON(entry)
	}
	s.logsMu.RUnlock()

	hub.NewClient(s.logHub, c).Run()
}
