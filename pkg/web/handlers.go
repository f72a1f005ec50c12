package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// handleStatus returns the current call snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

// handleTranscript returns the buffered conversation.
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	return c.JSON(s.transcript)
}

// handleTools returns recent tool invocations.
func (s *Server) handleTools(c *fiber.Ctx) error {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()
	return c.JSON(s.tools)
}

// handleStatusWS streams state snapshots. The current snapshot is sent
// on connect so late observers start in sync.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.stateMu.RLock()
	c.WriteJSON(s.state)
	s.stateMu.RUnlock()

	s.statusHub.Serve(c)
}

// handleEventsWS streams transcript and tool events as they happen.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.transcriptMu.RLock()
	for i := range s.transcript {
		c.WriteJSON(event{Type: "transcript", Transcript: &s.transcript[i]})
	}
	s.transcriptMu.RUnlock()

	s.eventHub.Serve(c)
}
