// Package web provides a read-only status dashboard for a running call.
package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/deekshitha3782/voice-agent-client/pkg/hub"
)

// CallState is the snapshot the dashboard renders.
type CallState struct {
	SessionID       string `json:"session_id"`
	State           string `json:"state"`
	AvatarActive    bool   `json:"avatar_active"`
	MicPaused       bool   `json:"mic_paused"`
	LastUserMessage string `json:"last_user_message"`
	LastAgentReply  string `json:"last_agent_reply"`
	IdentifiedName  string `json:"identified_name,omitempty"`
	IdentifiedPhone string `json:"identified_phone,omitempty"`
}

// TranscriptEntry is one finalized line of the conversation.
type TranscriptEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"` // user, agent
	Message string `json:"message"`
}

// ToolEntry is one tool invocation observed during the call.
type ToolEntry struct {
	Time   string `json:"time"`
	Name   string `json:"name"`
	Status string `json:"status"` // running, completed, error
	Result string `json:"result,omitempty"`
}

const (
	maxTranscript = 200
	maxTools      = 100
)

// Server is the web dashboard server. All update methods are safe to
// call from the orchestrator's callbacks and never block on slow
// observers.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	state   CallState
	stateMu sync.RWMutex

	transcript   []TranscriptEntry
	transcriptMu sync.RWMutex

	tools   []ToolEntry
	toolsMu sync.RWMutex

	statusHub *hub.Hub
	eventHub  *hub.Hub
}

// NewServer creates a dashboard server listening on port.
func NewServer(port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:       port,
		logger:     logger,
		transcript: make([]TranscriptEntry, 0, maxTranscript),
		tools:      make([]ToolEntry, 0, maxTools),
		statusHub:  hub.New("status", logger),
		eventHub:   hub.New("events", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Call Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/tools", s.handleTools)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start runs the server; it blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", "http://localhost:"+s.port)

	go s.statusHub.Run()
	go s.eventHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("dashboard server stopped", "error", err)
		}
	}()
}

// UpdateState applies update to the snapshot and broadcasts the result.
func (s *Server) UpdateState(update func(*CallState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

type event struct {
	Type       string           `json:"type"` // transcript, tool
	Transcript *TranscriptEntry `json:"transcript,omitempty"`
	Tool       *ToolEntry       `json:"tool,omitempty"`
}

// AddTranscript records a finalized conversation line and broadcasts it.
func (s *Server) AddTranscript(role, message string) {
	entry := TranscriptEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    role,
		Message: message,
	}

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	if len(s.transcript) > maxTranscript {
		s.transcript = s.transcript[1:]
	}
	s.transcriptMu.Unlock()

	s.eventHub.BroadcastJSON(event{Type: "transcript", Transcript: &entry})
}

// AddTool records a tool invocation update and broadcasts it.
func (s *Server) AddTool(name, status, result string) {
	entry := ToolEntry{
		Time:   time.Now().Format("15:04:05"),
		Name:   name,
		Status: status,
		Result: result,
	}

	s.toolsMu.Lock()
	s.tools = append(s.tools, entry)
	if len(s.tools) > maxTools {
		s.tools = s.tools[1:]
	}
	s.toolsMu.Unlock()

	s.eventHub.BroadcastJSON(event{Type: "tool", Tool: &entry})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
