// Package app assembles the call client: audio pipelines, backend
// client, orchestrator, optional avatar transport, and the status
// dashboard. It owns component lifecycle; cmd/callclient stays a thin
// flag-parsing shell around it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deekshitha3782/voice-agent-client/internal/config"
	"github.com/deekshitha3782/voice-agent-client/pkg/audioio"
	"github.com/deekshitha3782/voice-agent-client/pkg/avatar"
	"github.com/deekshitha3782/voice-agent-client/pkg/backend"
	"github.com/deekshitha3782/voice-agent-client/pkg/call"
	"github.com/deekshitha3782/voice-agent-client/pkg/capture"
	"github.com/deekshitha3782/voice-agent-client/pkg/extract"
	"github.com/deekshitha3782/voice-agent-client/pkg/playback"
	"github.com/deekshitha3782/voice-agent-client/pkg/vad"
	"github.com/deekshitha3782/voice-agent-client/pkg/web"
)

// App wires all call client components together.
type App struct {
	cfg    config.Config
	phone  string
	logger *slog.Logger

	source audioio.Source
	sink   audioio.Sink

	recorder *capture.Recorder
	speaker  *playback.Speaker
	api      *backend.Client
	orch     *call.Orchestrator
	avatar   *avatar.Transport
	web      *web.Server

	identity identity
}

// New creates an App from validated configuration. The phone number
// must already be ten digits; the caller normalizes user input first.
func New(cfg config.Config, phone string, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(phone) != 10 {
		return nil, fmt.Errorf("app: phone must be 10 digits, got %q", phone)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, phone: phone, logger: logger}, nil
}

// Init builds every component and wires the callbacks. Call before Run.
func (a *App) Init() error {
	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(a.cfg.AudioBackend)
	audioCfg.Device = a.cfg.AudioDevice

	source, err := audioio.NewSource(audioCfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: audio source: %w", err)
	}
	a.source = source

	sink, err := audioio.NewSink(audioCfg, a.logger)
	if err != nil {
		source.Close()
		return fmt.Errorf("app: audio sink: %w", err)
	}
	a.sink = sink

	a.recorder = capture.NewRecorder(capture.Config{
		Audio: audioCfg,
		VAD: vad.Config{
			SilenceThreshold: a.cfg.SilenceThreshold,
			SpeechThreshold:  a.cfg.SpeechThreshold,
			SilenceDuration:  a.cfg.SilenceDuration,
			MinRecording:     a.cfg.MinRecording,
		},
		MaxRecording: a.cfg.MaxRecording,
		MinClipBytes: a.cfg.MinClipBytes,
	}, source, a.logger)

	a.speaker = playback.NewSpeaker(sink, a.logger)
	a.api = backend.New(a.cfg.Backend, a.logger)

	a.orch = call.New(call.Config{
		RestartAfterPlayback: a.cfg.RestartAfterPlayback,
		RestartAfterTurn:     a.cfg.RestartAfterTurn,
		RestartAfterDiscard:  a.cfg.RestartAfterDiscard,
	}, a.recorder, a.speaker, a.api, a.logger)

	// Capture and playback completions feed the orchestrator.
	a.recorder.OnClip = a.orch.HandleClip
	a.recorder.OnDiscard = a.orch.HandleDiscard
	a.speaker.OnEnded = a.orch.HandlePlaybackEnded

	if a.cfg.WebPort != "" {
		a.web = web.NewServer(a.cfg.WebPort, a.logger)
	}
	a.wireObservers()

	if a.cfg.AvatarEnabled {
		a.avatar = avatar.New(a.cfg.AvatarURL, a.logger)
		a.wireAvatar()
	}

	return nil
}

// Run starts the call and blocks until it ends or the context is
// cancelled. Cancellation ends the call cleanly.
func (a *App) Run(ctx context.Context) error {
	if a.web != nil {
		a.web.StartAsync()
	}

	if a.avatar != nil {
		if err := a.connectAvatar(ctx); err != nil {
			a.logger.Warn("avatar unavailable, using local audio", "err", err)
			a.avatar = nil
		}
	}

	done := make(chan struct{})
	a.orch.OnEnded = func(summary *backend.Summary) {
		a.reportSummary(summary)
		close(done)
	}

	if err := a.orch.Start(ctx, a.phone); err != nil {
		return err
	}
	if a.web != nil {
		a.web.UpdateState(func(s *web.CallState) {
			s.SessionID = a.orch.SessionID()
		})
	}

	select {
	case <-ctx.Done():
		if _, err := a.orch.End(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("ending call", "err", err)
		}
		<-done
	case <-done:
	}
	return nil
}

// Shutdown releases every component. Safe after a failed Init.
func (a *App) Shutdown() {
	if a.avatar != nil {
		a.avatar.Close()
	}
	if a.speaker != nil {
		a.speaker.Close()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.web != nil {
		a.web.Shutdown()
	}
}

// reportSummary logs the backend's wrap-up for the finished call.
func (a *App) reportSummary(summary *backend.Summary) {
	if summary == nil {
		a.logger.Info("call ended without summary")
		return
	}
	a.logger.Info("call summary",
		"name", summary.Name,
		"phone", summary.Phone,
		"summary", summary.Summary,
	)
	for _, change := range summary.Changes {
		a.logger.Info("schedule change", "change", change)
	}
}

// identity is the opportunistically extracted caller identity. Its
// mutex matters: user utterances arrive from the stream consumer or
// the avatar read loop depending on the active path.
type identity struct {
	mu    sync.Mutex
	name  string
	phone string
	sent  bool
}

// wireObservers connects orchestrator callbacks to the dashboard and
// to identity extraction. Dashboard updates never block; the hub drops
// slow observers.
func (a *App) wireObservers() {
	a.orch.OnStateChange = func(s call.State) {
		a.logger.Debug("phase", "state", s.String())
		if a.web != nil {
			a.web.UpdateState(func(cs *web.CallState) {
				cs.State = s.String()
				cs.MicPaused = a.orch.MicPaused()
			})
		}
	}

	a.orch.OnMessage = func(m call.Message) {
		if m.Role == call.RoleUser {
			a.logger.Info("caller", "text", m.Text)
			a.observeUserText(m.Text)
		} else {
			a.logger.Info("agent", "text", m.Text)
		}
		if a.web != nil {
			a.web.AddTranscript(string(m.Role), m.Text)
			a.web.UpdateState(func(cs *web.CallState) {
				if m.Role == call.RoleUser {
					cs.LastUserMessage = m.Text
				} else {
					cs.LastAgentReply = m.Text
				}
			})
		}
	}

	a.orch.OnToolCall = func(rec call.ToolCallRecord) {
		a.logger.Info("tool", "name", rec.Name, "status", string(rec.Status))
		if a.web != nil {
			a.web.AddTool(rec.Name, string(rec.Status), rec.Result)
		}
	}

	a.orch.OnError = func(err error) {
		a.logger.Warn("call error", "err", err)
	}
}

// observeUserText scans a caller utterance for a name or phone number
// and identifies the caller against the backend once both are known.
// Extraction failures are silent; the agent asks again on its own.
func (a *App) observeUserText(text string) {
	a.identity.mu.Lock()
	if a.identity.sent {
		a.identity.mu.Unlock()
		return
	}
	if name, ok := extract.Name(text); ok && a.identity.name == "" {
		a.identity.name = name
		a.logger.Debug("caller name heard", "name", name)
	}
	if phone, ok := extract.PhoneNumber(text); ok && a.identity.phone == "" {
		a.identity.phone = phone
		a.logger.Debug("caller phone heard", "phone", phone)
	}
	if a.identity.name == "" || a.identity.phone == "" {
		a.identity.mu.Unlock()
		return
	}
	a.identity.sent = true
	name, phone := a.identity.name, a.identity.phone
	a.identity.mu.Unlock()

	go func(name, phone string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := a.api.Identify(ctx, phone, name)
		if err != nil {
			a.logger.Warn("caller lookup failed", "err", err)
			return
		}
		a.logger.Info("caller identified",
			"name", user.Name,
			"appointments", len(user.Appointments),
		)
		if a.web != nil {
			a.web.UpdateState(func(cs *web.CallState) {
				cs.IdentifiedName = user.Name
				cs.IdentifiedPhone = user.Phone
			})
		}
		a.sendAvatarContext(user)
	}(name, phone)
}

// sendAvatarContext grounds the hosted avatar session in the caller's
// schedule so it stops asking for details the client already knows.
func (a *App) sendAvatarContext(user *backend.IdentifiedUser) {
	if a.avatar == nil || !a.avatar.IsConnected() {
		return
	}
	lines := make([]string, 0, len(user.Appointments))
	for _, appt := range user.Appointments {
		lines = append(lines, fmt.Sprintf("%s on %s (%s)", appt.Service, appt.When, appt.Status))
	}
	msg := avatar.AppointmentContext(user.Name, lines)
	if err := a.avatar.SendContext(msg); err != nil {
		a.logger.Warn("sending avatar context", "err", err)
	}
}

// wireAvatar connects transport callbacks to the orchestrator. While
// the hosted session is live the local audio pipelines stay dormant;
// a quota rejection falls back to them mid-call.
func (a *App) wireAvatar() {
	t := a.avatar

	t.OnTranscript = func(role, text string) {
		if strings.EqualFold(role, "user") {
			a.orch.AppendUserMessage(text)
		} else {
			a.orch.AppendAgentMessage(text)
		}
	}

	t.OnToolCall = func(id, name string, params map[string]any) {
		a.logger.Info("avatar tool", "name", name)
		if a.web != nil {
			a.web.AddTool(name, string(call.ToolRunning), "")
		}
	}

	t.OnToolResult = func(id, status, result string) {
		if a.web != nil {
			a.web.AddTool(id, status, result)
		}
	}

	t.OnQuotaExceeded = func() {
		a.logger.Warn("avatar quota exceeded, falling back to local audio")
		a.orch.SetAvatarActive(false)
		if a.web != nil {
			a.web.UpdateState(func(cs *web.CallState) { cs.AvatarActive = false })
		}
	}

	t.OnDisconnected = func(err error) {
		if err != nil {
			a.logger.Warn("avatar disconnected", "err", err)
		}
		a.orch.SetAvatarActive(false)
		if a.web != nil {
			a.web.UpdateState(func(cs *web.CallState) { cs.AvatarActive = false })
		}
	}
}

// connectAvatar dials the hosted session and flips the orchestrator to
// the avatar path before the call starts.
func (a *App) connectAvatar(ctx context.Context) error {
	if err := a.avatar.Connect(ctx); err != nil {
		return err
	}
	a.orch.SetAvatarActive(true)
	if a.web != nil {
		a.web.UpdateState(func(cs *web.CallState) { cs.AvatarActive = true })
	}
	return nil
}
