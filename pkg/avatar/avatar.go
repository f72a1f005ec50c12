// Package avatar adapts the hosted avatar/video transport.
//
// When the avatar path is enabled, local capture, playback, and voice
// activity detection stay dormant: the hosted session runs the whole
// media loop and this adapter only relays transcript and tool-call
// events back to the orchestrator, plus out-of-band context the client
// wants the hosted agent grounded on. The media pipeline itself is a
// black box behind the websocket.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ContextMarker prefixes out-of-band grounding messages so the hosted
// agent can tell them apart from caller speech.
const ContextMarker = "[CTX]"

// Errors returned by the transport.
var (
	ErrNotConnected     = errors.New("avatar: not connected")
	ErrAlreadyConnected = errors.New("avatar: already connected")
)

// ErrQuotaExceeded signals that the hosted session was rejected or
// terminated for quota/billing reasons. The client falls back to the
// local capture/playback path instead of failing the call.
var ErrQuotaExceeded = errors.New("avatar: session quota exceeded")

// event is the wire format of transport messages.
type event struct {
	Type   string         `json:"type"`
	Role   string         `json:"role,omitempty"`
	Text   string         `json:"text,omitempty"`
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Status string         `json:"status,omitempty"`
	Result string         `json:"result,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// Transport is a client for one hosted avatar session.
type Transport struct {
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	// OnConnected fires once the session is live.
	OnConnected func()
	// OnDisconnected fires when the session closes for any reason.
	OnDisconnected func(err error)
	// OnTranscript relays agent/user utterances from the hosted session.
	OnTranscript func(role, text string)
	// OnToolCall relays tool-call starts.
	OnToolCall func(id, name string, params map[string]any)
	// OnToolResult relays tool-call resolutions.
	OnToolResult func(id, status, result string)
	// OnQuotaExceeded fires when the hosted side reports a quota or
	// billing rejection; the client should fall back to the local path.
	OnQuotaExceeded func()
}

// New creates a Transport for the given websocket URL.
func New(url string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		url:    url,
		logger: logger.With("component", "avatar"),
	}
}

// Connect dials the hosted session and starts the event loop.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests) {
			t.notifyQuota()
			return fmt.Errorf("avatar: dial rejected (%d): %w", resp.StatusCode, ErrQuotaExceeded)
		}
		return fmt.Errorf("avatar: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(loopCtx, conn)

	t.logger.Info("avatar session connected", "url", t.url)
	if t.OnConnected != nil {
		t.OnConnected()
	}
	return nil
}

// IsConnected reports whether the session is live.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// readLoop dispatches transport events until the connection dies.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	var loopErr error
	defer func() {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()

		if wasConnected && t.OnDisconnected != nil {
			t.OnDisconnected(loopErr)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return
			}
			loopErr = err
			return
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.logger.Debug("skipping malformed avatar event", "err", err)
			continue
		}
		t.dispatch(ev)
	}
}

func (t *Transport) dispatch(ev event) {
	switch ev.Type {
	case "transcript":
		if t.OnTranscript != nil {
			t.OnTranscript(ev.Role, ev.Text)
		}
	case "tool_call_start":
		if t.OnToolCall != nil {
			t.OnToolCall(ev.ID, ev.Name, ev.Params)
		}
	case "tool_call_end":
		if t.OnToolResult != nil {
			t.OnToolResult(ev.ID, ev.Status, ev.Result)
		}
	case "quota_exceeded":
		t.logger.Warn("avatar session hit quota", "reason", ev.Reason)
		t.notifyQuota()
	default:
		t.logger.Debug("ignoring avatar event", "type", ev.Type)
	}
}

func (t *Transport) notifyQuota() {
	if t.OnQuotaExceeded != nil {
		t.OnQuotaExceeded()
	}
}

// SendContext injects an out-of-band grounding message: the caller's
// active appointments, or a "no appointments" notice, marker-prefixed
// so the hosted agent treats it as context rather than speech.
func (t *Transport) SendContext(text string) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	msg, err := json.Marshal(map[string]string{
		"type": "context",
		"text": ContextMarker + " " + text,
	})
	if err != nil {
		return fmt.Errorf("avatar: marshal context: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("avatar: send context: %w", err)
	}
	return nil
}

// Close shuts the session down.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	conn := t.conn
	t.conn = nil
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	t.logger.Info("avatar session closed")
	return nil
}

// AppointmentContext renders the grounding message for SendContext.
// Pass no appointments to produce the explicit "none" notice.
func AppointmentContext(callerName string, appointments []string) string {
	if len(appointments) == 0 {
		if callerName != "" {
			return fmt.Sprintf("Caller %s has no scheduled appointments.", callerName)
		}
		return "Caller has no scheduled appointments."
	}

	msg := "Caller"
	if callerName != "" {
		msg += " " + callerName
	}
	msg += " has the following appointments: "
	for i, a := range appointments {
		if i > 0 {
			msg += "; "
		}
		msg += a
	}
	return msg
}
