// Package backend is the HTTP client for the appointment-scheduling
// service: call lifecycle, per-turn audio exchange, caller
// identification, and appointment reads.
//
// The turn endpoint streams its response; SendTurn hands the raw body
// back so the caller can feed it through the stream decoder. Everything
// else is a plain JSON request/response.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deekshitha3782/voice-agent-client/internal/httpc"
)

// Client talks to the scheduling backend.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// New creates a Client for the given base URL.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc.Client,
		stream:  httpc.StreamClient,
		logger:  logger,
	}
}

// Appointment is a scheduled appointment as the backend reports it.
// The client only reads these; cancellation is delegated to the
// backend, never performed locally.
type Appointment struct {
	ID      string `json:"id"`
	Service string `json:"service"`
	When    string `json:"when"`
	Status  string `json:"status"`
}

// IdentifiedUser is the result of a caller lookup.
type IdentifiedUser struct {
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	Appointments []Appointment `json:"appointments"`
}

// Summary is the backend's wrap-up for a finished call.
type Summary struct {
	Summary string   `json:"summary"`
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Changes []string `json:"changes"`
}

// StartCall opens a call session for the given 10-digit phone number
// and returns the session identifier.
func (c *Client) StartCall(ctx context.Context, phone string) (string, error) {
	if len(phone) != 10 {
		return "", ErrInvalidPhone
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.postJSON(ctx, "/api/call/start", map[string]string{"phone": phone}, &resp)
	if err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("backend: start call returned empty session id")
	}
	return resp.SessionID, nil
}

// SendTurn posts one audio clip for the session and returns the
// streaming response body. The caller owns the body and must close it;
// feed it through stream.Consume to process the turn's events. The
// request has no overall deadline, only ctx.
func (c *Client) SendTurn(ctx context.Context, sessionID string, pcm []byte) (io.ReadCloser, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}

	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"audio":      base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/call/turn", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: send turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp.Body, nil
}

// EndCall closes the session, posting the assembled plain-text
// transcript ("AI: ..." / "User: ..." lines), and returns the generated
// summary.
func (c *Client) EndCall(ctx context.Context, sessionID, transcript string) (*Summary, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}

	var summary Summary
	err := c.postJSON(ctx, "/api/call/end", map[string]string{
		"session_id": sessionID,
		"transcript": transcript,
	}, &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Identify looks a caller up by phone and/or name. Used both
// automatically when speech yields a phone number or introduction, and
// manually on explicit form submission.
func (c *Client) Identify(ctx context.Context, phone, name string) (*IdentifiedUser, error) {
	var user IdentifiedUser
	err := c.postJSON(ctx, "/api/identify", map[string]string{
		"phone": phone,
		"name":  name,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Appointments lists the caller's appointments.
func (c *Client) Appointments(ctx context.Context, phone string) ([]Appointment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/appointments?phone="+phone, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: list appointments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var out []Appointment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("backend: decode appointments: %w", err)
	}
	return out, nil
}

// CancelAppointment delegates appointment cancellation to the backend.
func (c *Client) CancelAppointment(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/api/appointments/"+id+"/cancel", struct{}{}, nil)
}

// postJSON posts payload and decodes the JSON response into out, which
// may be nil to discard the body.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	return nil
}

// apiError builds an APIError from a non-200 response, picking up a
// JSON error message when present.
func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(data, &body) == nil {
			if body.Message != "" {
				apiErr.Message = body.Message
			} else {
				apiErr.Message = body.Error
			}
		}
	}
	return apiErr
}
