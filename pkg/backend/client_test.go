package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStartCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/call/start" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["phone"] != "5551234567" {
			t.Errorf("phone = %q", body["phone"])
		}
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	id, err := c.StartCall(context.Background(), "5551234567")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if id != "sess-1" {
		t.Errorf("session id = %q", id)
	}
}

func TestStartCallRejectsBadPhone(t *testing.T) {
	c := New("http://unused", nil)
	for _, phone := range []string{"", "555123", "55512345678"} {
		if _, err := c.StartCall(context.Background(), phone); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("phone %q: err = %v, want ErrInvalidPhone", phone, err)
		}
	}
}

func TestSendTurnStreamsBody(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["session_id"] != "sess-1" {
			t.Errorf("session = %q", body["session_id"])
		}
		if body["audio"] != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("audio = %q", body["audio"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"done\"}\n")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	body, err := c.SendTurn(context.Background(), "sess-1", pcm)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), `"done"`) {
		t.Errorf("body = %q", data)
	}
}

func TestSendTurnWithoutSession(t *testing.T) {
	c := New("http://unused", nil)
	if _, err := c.SendTurn(context.Background(), "", nil); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestEndCallReturnsSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.Contains(body["transcript"], "User: hello") {
			t.Errorf("transcript = %q", body["transcript"])
		}
		json.NewEncoder(w).Encode(Summary{
			Summary: "Caller booked a cleaning.",
			Name:    "John",
			Phone:   "5551234567",
			Changes: []string{"booked: cleaning friday 10am"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	s, err := c.EndCall(context.Background(), "sess-1", "User: hello\nAI: hi John")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if s.Name != "John" || len(s.Changes) != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestAPIErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"error": "quota exhausted"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Identify(context.Background(), "5551234567", "")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if !apiErr.IsQuotaExceeded() {
		t.Errorf("402 not reported as quota exceeded: %v", apiErr)
	}
	if apiErr.Message != "quota exhausted" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestAPIErrorHelpers(t *testing.T) {
	tests := []struct {
		code      int
		quota     bool
		retryable bool
	}{
		{402, true, false},
		{429, true, true},
		{401, false, false},
		{500, false, true},
		{503, false, true},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.code}
		if e.IsQuotaExceeded() != tt.quota {
			t.Errorf("%d: IsQuotaExceeded = %v", tt.code, e.IsQuotaExceeded())
		}
		if e.IsRetryable() != tt.retryable {
			t.Errorf("%d: IsRetryable = %v", tt.code, e.IsRetryable())
		}
	}
}
