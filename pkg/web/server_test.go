package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusEndpoint(t *testing.T) {
	s := NewServer("0", nil)

	s.UpdateState(func(cs *CallState) {
		cs.SessionID = "sess-1"
		cs.State = "listening"
		cs.LastUserMessage = "hello"
	})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got CallState
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.SessionID != "sess-1" || got.State != "listening" {
		t.Errorf("got %+v, want session sess-1 in listening", got)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	s := NewServer("0", nil)

	s.AddTranscript("user", "I need to cancel my appointment")
	s.AddTranscript("agent", "Sure, which one?")

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var got []TranscriptEntry
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "agent" {
		t.Errorf("roles = %q, %q; want user, agent", got[0].Role, got[1].Role)
	}
}

func TestTranscriptBufferBounded(t *testing.T) {
	s := NewServer("0", nil)

	for i := 0; i < maxTranscript+50; i++ {
		s.AddTranscript("user", "line")
	}

	s.transcriptMu.RLock()
	n := len(s.transcript)
	s.transcriptMu.RUnlock()
	if n != maxTranscript {
		t.Errorf("buffer length = %d, want %d", n, maxTranscript)
	}
}

func TestToolsEndpoint(t *testing.T) {
	s := NewServer("0", nil)

	s.AddTool("get_available_slots", "running", "")
	s.AddTool("get_available_slots", "completed", "3 slots")

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var got []ToolEntry
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[1].Status != "completed" || got[1].Result != "3 slots" {
		t.Errorf("final entry = %+v, want completed with result", got[1])
	}
}
