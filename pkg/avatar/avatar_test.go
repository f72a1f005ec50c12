package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// serveSession runs a fake hosted session that pushes the given events
// and records inbound messages.
func serveSession(t *testing.T, events []string, inbound chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for _, ev := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if inbound != nil {
				inbound <- string(data)
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportDispatchesEvents(t *testing.T) {
	srv := serveSession(t, []string{
		`{"type":"transcript","role":"user","text":"hi there"}`,
		`{"type":"tool_call_start","id":"tc1","name":"lookup_appointments","params":{"phone":"5551234567"}}`,
		`{"type":"tool_call_end","id":"tc1","status":"completed","result":"1 found"}`,
	}, nil)
	defer srv.Close()

	tr := New(wsURL(srv), nil)
	defer tr.Close()

	transcripts := make(chan string, 1)
	toolStarts := make(chan string, 1)
	toolEnds := make(chan string, 1)
	tr.OnTranscript = func(role, text string) { transcripts <- role + ":" + text }
	tr.OnToolCall = func(id, name string, params map[string]any) { toolStarts <- id + ":" + name }
	tr.OnToolResult = func(id, status, result string) { toolEnds <- id + ":" + status }

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !tr.IsConnected() {
		t.Error("not connected after Connect")
	}

	expect := func(ch <-chan string, want string) {
		t.Helper()
		select {
		case got := <-ch:
			if got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("never received %q", want)
		}
	}
	expect(transcripts, "user:hi there")
	expect(toolStarts, "tc1:lookup_appointments")
	expect(toolEnds, "tc1:completed")
}

func TestQuotaEventTriggersFallback(t *testing.T) {
	srv := serveSession(t, []string{
		`{"type":"quota_exceeded","reason":"monthly minutes exhausted"}`,
	}, nil)
	defer srv.Close()

	tr := New(wsURL(srv), nil)
	defer tr.Close()

	quota := make(chan struct{}, 1)
	tr.OnQuotaExceeded = func() { quota <- struct{}{} }

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-quota:
	case <-time.After(time.Second):
		t.Fatal("quota callback never fired")
	}
}

func TestSendContextCarriesMarker(t *testing.T) {
	inbound := make(chan string, 1)
	srv := serveSession(t, nil, inbound)
	defer srv.Close()

	tr := New(wsURL(srv), nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	msg := AppointmentContext("John", []string{"cleaning friday 10am"})
	if err := tr.SendContext(msg); err != nil {
		t.Fatalf("SendContext: %v", err)
	}

	select {
	case raw := <-inbound:
		var got map[string]string
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("unmarshal inbound: %v", err)
		}
		if got["type"] != "context" {
			t.Errorf("type = %q", got["type"])
		}
		if !strings.HasPrefix(got["text"], ContextMarker) {
			t.Errorf("context text missing marker: %q", got["text"])
		}
		if !strings.Contains(got["text"], "cleaning friday 10am") {
			t.Errorf("context text missing appointments: %q", got["text"])
		}
	case <-time.After(time.Second):
		t.Fatal("server never received context message")
	}
}

func TestSendContextRequiresConnection(t *testing.T) {
	tr := New("ws://unused", nil)
	if err := tr.SendContext("hello"); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestAppointmentContext(t *testing.T) {
	got := AppointmentContext("", nil)
	if !strings.Contains(got, "no scheduled appointments") {
		t.Errorf("empty list: %q", got)
	}

	got = AppointmentContext("Sarah", []string{"checkup monday", "cleaning friday"})
	if !strings.Contains(got, "Sarah") || !strings.Contains(got, "checkup monday; cleaning friday") {
		t.Errorf("got %q", got)
	}
}

func TestDisconnectCallback(t *testing.T) {
	// The session must be torn down from inside the handler: the
	// connection is hijacked after the upgrade, so closing it is the
	// handler's job, not the test server's.
	endSession := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		<-endSession
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session over"))
		conn.Close()
	}))
	defer srv.Close()

	tr := New(wsURL(srv), nil)
	defer tr.Close()

	disconnected := make(chan struct{}, 1)
	tr.OnDisconnected = func(err error) { disconnected <- struct{}{} }

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	close(endSession)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
	if tr.IsConnected() {
		t.Error("still reported connected after session close")
	}
}
