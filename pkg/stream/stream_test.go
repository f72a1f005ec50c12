package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNextDecodesTaggedEvents(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"user_transcript","text":"I need an appointment"}`,
		`data: {"type":"tool_call_start","id":"tc1","name":"lookup_appointments","params":{"phone":"5551234567"}}`,
		`data: {"type":"tool_call_end","id":"tc1","status":"completed","result":"2 appointments"}`,
		`data: {"type":"transcript_delta","text":"You have "}`,
		`data: {"type":"audio","audio":"AAAA"}`,
		`data: {"type":"done","end_call":false}`,
	}, "\n")

	d := NewDecoder(strings.NewReader(body), nil)

	wantKinds := []Kind{
		KindUserTranscript, KindToolCallStart, KindToolCallEnd,
		KindDelta, KindAudio, KindDone,
	}
	for i, want := range wantKinds {
		ev, err := d.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if ev.Kind != want {
			t.Errorf("event %d kind = %q, want %q", i, ev.Kind, want)
		}
	}

	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("after last event, err = %v, want EOF", err)
	}
}

func TestNextSkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"transcript_delta","text":"hello"}`,
		`data: {not json at all`,
		``,
		`garbage with no prefix`,
		`data: {"no_type_field":true}`,
		`data: {"type":"done"}`,
	}, "\n")

	d := NewDecoder(strings.NewReader(body), nil)

	ev, err := d.Next()
	if err != nil || ev.Kind != KindDelta {
		t.Fatalf("first event = %v, %v; want delta", ev.Kind, err)
	}
	ev, err = d.Next()
	if err != nil || ev.Kind != KindDone {
		t.Fatalf("second event = %v, %v; want done (malformed lines skipped)", ev.Kind, err)
	}
}

func TestEventFields(t *testing.T) {
	body := `data: {"type":"tool_call_start","id":"abc","name":"cancel_appointment","params":{"when":"friday"}}`
	d := NewDecoder(strings.NewReader(body), nil)

	ev, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "abc" || ev.Name != "cancel_appointment" {
		t.Errorf("got id=%q name=%q", ev.ID, ev.Name)
	}
	if ev.Params["when"] != "friday" {
		t.Errorf("params = %v", ev.Params)
	}
}

func TestConsumeStopsAtTerminal(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"transcript_delta","text":"a"}`,
		`data: {"type":"done","end_call":true}`,
		`data: {"type":"transcript_delta","text":"never seen"}`,
	}, "\n")

	var got []Event
	err := Consume(context.Background(), strings.NewReader(body), nil, func(ev Event) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("handled %d events, want 2", len(got))
	}
	if !got[1].EndCall {
		t.Error("done event lost end_call flag")
	}
}

func TestConsumeErrorEventIsTerminal(t *testing.T) {
	body := `data: {"type":"error","message":"model overloaded"}`

	var last Event
	err := Consume(context.Background(), strings.NewReader(body), nil, func(ev Event) { last = ev })
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if last.Kind != KindError || last.Message != "model overloaded" {
		t.Errorf("last event = %+v", last)
	}
}

func TestConsumeTruncatedStream(t *testing.T) {
	body := `data: {"type":"transcript_delta","text":"cut off"}`

	err := Consume(context.Background(), strings.NewReader(body), nil, func(Event) {})
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

type failingReader struct{ data string }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data != "" {
		n := copy(p, f.data)
		f.data = f.data[n:]
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestConsumeSurfacesReadFailureOnce(t *testing.T) {
	r := &failingReader{data: "data: {\"type\":\"transcript_delta\",\"text\":\"x\"}\n"}

	var handled int
	err := Consume(context.Background(), r, nil, func(Event) { handled++ })
	if err == nil || errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want wrapped read error", err)
	}
	if handled != 1 {
		t.Errorf("handled %d events before failure, want 1", handled)
	}
}
