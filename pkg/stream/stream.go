// Package stream decodes the agent's turn response: a newline-delimited
// sequence of "data: "-prefixed JSON events.
//
// Each line carries one tagged-union event. A malformed line is skipped
// without aborting the stream; a stream-level read failure surfaces
// exactly once and ends turn processing. Events are delivered strictly
// in arrival order.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Kind identifies an event variant.
type Kind string

const (
	// KindUserTranscript carries the transcription of the user's clip.
	KindUserTranscript Kind = "user_transcript"
	// KindToolCallStart announces an agent tool invocation.
	KindToolCallStart Kind = "tool_call_start"
	// KindToolCallEnd resolves a prior tool invocation by ID.
	KindToolCallEnd Kind = "tool_call_end"
	// KindDelta appends to the agent's in-progress transcript.
	KindDelta Kind = "transcript_delta"
	// KindAudio carries one base64 PCM16 frame of synthesized speech.
	KindAudio Kind = "audio"
	// KindDone terminates the turn, optionally ending the call.
	KindDone Kind = "done"
	// KindError aborts the turn with a server-reported failure.
	KindError Kind = "error"
)

// Event is one decoded stream event. Which fields are meaningful
// depends on Kind.
type Event struct {
	Kind Kind `json:"type"`

	// Text: user transcript or assistant delta text.
	Text string `json:"text,omitempty"`

	// Tool call fields.
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Status string         `json:"status,omitempty"`
	Result string         `json:"result,omitempty"`

	// Audio is a base64-encoded PCM16 frame.
	Audio string `json:"audio,omitempty"`

	// EndCall marks an explicit end-of-call on a done event.
	EndCall bool `json:"end_call,omitempty"`

	// Message is the error description on an error event.
	Message string `json:"message,omitempty"`
}

// IsTerminal reports whether this event ends turn processing.
func (e *Event) IsTerminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

const dataPrefix = "data: "

// maxLineBytes bounds one stream line. Audio frames dominate line size;
// 4MB allows several seconds of base64 PCM per frame.
const maxLineBytes = 4 * 1024 * 1024

// ErrTruncated is returned when the stream ends before a done or error
// event arrived.
var ErrTruncated = errors.New("stream: response ended before done event")

// Decoder reads events off a turn response body.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: sc, logger: logger}
}

// Next returns the next well-formed event. Blank and malformed lines
// are skipped. Returns io.EOF at the end of the stream and a wrapped
// read error on stream-level failure.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, dataPrefix)

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			d.logger.Debug("skipping malformed stream line", "err", err)
			continue
		}
		if ev.Kind == "" {
			d.logger.Debug("skipping untyped stream line")
			continue
		}
		return ev, nil
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("stream: read: %w", err)
	}
	return Event{}, io.EOF
}

// Consume decodes events in order, invoking handle for each, until a
// terminal event, end of stream, or context cancellation. A stream that
// ends without a terminal event returns ErrTruncated so the caller can
// abort the turn cleanly.
func Consume(ctx context.Context, r io.Reader, logger *slog.Logger, handle func(Event)) error {
	d := NewDecoder(r, logger)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := d.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrTruncated
			}
			return err
		}

		handle(ev)
		if ev.IsTerminal() {
			return nil
		}
	}
}
