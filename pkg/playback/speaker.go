// Package playback owns the speaker side of a call.
//
// Synthesized speech arrives as base64-encoded PCM16 frames streamed
// mid-turn; the Speaker decodes them into a continuous audio sink and
// reports exactly one "ended" notification per turn once the sink has
// drained. That notification is the orchestrator's only trigger for
// leaving the speaking state.
package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deekshitha3782/voice-agent-client/pkg/audioio"
)

// Speaker streams decoded agent audio to a sink.
type Speaker struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	speaking bool
	muted    bool
	hasAudio bool // audio was written this turn
	closing  bool
	turn     int // generation; Clear invalidates pending flushes

	// OnEnded fires exactly once per turn, after SignalStreamComplete,
	// when the sink has finished draining.
	OnEnded func()
}

// NewSpeaker creates a Speaker over the given sink.
func NewSpeaker(sink audioio.Sink, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{sink: sink, logger: logger}
}

// IsSpeaking reports whether agent audio is playing or queued.
func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// HasAudio reports whether any audio frame arrived this turn. The
// orchestrator uses it to decide between waiting for playback and
// restarting the listener directly.
func (s *Speaker) HasAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAudio
}

// SetMuted toggles output mute. While muted, Play drops frames
// silently; nothing else changes.
func (s *Speaker) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Muted reports the mute flag.
func (s *Speaker) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Play decodes one base64 PCM16 frame and queues it on the sink.
// Frames are dropped silently while muted.
func (s *Speaker) Play(ctx context.Context, frame string) error {
	s.mu.Lock()
	if s.muted || s.closing {
		s.mu.Unlock()
		return nil
	}

	if !s.started {
		if err := s.sink.Start(ctx); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("playback: start sink: %w", err)
		}
		s.started = true
	}
	s.speaking = true
	s.hasAudio = true
	s.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return fmt.Errorf("playback: decode frame: %w", err)
	}

	var chunk audioio.AudioChunk
	cfg := s.sink.Config()
	chunk.FromBytes(data, cfg.SampleRate, cfg.Channels)

	if err := s.sink.Write(ctx, chunk); err != nil {
		return fmt.Errorf("playback: write chunk: %w", err)
	}
	return nil
}

// SignalStreamComplete tells the sink no further frames are coming this
// turn. The sink drains asynchronously and OnEnded fires once. Calling
// it again before the next Play is a no-op, as is calling it on a turn
// that produced no audio.
func (s *Speaker) SignalStreamComplete(ctx context.Context) {
	s.mu.Lock()
	if !s.hasAudio || s.closing {
		s.mu.Unlock()
		return
	}
	s.hasAudio = false
	turn := s.turn
	s.mu.Unlock()

	go func() {
		if err := s.sink.Flush(ctx); err != nil {
			s.logger.Debug("playback: flush interrupted", "err", err)
		}

		s.mu.Lock()
		if s.turn != turn {
			// Cleared mid-flush; the turn's ended signal is void.
			s.mu.Unlock()
			return
		}
		s.speaking = false
		ended := s.OnEnded
		s.mu.Unlock()

		if ended != nil {
			ended()
		}
	}()
}

// Clear flushes queued and playing audio immediately and drops any
// pending ended notification. Used when the call ends or audio must be
// interrupted.
func (s *Speaker) Clear() {
	s.mu.Lock()
	s.turn++
	s.speaking = false
	s.hasAudio = false
	s.mu.Unlock()

	if err := s.sink.Clear(); err != nil {
		s.logger.Debug("playback: clear failed", "err", err)
	}
}

// Close clears playback and releases the sink.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.Clear()
	return s.sink.Close()
}
