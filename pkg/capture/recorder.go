// Package capture owns the microphone side of a call: one recording
// session at a time, chunk buffering, voice-activity-driven stop, and a
// hard safety cutoff so a broken audio graph can never record forever.
//
// The Recorder holds its audioio.Source open across start/stop cycles
// within a call so the platform is not re-prompted for microphone
// permission on every listen cycle; the device is released only by
// Close at call end.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deekshitha3782/voice-agent-client/pkg/audioio"
	"github.com/deekshitha3782/voice-agent-client/pkg/vad"
)

// Config holds capture parameters.
type Config struct {
	// Audio configures the underlying source.
	Audio audioio.Config `yaml:"audio"`

	// VAD configures silence detection for automatic stop.
	VAD vad.Config `yaml:"vad"`

	// MaxRecording is the hard safety cutoff. A recording is force-
	// stopped after this duration even if voice activity detection
	// never fires. Default: 30s.
	MaxRecording time.Duration `yaml:"max_recording"`

	// MinClipBytes is the minimum finished clip size. Smaller clips are
	// treated as noise: discarded and reported via OnDiscard instead of
	// OnClip. Default: 4096.
	MinClipBytes int `yaml:"min_clip_bytes"`
}

// DefaultConfig returns capture parameters with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Audio:        audioio.DefaultConfig(),
		VAD:          vad.DefaultConfig(),
		MaxRecording: 30 * time.Second,
		MinClipBytes: 4096,
	}
}

// StopReason explains why a recording session ended.
type StopReason int

const (
	// ReasonSilence means voice activity detection ended the session.
	ReasonSilence StopReason = iota
	// ReasonCutoff means the hard safety timer ended the session.
	ReasonCutoff
	// ReasonManual means Stop was called explicitly.
	ReasonManual
)

func (r StopReason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonCutoff:
		return "cutoff"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Clip is a finished recording ready to send.
type Clip struct {
	// PCM is raw little-endian PCM16 audio.
	PCM []byte

	// SampleRate of the audio.
	SampleRate int

	// Reason the session ended.
	Reason StopReason
}

// Duration returns the clip playback duration.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	samples := len(c.PCM) / 2
	return time.Duration(float64(samples) / float64(c.SampleRate) * float64(time.Second))
}

// Recorder manages recording sessions against one audio source.
// At most one session is open at any time; Start while recording is a
// no-op.
type Recorder struct {
	cfg    Config
	source audioio.Source
	logger *slog.Logger

	mu        sync.Mutex
	recording bool
	buf       bytes.Buffer
	cutoff    *time.Timer
	gen       int // session generation; stale async stops are ignored

	// OnClip receives a finished clip that met the size threshold.
	OnClip func(clip Clip)

	// OnDiscard fires when a finished clip was below the size threshold
	// and dropped. The orchestrator schedules a listen restart.
	OnDiscard func()

	// OnListening toggles the listening indicator.
	OnListening func(active bool)
}

// NewRecorder creates a Recorder over the given source.
func NewRecorder(cfg Config, source audioio.Source, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = DefaultConfig().MaxRecording
	}
	return &Recorder{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
}

// IsRecording reports whether a session is open.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start opens a recording session: starts the source, begins buffering
// chunks, arms the safety cutoff, and launches the voice activity loop.
// No-op if a session is already open. Returns an error wrapping
// audioio.ErrPermissionDenied when microphone access is refused; that
// error is recoverable and must not tear down the call.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil
	}

	if err := r.source.Start(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("capture: start source: %w", err)
	}

	r.recording = true
	r.buf.Reset()
	r.gen++
	gen := r.gen

	stream := r.source.Stream()

	r.cutoff = time.AfterFunc(r.cfg.MaxRecording, func() {
		r.logger.Warn("recording hit safety cutoff", "max", r.cfg.MaxRecording)
		r.stopSession(gen, ReasonCutoff)
	})
	r.mu.Unlock()

	if r.OnListening != nil {
		r.OnListening(true)
	}

	go r.consume(stream, gen)

	go vad.Run(ctx, r.cfg.VAD,
		r.source.Level,
		func() bool { return r.currentGen() == gen && r.IsRecording() },
		func() { r.stopSession(gen, ReasonSilence) },
	)

	return nil
}

func (r *Recorder) currentGen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// consume buffers chunks until the source stops.
func (r *Recorder) consume(stream <-chan audioio.AudioChunk, gen int) {
	for chunk := range stream {
		r.mu.Lock()
		if r.recording && r.gen == gen {
			r.buf.Write(chunk.Bytes())
		}
		r.mu.Unlock()
	}
}

// Stop finalizes the open session, if any.
func (r *Recorder) Stop() {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.stopSession(gen, ReasonManual)
}

// stopSession closes the session identified by gen. Calls from stale
// timers or VAD loops of earlier sessions are dropped. The recording
// flag and cutoff timer are cleared on every path.
func (r *Recorder) stopSession(gen int, reason StopReason) {
	r.mu.Lock()
	if !r.recording || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.recording = false

	if r.cutoff != nil {
		r.cutoff.Stop()
		r.cutoff = nil
	}

	// Stop the source; chunks already buffered stay. The device handle
	// remains open for the next session.
	r.source.Stop()

	pcm := make([]byte, r.buf.Len())
	copy(pcm, r.buf.Bytes())
	r.buf.Reset()
	r.mu.Unlock()

	if r.OnListening != nil {
		r.OnListening(false)
	}

	if len(pcm) < r.cfg.MinClipBytes {
		r.logger.Debug("discarding short clip", "bytes", len(pcm), "min", r.cfg.MinClipBytes, "reason", reason.String())
		if r.OnDiscard != nil {
			r.OnDiscard()
		}
		return
	}

	clip := Clip{
		PCM:        pcm,
		SampleRate: r.cfg.Audio.SampleRate,
		Reason:     reason,
	}
	r.logger.Debug("recording finished", "bytes", len(pcm), "duration", clip.Duration(), "reason", reason.String())
	if r.OnClip != nil {
		r.OnClip(clip)
	}
}

// Close stops any open session, discarding its clip, and releases the
// audio device. The Recorder cannot be reused after Close.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.recording = false
	if r.cutoff != nil {
		r.cutoff.Stop()
		r.cutoff = nil
	}
	r.buf.Reset()
	r.mu.Unlock()
	return r.source.Close()
}
