// Package vad implements voice activity detection for the capture
// pipeline.
//
// The detector samples a live amplitude signal on a fixed cadence and
// decides when the caller has stopped speaking. It never stops a
// recording before speech has been observed at least once, so an
// already-quiet channel cannot end a recording instantly; the capture
// pipeline's hard safety cutoff covers that case.
//
// Thresholds and durations are empirically tuned per microphone and
// codec. The defaults here suit a typical headset at 24kHz; treat them
// as a starting point, not universal constants.
package vad

import (
	"context"
	"time"
)

// Config holds voice activity detection parameters.
type Config struct {
	// SilenceThreshold is the normalized amplitude (0.0-1.0) below
	// which a sample counts as silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SpeechThreshold is the amplitude at or above which a sample
	// counts as speech. Must be >= SilenceThreshold; equal values give
	// a single-threshold detector.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceDuration is how long continuous silence must last before
	// the detector signals a stop.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// MinRecording is a grace period after Reset during which silence
	// detection never fires, regardless of speech state.
	MinRecording time.Duration `yaml:"min_recording"`

	// TickInterval is the sampling cadence of the Run loop.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// DefaultConfig returns detection parameters tuned for a headset mic.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 0.015,
		SpeechThreshold:  0.015,
		SilenceDuration:  1500 * time.Millisecond,
		MinRecording:     500 * time.Millisecond,
		TickInterval:     16 * time.Millisecond,
	}
}

// Detector tracks speech state for one recording session.
// It is not safe for concurrent use; the Run loop is its only caller in
// production, and tests drive Observe directly.
type Detector struct {
	cfg       Config
	startedAt time.Time
	lastAbove time.Time
	hasSpoken bool
}

// New creates a Detector ready for a session starting at now.
func New(cfg Config, now time.Time) *Detector {
	d := &Detector{cfg: cfg}
	d.Reset(now)
	return d
}

// Reset clears state for a new recording session.
func (d *Detector) Reset(now time.Time) {
	d.startedAt = now
	d.lastAbove = now
	d.hasSpoken = false
}

// HasSpoken reports whether speech has been observed this session.
func (d *Detector) HasSpoken() bool { return d.hasSpoken }

// Observe feeds one amplitude sample taken at now. It returns true when
// the recording should stop: the caller spoke at least once and has
// since been silent for the configured duration.
func (d *Detector) Observe(level float64, now time.Time) (stop bool) {
	if !d.hasSpoken {
		if level >= d.cfg.SpeechThreshold {
			d.hasSpoken = true
			d.lastAbove = now
		}
		return false
	}

	if level > d.cfg.SilenceThreshold {
		d.lastAbove = now
		return false
	}

	if now.Sub(d.startedAt) < d.cfg.MinRecording {
		return false
	}

	return now.Sub(d.lastAbove) >= d.cfg.SilenceDuration
}

// Run samples level on the configured cadence until the recording
// closes or a stop is detected. recording is polled every tick as the
// exit guard, so no separate cancellation signal is needed; ctx covers
// teardown of the whole call.
//
// onStop is invoked at most once, from the sampling goroutine's
// caller context, when silence triggers a stop.
func Run(ctx context.Context, cfg Config, level func() float64, recording func() bool, onStop func()) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}

	d := New(cfg, time.Now())
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !recording() {
				return
			}
			if d.Observe(level(), now) {
				onStop()
				return
			}
		}
	}
}
