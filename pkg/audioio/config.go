// Package audioio provides the audio capture and playback abstraction
// used by the call client.
//
// The client never talks to platform audio APIs directly; it works
// against the Source (microphone) and Sink (speaker) interfaces. The
// miniaudio backend talks to the platform's default devices, while the
// mock implementations drive tests and CI without hardware. Codec work
// is delegated to the platform; everything in this package is raw
// PCM16.
package audioio

import (
	"fmt"
	"time"
)

// Backend identifies an audio implementation.
type Backend string

const (
	// BackendAuto selects the best backend for the platform.
	BackendAuto Backend = ""
	// BackendMiniaudio uses the platform device via miniaudio.
	BackendMiniaudio Backend = "miniaudio"
	// BackendMock uses the in-process mock, for tests and headless runs.
	BackendMock Backend = "mock"
)

// Config holds audio stream parameters shared by sources and sinks.
type Config struct {
	// Backend selects the audio implementation. Default: auto.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000, matching the agent's synthesized audio frames.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Default: 1 (mono).
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of one audio buffer.
	// Default: 20ms (480 samples at 24kHz).
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Empty selects the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of one buffer in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
