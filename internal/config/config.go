// Package config provides configuration loading for the call client.
// Settings come from an optional YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the call client.
const (
	DefaultBackendURL = "http://localhost:8000"
	DefaultWebPort    = "8080"
)

// Config holds all tunable parameters for the call client.
// The voice-activity and restart timings are empirically tuned per
// audio front end; never treat the defaults as universal.
type Config struct {
	// Backend is the scheduling backend base URL.
	Backend string `yaml:"backend"`

	// Avatar transport settings.
	AvatarURL     string `yaml:"avatar_url"`
	AvatarEnabled bool   `yaml:"avatar_enabled"`

	// WebPort is the local status dashboard port. Empty disables it.
	WebPort string `yaml:"web_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// AudioBackend selects the audio implementation: miniaudio (the
	// default on desktop platforms) or mock for headless runs.
	AudioBackend string `yaml:"audio_backend"`

	// AudioDevice is the platform device identifier. Empty selects the
	// system default.
	AudioDevice string `yaml:"audio_device"`

	// Voice activity detection.
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SpeechThreshold  float64       `yaml:"speech_threshold"`
	SilenceDuration  time.Duration `yaml:"silence_duration"`
	MinRecording     time.Duration `yaml:"min_recording"`

	// Capture limits.
	MaxRecording time.Duration `yaml:"max_recording"`
	MinClipBytes int           `yaml:"min_clip_bytes"`

	// Restart delays by trigger.
	RestartAfterPlayback time.Duration `yaml:"restart_after_playback"`
	RestartAfterTurn     time.Duration `yaml:"restart_after_turn"`
	RestartAfterDiscard  time.Duration `yaml:"restart_after_discard"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Backend:  DefaultBackendURL,
		WebPort:  DefaultWebPort,
		LogLevel: "info",

		SilenceThreshold: 0.015,
		SpeechThreshold:  0.015,
		SilenceDuration:  1500 * time.Millisecond,
		MinRecording:     500 * time.Millisecond,

		MaxRecording: 30 * time.Second,
		MinClipBytes: 4096,

		RestartAfterPlayback: 300 * time.Millisecond,
		RestartAfterTurn:     500 * time.Millisecond,
		RestartAfterDiscard:  100 * time.Millisecond,
	}
}

// Load reads the YAML config at path, starting from defaults.
// A missing file is not an error; env overrides always apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AVATAR_URL"); v != "" {
		c.AvatarURL = v
	}
	if os.Getenv("AVATAR_ENABLED") == "true" {
		c.AvatarEnabled = true
	}
	if v := os.Getenv("AUDIO_BACKEND"); v != "" {
		c.AudioBackend = v
	}
	if v := os.Getenv("WEB_PORT"); v != "" {
		c.WebPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("config: backend URL required")
	}
	if c.AvatarEnabled && c.AvatarURL == "" {
		return fmt.Errorf("config: avatar_url required when avatar_enabled")
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("config: silence_threshold must be >= 0, got %v", c.SilenceThreshold)
	}
	if c.SpeechThreshold < c.SilenceThreshold {
		return fmt.Errorf("config: speech_threshold must be >= silence_threshold")
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("config: silence_duration must be positive, got %v", c.SilenceDuration)
	}
	if c.MaxRecording <= 0 {
		return fmt.Errorf("config: max_recording must be positive, got %v", c.MaxRecording)
	}
	return nil
}
