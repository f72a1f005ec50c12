// Command callclient places a voice call to the scheduling agent.
// It captures microphone audio between agent turns, streams each
// finished utterance to the backend, and plays the synthesized reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deekshitha3782/voice-agent-client/internal/config"
	"github.com/deekshitha3782/voice-agent-client/internal/log"
	"github.com/deekshitha3782/voice-agent-client/pkg/app"
	"github.com/deekshitha3782/voice-agent-client/pkg/extract"
)

func main() {
	cfg, phone, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)

	a, err := app.New(cfg, phone, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "call failed: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags loads configuration and normalizes the phone number.
func parseFlags() (config.Config, string, error) {
	configPath := flag.String("config", "callclient.yaml", "Path to YAML configuration")
	phone := flag.String("phone", "", "Phone number to call as (10 digits, separators allowed)")
	backendURL := flag.String("backend", "", "Backend base URL (overrides config)")
	avatarURL := flag.String("avatar", "", "Hosted avatar websocket URL (enables the avatar path)")
	webPort := flag.String("web-port", "", "Status dashboard port (overrides config, empty keeps config)")
	audioBackend := flag.String("audio", "", "Audio backend: miniaudio or mock")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, "", err
	}

	if *backendURL != "" {
		cfg.Backend = *backendURL
	}
	if *avatarURL != "" {
		cfg.AvatarURL = *avatarURL
		cfg.AvatarEnabled = true
	}
	if *webPort != "" {
		cfg.WebPort = *webPort
	}
	if *audioBackend != "" {
		cfg.AudioBackend = *audioBackend
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	if *phone == "" {
		return cfg, "", fmt.Errorf("usage: callclient -phone <number> [flags]")
	}
	normalized, ok := extract.PhoneNumber(*phone)
	if !ok {
		return cfg, "", fmt.Errorf("invalid phone number %q: need 10 digits", *phone)
	}
	return cfg, normalized, nil
}
