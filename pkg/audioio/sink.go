package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start begins audio playback. After Start, audio can be written.
	Start(ctx context.Context) error

	// Stop halts audio playback. Safe to call multiple times.
	Stop() error

	// Write queues an audio chunk for playback.
	// May block if the output buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until all buffered audio has been played.
	Flush(ctx context.Context) error

	// Clear discards all buffered audio immediately.
	// Use this to interrupt playback when the call ends.
	Clear() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "miniaudio", "mock").
	Name() string

	// Close releases the device. After Close the sink cannot restart.
	io.Closer
}
