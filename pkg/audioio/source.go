package audioio

import (
	"context"
	"errors"
	"io"
)

// ErrPermissionDenied is returned by Source.Start when the platform
// refuses microphone access. Callers should surface this to the user
// and treat it as recoverable.
var ErrPermissionDenied = errors.New("audioio: microphone permission denied")

// Source captures audio from a microphone or other input device.
//
// A Source survives multiple Start/Stop cycles; the underlying device
// handle is held until Close so the platform is not re-prompted for
// permission between listen cycles within one call.
type Source interface {
	// Start begins audio capture.
	// After Start, chunks are available via Read or Stream.
	// Returns ErrPermissionDenied if microphone access is refused.
	Start(ctx context.Context) error

	// Stop halts audio capture. Safe to call multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns a channel receiving captured chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan AudioChunk

	// Level returns the most recent normalized amplitude (0.0-1.0).
	// This is the analysis tap the voice activity detector polls; it is
	// valid only while the source is capturing.
	Level() float64

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "miniaudio", "mock").
	Name() string

	// Close releases the device. After Close the source cannot restart.
	io.Closer
}
