package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// DeviceSource captures audio from the default platform input device
// via miniaudio. The device handle is opened once and survives
// Start/Stop cycles; Close releases it.
type DeviceSource struct {
	cfg    Config
	logger *slog.Logger

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	pending  []byte

	level    atomic.Uint64 // math.Float64bits of the last chunk's RMS
	overruns atomic.Int64
}

func newDeviceSource(cfg Config, logger *slog.Logger) (*DeviceSource, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("audioio: init context: %w", err)
	}

	s := &DeviceSource{
		cfg:      cfg,
		logger:   logger,
		malgoCtx: malgoCtx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.BufferDuration.Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onCapture,
	})
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("audioio: open capture device: %w", err)
	}
	s.device = device

	logger.Info("capture device opened",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return s, nil
}

// onCapture runs on the audio thread. It slices the incoming byte
// stream into fixed-size chunks and must never block.
func (s *DeviceSource) onCapture(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.pending = append(s.pending, input...)
	size := s.cfg.BufferBytes()
	for len(s.pending) >= size {
		var chunk AudioChunk
		chunk.FromBytes(s.pending[:size], s.cfg.SampleRate, s.cfg.Channels)
		s.pending = s.pending[size:]

		s.level.Store(math.Float64bits(chunk.RMS()))

		select {
		case s.streamCh <- chunk:
		default:
			s.overruns.Add(1)
		}
	}
}

// Start begins capture. Safe to call again after Stop.
func (s *DeviceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.streamCh = make(chan AudioChunk, 16)
	s.pending = nil
	s.running = true
	s.mu.Unlock()

	if err := s.device.Start(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("audioio: start capture: %w", err)
	}
	return nil
}

// Stop halts capture and closes the current stream channel.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ch := s.streamCh
	s.mu.Unlock()

	// Stop blocks until the audio thread quiesces, so the channel can
	// be closed safely afterwards.
	if err := s.device.Stop(); err != nil {
		s.logger.Warn("stopping capture device", "err", err)
	}
	close(ch)

	if n := s.overruns.Load(); n > 0 {
		s.logger.Debug("capture overruns", "dropped", n)
	}
	return nil
}

// Read returns the next chunk, or io.EOF once the source is stopped.
func (s *DeviceSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	if ch == nil {
		return AudioChunk{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the channel for the current capture session.
func (s *DeviceSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Level returns the most recent chunk's RMS amplitude.
func (s *DeviceSource) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Config returns the audio configuration.
func (s *DeviceSource) Config() Config { return s.cfg }

// Name returns "miniaudio".
func (s *DeviceSource) Name() string { return "miniaudio" }

// Close stops capture and releases the device.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.device.Uninit()
	s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return nil
}

var _ Source = (*DeviceSource)(nil)

// DeviceSink plays audio through the default platform output device
// via miniaudio. Writes land in an internal queue that the audio
// thread drains; underruns play silence.
type DeviceSink struct {
	cfg    Config
	logger *slog.Logger

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu      sync.Mutex
	running bool
	closed  bool
	queue   []byte
}

func newDeviceSink(cfg Config, logger *slog.Logger) (*DeviceSink, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("audioio: init context: %w", err)
	}

	s := &DeviceSink{
		cfg:      cfg,
		logger:   logger,
		malgoCtx: malgoCtx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.BufferDuration.Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onPlayback,
	})
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("audioio: open playback device: %w", err)
	}
	s.device = device

	logger.Info("playback device opened",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return s, nil
}

// onPlayback runs on the audio thread and must never block.
func (s *DeviceSink) onPlayback(output, _ []byte, _ uint32) {
	s.mu.Lock()
	n := copy(output, s.queue)
	s.queue = s.queue[n:]
	s.mu.Unlock()

	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}

// Start begins playback.
func (s *DeviceSink) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.device.Start(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("audioio: start playback: %w", err)
	}
	return nil
}

// Stop halts playback. Queued audio is kept for the next Start.
func (s *DeviceSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if err := s.device.Stop(); err != nil {
		s.logger.Warn("stopping playback device", "err", err)
	}
	return nil
}

// Write queues a chunk for playback.
func (s *DeviceSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.queue = append(s.queue, chunk.Bytes()...)
	return nil
}

// Flush blocks until the queue drains and the device has played the
// tail buffer.
func (s *DeviceSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		remaining := len(s.queue)
		running := s.running
		s.mu.Unlock()

		if remaining == 0 || !running {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	// Let the device-side buffer finish playing.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.BufferDuration * 2):
	}
	return nil
}

// Clear discards all queued audio.
func (s *DeviceSink) Clear() error {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return nil
}

// Config returns the audio configuration.
func (s *DeviceSink) Config() Config { return s.cfg }

// Name returns "miniaudio".
func (s *DeviceSink) Name() string { return "miniaudio" }

// Close stops playback and releases the device.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.Stop()
	s.device.Uninit()
	s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return nil
}

var _ Sink = (*DeviceSink)(nil)
