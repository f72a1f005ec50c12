package playback

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deekshitha3782/voice-agent-client/pkg/audioio"
)

func pcmFrame(samples int) string {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		data[i*2] = 0x34
		data[i*2+1] = 0x12
	}
	return base64.StdEncoding.EncodeToString(data)
}

func newTestSpeaker() (*Speaker, *audioio.MockSink) {
	cfg := audioio.DefaultConfig()
	sink := audioio.NewMockSink(cfg, nil)
	return NewSpeaker(sink, nil), sink
}

func TestPlayDecodesAndWrites(t *testing.T) {
	s, sink := newTestSpeaker()
	defer s.Close()

	if err := s.Play(context.Background(), pcmFrame(480)); err != nil {
		t.Fatalf("Play: %v", err)
	}

	written := sink.Written()
	if len(written) != 1 {
		t.Fatalf("sink got %d chunks, want 1", len(written))
	}
	if len(written[0].Samples) != 480 {
		t.Errorf("chunk has %d samples, want 480", len(written[0].Samples))
	}
	if written[0].Samples[0] != 0x1234 {
		t.Errorf("sample = %#x, want 0x1234", written[0].Samples[0])
	}
	if !s.IsSpeaking() {
		t.Error("not speaking after Play")
	}
}

func TestPlayRejectsBadBase64(t *testing.T) {
	s, _ := newTestSpeaker()
	defer s.Close()

	if err := s.Play(context.Background(), "not@base64!!"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMutedDropsFrames(t *testing.T) {
	s, sink := newTestSpeaker()
	defer s.Close()

	s.SetMuted(true)
	if err := s.Play(context.Background(), pcmFrame(480)); err != nil {
		t.Fatalf("Play while muted: %v", err)
	}
	if got := len(sink.Written()); got != 0 {
		t.Errorf("sink got %d chunks while muted, want 0", got)
	}
	if s.IsSpeaking() {
		t.Error("speaking while muted")
	}
}

func TestEndedFiresExactlyOncePerTurn(t *testing.T) {
	s, _ := newTestSpeaker()
	defer s.Close()

	var ended atomic.Int32
	done := make(chan struct{}, 4)
	s.OnEnded = func() {
		ended.Add(1)
		done <- struct{}{}
	}

	ctx := context.Background()
	if err := s.Play(ctx, pcmFrame(480)); err != nil {
		t.Fatalf("Play: %v", err)
	}

	s.SignalStreamComplete(ctx)
	s.SignalStreamComplete(ctx) // duplicate completion signals
	s.SignalStreamComplete(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEnded never fired")
	}
	time.Sleep(20 * time.Millisecond)

	if got := ended.Load(); got != 1 {
		t.Errorf("OnEnded fired %d times, want 1", got)
	}
	if s.IsSpeaking() {
		t.Error("still speaking after ended")
	}
}

func TestSignalWithoutAudioIsNoOp(t *testing.T) {
	s, _ := newTestSpeaker()
	defer s.Close()

	s.OnEnded = func() { t.Error("OnEnded fired for a turn with no audio") }
	s.SignalStreamComplete(context.Background())
	time.Sleep(20 * time.Millisecond)
}

func TestClearSuppressesPendingEnded(t *testing.T) {
	s, sink := newTestSpeaker()
	defer s.Close()
	sink.PlaybackDelay = 1.0 // flush takes real time, Clear wins the race

	s.OnEnded = func() { t.Error("OnEnded fired after Clear") }

	ctx := context.Background()
	if err := s.Play(ctx, pcmFrame(24000)); err != nil { // 1s of audio
		t.Fatalf("Play: %v", err)
	}
	s.SignalStreamComplete(ctx)
	s.Clear()

	time.Sleep(50 * time.Millisecond)

	if s.IsSpeaking() {
		t.Error("speaking after Clear")
	}
	if sink.ClearCount() != 1 {
		t.Errorf("sink cleared %d times, want 1", sink.ClearCount())
	}
}
