package vad

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SilenceThreshold: 0.015,
		SpeechThreshold:  0.015,
		SilenceDuration:  1500 * time.Millisecond,
		MinRecording:     500 * time.Millisecond,
		TickInterval:     16 * time.Millisecond,
	}
}

func TestNeverStopsWithoutSpeech(t *testing.T) {
	start := time.Now()
	d := New(testConfig(), start)

	// Silence for far longer than SilenceDuration, no speech ever.
	for i := 0; i < 1000; i++ {
		now := start.Add(time.Duration(i) * 16 * time.Millisecond)
		if d.Observe(0.0, now) {
			t.Fatalf("detector stopped at tick %d without any speech", i)
		}
	}
	if d.HasSpoken() {
		t.Error("HasSpoken() = true on a silent channel")
	}
}

func TestStopsAfterSpeechThenSilence(t *testing.T) {
	start := time.Now()
	d := New(testConfig(), start)

	// 600ms of speech.
	now := start
	for i := 0; i < 38; i++ {
		now = start.Add(time.Duration(i) * 16 * time.Millisecond)
		if d.Observe(0.2, now) {
			t.Fatal("stopped during speech")
		}
	}
	if !d.HasSpoken() {
		t.Fatal("speech not detected")
	}

	// Silence: must not stop until 1500ms have passed.
	silenceStart := now
	for {
		now = now.Add(16 * time.Millisecond)
		stop := d.Observe(0.0, now)
		elapsed := now.Sub(silenceStart)
		if stop {
			if elapsed < d.cfg.SilenceDuration {
				t.Fatalf("stopped after only %v of silence", elapsed)
			}
			return
		}
		if elapsed > 3*time.Second {
			t.Fatal("never stopped despite prolonged silence")
		}
	}
}

func TestSpeechResetsSilenceWindow(t *testing.T) {
	start := time.Now()
	d := New(testConfig(), start)

	now := start
	observe := func(level float64, step time.Duration) bool {
		now = now.Add(step)
		return d.Observe(level, now)
	}

	observe(0.2, 16*time.Millisecond) // speech
	observe(0.0, time.Second)         // 1s silence, under threshold
	if observe(0.2, 16*time.Millisecond) {
		t.Fatal("stopped on a speech sample")
	}
	// Another second of silence measured from the new lastAbove: still
	// under the 1500ms window.
	if observe(0.0, time.Second) {
		t.Fatal("silence window not reset by renewed speech")
	}
	if !observe(0.0, time.Second) {
		t.Fatal("expected stop after full silence window")
	}
}

func TestMinRecordingSuppressesEarlyStop(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceDuration = 100 * time.Millisecond
	cfg.MinRecording = 2 * time.Second

	start := time.Now()
	d := New(cfg, start)

	d.Observe(0.2, start.Add(16*time.Millisecond)) // speech immediately

	// 1s in: silence exceeded SilenceDuration but we are inside the
	// minimum recording window.
	if d.Observe(0.0, start.Add(time.Second)) {
		t.Fatal("stopped inside the minimum recording window")
	}
	if !d.Observe(0.0, start.Add(2100*time.Millisecond)) {
		t.Fatal("expected stop once past the minimum recording window")
	}
}

func TestRunExitsWhenRecordingCloses(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond

	var recording atomic.Bool
	recording.Store(true)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), cfg,
			func() float64 { return 0 },
			func() bool { return recording.Load() },
			func() { t.Error("onStop fired on a silent channel") },
		)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	recording.Store(false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after recording closed")
	}
}

func TestRunFiresOnStop(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	cfg.SilenceDuration = 20 * time.Millisecond
	cfg.MinRecording = 0

	var level atomic.Uint64
	setLevel := func(v float64) { level.Store(uint64(v * 1000)) }
	getLevel := func() float64 { return float64(level.Load()) / 1000 }

	setLevel(0.2) // speaking

	stopped := make(chan struct{})
	go Run(context.Background(), cfg,
		getLevel,
		func() bool { return true },
		func() { close(stopped) },
	)

	time.Sleep(10 * time.Millisecond)
	setLevel(0) // go silent

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("onStop never fired after silence")
	}
}
