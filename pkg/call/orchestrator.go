// Package call implements the call orchestration state machine.
//
// The orchestrator is the single owner of call lifecycle state. Every
// asynchronous completion that can resume listening (playback ended,
// turn done, short clip discarded) funnels through one debounced
// restart timer whose guards are re-checked at the moment it fires, so
// duplicate completions can never double-start the microphone and
// capture can never overlap agent speech.
//
// All mutable state lives behind one mutex; async callbacks read
// current values through the orchestrator rather than through captured
// snapshots.
package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deekshitha3782/voice-agent-client/pkg/backend"
	"github.com/deekshitha3782/voice-agent-client/pkg/capture"
	"github.com/deekshitha3782/voice-agent-client/pkg/stream"
)

// ErrCallActive is returned by Start when a call is already running.
// One client instance carries at most one call.
var ErrCallActive = errors.New("call: a call is already active")

// ErrNoCall is returned by End when no call is running.
var ErrNoCall = errors.New("call: no active call")

// Recorder is the capture pipeline as the orchestrator sees it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop()
	IsRecording() bool
	Close() error
}

// Player is the playback pipeline as the orchestrator sees it.
type Player interface {
	Play(ctx context.Context, frame string) error
	Clear()
	SignalStreamComplete(ctx context.Context)
	IsSpeaking() bool
	HasAudio() bool
}

// Backend is the slice of the scheduling API the orchestrator needs.
type Backend interface {
	StartCall(ctx context.Context, phone string) (string, error)
	SendTurn(ctx context.Context, sessionID string, pcm []byte) (io.ReadCloser, error)
	EndCall(ctx context.Context, sessionID, transcript string) (*backend.Summary, error)
}

// Orchestrator drives one call from start to end.
type Orchestrator struct {
	cfg    Config
	rec    Recorder
	player Player
	api    Backend
	logger *slog.Logger

	// All fields below are guarded by mu. Async callbacks (restart
	// timer, stream events, playback-ended) must take mu and re-read
	// state rather than trust values captured at schedule time.
	mu        sync.Mutex
	state     State
	active    bool
	paused    bool // manual mic pause, independent of state
	avatar    bool // hosted avatar path active; local pipelines dormant
	sessionID string
	phone     string
	startedAt time.Time
	restart   *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc

	delta     strings.Builder // assistant transcript accumulating this turn
	messages  []Message
	tools     map[string]*ToolCallRecord
	toolOrder []string

	// OnStateChange observes every state transition.
	OnStateChange func(State)
	// OnMessage observes each finished transcript entry.
	OnMessage func(Message)
	// OnDelta observes the accumulated assistant transcript so far,
	// for a live typing preview.
	OnDelta func(text string)
	// OnToolCall observes tool record creation and resolution.
	OnToolCall func(rec ToolCallRecord)
	// OnError surfaces recoverable errors (failed turns, permission
	// problems, protocol errors). The call continues unless End runs.
	OnError func(err error)
	// OnEnded fires after End with the backend summary, which is nil
	// when the summary request failed.
	OnEnded func(summary *backend.Summary)
}

// New creates an Orchestrator over the given pipelines and API client.
// Wire the recorder's OnClip/OnDiscard to HandleClip/HandleDiscard and
// the player's OnEnded to HandlePlaybackEnded before starting a call.
func New(cfg Config, rec Recorder, player Player, api Backend, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RestartAfterPlayback <= 0 {
		cfg.RestartAfterPlayback = DefaultConfig().RestartAfterPlayback
	}
	if cfg.RestartAfterTurn <= 0 {
		cfg.RestartAfterTurn = DefaultConfig().RestartAfterTurn
	}
	if cfg.RestartAfterDiscard <= 0 {
		cfg.RestartAfterDiscard = DefaultConfig().RestartAfterDiscard
	}
	return &Orchestrator{
		cfg:    cfg,
		rec:    rec,
		player: player,
		api:    api,
		logger: logger,
		state:  StateIdle,
		tools:  make(map[string]*ToolCallRecord),
	}
}

// State returns the current orchestration phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Active reports whether a call is live.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// SessionID returns the backend session identifier for the live call.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// setState transitions under mu held by the caller and notifies outside
// the lock via the returned func.
func (o *Orchestrator) setState(s State) func() {
	if o.state == s {
		return func() {}
	}
	o.logger.Debug("call state", "from", o.state.String(), "to", s.String())
	o.state = s
	notify := o.OnStateChange
	return func() {
		if notify != nil {
			notify(s)
		}
	}
}

// Start begins a call for a pre-validated 10-digit phone number and
// starts listening. When the avatar path is enabled the local capture
// pipeline stays dormant and only stream events are consumed.
func (o *Orchestrator) Start(ctx context.Context, phone string) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrCallActive
	}
	if o.state == StateEnded {
		o.mu.Unlock()
		return fmt.Errorf("call: orchestrator already ended; create a new one")
	}
	o.mu.Unlock()

	sessionID, err := o.api.StartCall(ctx, phone)
	if err != nil {
		return fmt.Errorf("call: start: %w", err)
	}

	o.mu.Lock()
	o.active = true
	o.sessionID = sessionID
	o.phone = phone
	o.startedAt = time.Now()
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	notify := o.setState(StateListening)
	avatar := o.avatar
	o.mu.Unlock()
	notify()

	o.logger.Info("call started", "session", sessionID, "avatar", avatar)

	if !avatar {
		o.startListening()
	}
	return nil
}

// startListening starts capture if every guard allows it. Failure to
// get the microphone is surfaced but leaves the call up; the caller can
// retry by resuming or through the next natural trigger.
func (o *Orchestrator) startListening() {
	o.mu.Lock()
	if !o.active || o.paused || o.avatar || o.state != StateListening {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.mu.Unlock()

	if o.rec.IsRecording() || o.player.IsSpeaking() {
		return
	}

	if err := o.rec.Start(ctx); err != nil {
		o.logger.Warn("could not start capture", "err", err)
		o.surfaceError(err)
	}
}

// scheduleRestart arms the single pending restart timer, cancelling any
// prior one. Guards run again when the delay elapses; a failed guard
// drops the restart silently and the next natural trigger re-schedules.
func (o *Orchestrator) scheduleRestart(delay time.Duration) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	if o.restart != nil {
		o.restart.Stop()
	}
	o.restart = time.AfterFunc(delay, o.tryRestart)
	o.mu.Unlock()
}

// tryRestart fires from the restart timer and re-validates every
// condition against current state before touching the recorder.
func (o *Orchestrator) tryRestart() {
	o.mu.Lock()
	o.restart = nil
	ok := o.active && !o.paused && !o.avatar && o.state == StateListening
	o.mu.Unlock()

	if !ok {
		return
	}
	o.startListening()
}

// cancelRestart clears the pending restart, if any. Caller holds mu.
func (o *Orchestrator) cancelRestart() {
	if o.restart != nil {
		o.restart.Stop()
		o.restart = nil
	}
}

// PauseMic blocks automatic capture restarts until ResumeMic. It does
// not change the call phase; an in-progress recording keeps running
// until its own stop trigger.
func (o *Orchestrator) PauseMic() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// ResumeMic lifts the manual pause and, if the call is waiting to
// listen, restarts capture shortly.
func (o *Orchestrator) ResumeMic() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.scheduleRestart(o.cfg.RestartAfterDiscard)
}

// MicPaused reports the manual pause flag.
func (o *Orchestrator) MicPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// SetAvatarActive switches between the hosted avatar path and the local
// capture/playback path. Entering avatar mode stops local capture;
// leaving it (the quota fallback) resumes listening.
func (o *Orchestrator) SetAvatarActive(active bool) {
	o.mu.Lock()
	if o.avatar == active {
		o.mu.Unlock()
		return
	}
	o.avatar = active
	live := o.active
	o.mu.Unlock()

	if !live {
		return
	}
	if active {
		o.rec.Stop()
		o.player.Clear()
	} else {
		o.scheduleRestart(o.cfg.RestartAfterDiscard)
	}
}

// HandleClip receives a finished recording from the capture pipeline
// and runs one turn against the agent. Clips arriving after the call
// ended are dropped.
func (o *Orchestrator) HandleClip(clip capture.Clip) {
	o.mu.Lock()
	if !o.active || o.state != StateListening {
		o.mu.Unlock()
		return
	}
	notify := o.setState(StateProcessing)
	ctx := o.ctx
	sessionID := o.sessionID
	o.mu.Unlock()
	notify()

	go o.runTurn(ctx, sessionID, clip.PCM)
}

// HandleDiscard receives the too-short-clip signal and re-arms
// listening instead of sending anything.
func (o *Orchestrator) HandleDiscard() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.scheduleRestart(o.cfg.RestartAfterDiscard)
}

// HandlePlaybackEnded is the sole exit from the speaking state.
func (o *Orchestrator) HandlePlaybackEnded() {
	o.mu.Lock()
	if !o.active || o.state != StateSpeaking {
		o.mu.Unlock()
		return
	}
	notify := o.setState(StateListening)
	o.mu.Unlock()
	notify()

	o.scheduleRestart(o.cfg.RestartAfterPlayback)
}

// runTurn posts the clip and consumes the event stream. Any failure
// aborts the turn, surfaces once, and falls back to listening.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, pcm []byte) {
	turnID := uuid.NewString()
	o.logger.Debug("turn started", "turn", turnID, "bytes", len(pcm))

	body, err := o.api.SendTurn(ctx, sessionID, pcm)
	if err != nil {
		o.logger.Warn("turn request failed", "turn", turnID, "err", err)
		o.abortTurn(err)
		return
	}
	defer body.Close()

	err = stream.Consume(ctx, body, o.logger, func(ev stream.Event) {
		o.handleEvent(ctx, ev)
	})
	if err != nil {
		o.logger.Warn("turn stream failed", "turn", turnID, "err", err)
		o.abortTurn(err)
		return
	}
	o.logger.Debug("turn finished", "turn", turnID)
}

// abortTurn surfaces a turn failure and returns to listening if the
// call survived it. A turn dying after End is normal teardown: the
// cancelled call context and the closed response body both error the
// stream, and neither is reportable.
func (o *Orchestrator) abortTurn(err error) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if !active {
		o.logger.Debug("turn aborted after call end", "err", err)
		return
	}
	o.surfaceError(err)

	o.mu.Lock()
	if !o.active || o.state != StateProcessing {
		o.mu.Unlock()
		return
	}
	o.delta.Reset()
	notify := o.setState(StateListening)
	o.mu.Unlock()
	notify()

	o.scheduleRestart(o.cfg.RestartAfterTurn)
}

// handleEvent dispatches one stream event. The switch is exhaustive
// over stream.Kind; events are already serialized by the decode loop.
func (o *Orchestrator) handleEvent(ctx context.Context, ev stream.Event) {
	switch ev.Kind {
	case stream.KindUserTranscript:
		o.appendMessage(RoleUser, ev.Text)

	case stream.KindToolCallStart:
		o.toolStart(ev)

	case stream.KindToolCallEnd:
		o.toolEnd(ev)

	case stream.KindDelta:
		o.mu.Lock()
		o.delta.WriteString(ev.Text)
		preview := o.delta.String()
		notify := o.OnDelta
		o.mu.Unlock()
		if notify != nil {
			notify(preview)
		}

	case stream.KindAudio:
		o.mu.Lock()
		skip := o.avatar || !o.active
		o.mu.Unlock()
		if skip {
			return
		}
		if err := o.player.Play(ctx, ev.Audio); err != nil {
			// Degraded mode: the turn continues without sound.
			o.logger.Warn("audio frame dropped", "err", err)
		}

	case stream.KindDone:
		o.finishTurn(ctx, ev.EndCall)

	case stream.KindError:
		// abortTurn restores listening; Consume stops after this event.
		o.abortTurn(fmt.Errorf("call: agent error: %s", ev.Message))

	default:
		o.logger.Debug("ignoring unknown stream event", "kind", string(ev.Kind))
	}
}

// finishTurn flushes the assembled transcript, closes the audio stream,
// and decides the next state: speaking while audio drains, a scheduled
// restart when the turn was silent, or teardown on an explicit
// end-of-call.
func (o *Orchestrator) finishTurn(ctx context.Context, endCall bool) {
	o.mu.Lock()
	text := strings.TrimSpace(o.delta.String())
	o.delta.Reset()
	o.mu.Unlock()

	if text != "" {
		o.appendMessage(RoleAgent, text)
	}

	if endCall {
		go func() {
			if _, err := o.End(ctx); err != nil && !errors.Is(err, ErrNoCall) {
				o.logger.Warn("agent-initiated end failed", "err", err)
			}
		}()
		return
	}

	hasAudio := o.player.HasAudio()

	o.mu.Lock()
	if !o.active || o.state != StateProcessing {
		o.mu.Unlock()
		return
	}
	var notify func()
	if hasAudio {
		// Enter speaking before closing the audio stream: a fast sink
		// can deliver the ended notification immediately, and
		// HandlePlaybackEnded honors it only in the speaking state.
		notify = o.setState(StateSpeaking)
		o.mu.Unlock()
		notify()
		o.player.SignalStreamComplete(ctx)
		// HandlePlaybackEnded takes it from here.
		return
	}
	notify = o.setState(StateListening)
	o.mu.Unlock()
	notify()

	o.scheduleRestart(o.cfg.RestartAfterTurn)
}

// End terminates the call: flips the active flag first so every pending
// async callback drops itself, clears the restart timer, stops capture
// and playback, releases the microphone, and posts the transcript for a
// summary. Safe to call while a turn is mid-stream.
func (o *Orchestrator) End(ctx context.Context) (*backend.Summary, error) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return nil, ErrNoCall
	}
	o.active = false
	o.cancelRestart()
	if o.cancel != nil {
		o.cancel()
	}
	sessionID := o.sessionID
	transcript := o.transcriptLocked()
	notify := o.setState(StateEnded)
	o.mu.Unlock()
	notify()

	o.rec.Stop() // any in-flight clip is dropped by the active guard
	o.player.Clear()
	if err := o.rec.Close(); err != nil {
		o.logger.Warn("closing microphone", "err", err)
	}

	summary, err := o.api.EndCall(ctx, sessionID, transcript)
	if err != nil {
		o.logger.Warn("call summary failed", "err", err)
	}

	o.logger.Info("call ended", "session", sessionID)
	if o.OnEnded != nil {
		o.OnEnded(summary)
	}
	if err != nil {
		return nil, fmt.Errorf("call: end: %w", err)
	}
	return summary, nil
}

func (o *Orchestrator) surfaceError(err error) {
	o.mu.Lock()
	notify := o.OnError
	o.mu.Unlock()
	if notify != nil {
		notify(err)
	}
}

// appendMessage records a finished transcript entry.
// Also used by the avatar path, which delivers whole utterances.
func (o *Orchestrator) appendMessage(role Role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := Message{Role: role, Text: text, At: time.Now()}

	o.mu.Lock()
	o.messages = append(o.messages, msg)
	notify := o.OnMessage
	o.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
}

// AppendUserMessage records an externally transcribed user utterance
// (avatar transport path).
func (o *Orchestrator) AppendUserMessage(text string) { o.appendMessage(RoleUser, text) }

// AppendAgentMessage records an externally transcribed agent utterance
// (avatar transport path).
func (o *Orchestrator) AppendAgentMessage(text string) { o.appendMessage(RoleAgent, text) }

// toolStart creates a record for a tool invocation and marks it
// running.
func (o *Orchestrator) toolStart(ev stream.Event) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}

	o.mu.Lock()
	rec := &ToolCallRecord{
		ID:     id,
		Name:   ev.Name,
		Params: ev.Params,
		Status: ToolRunning,
	}
	if _, exists := o.tools[id]; !exists {
		o.toolOrder = append(o.toolOrder, id)
	}
	o.tools[id] = rec
	snapshot := *rec
	notify := o.OnToolCall
	o.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// toolEnd resolves an existing record by ID. An end event with no
// matching record is dropped; it must never create one.
func (o *Orchestrator) toolEnd(ev stream.Event) {
	o.mu.Lock()
	rec, ok := o.tools[ev.ID]
	if !ok {
		o.mu.Unlock()
		o.logger.Debug("tool end for unknown call", "id", ev.ID)
		return
	}
	if ev.Status == "error" {
		rec.Status = ToolError
	} else {
		rec.Status = ToolCompleted
	}
	rec.Result = ev.Result
	snapshot := *rec
	notify := o.OnToolCall
	o.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// ToolCalls returns the call's tool records in creation order.
func (o *Orchestrator) ToolCalls() []ToolCallRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ToolCallRecord, 0, len(o.toolOrder))
	for _, id := range o.toolOrder {
		out = append(out, *o.tools[id])
	}
	return out
}

// Messages returns the finished transcript so far.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Transcript renders the call as "AI: ..." / "User: ..." lines, the
// format the summary endpoint expects.
func (o *Orchestrator) Transcript() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcriptLocked()
}

func (o *Orchestrator) transcriptLocked() string {
	var b strings.Builder
	for _, m := range o.messages {
		if m.Role == RoleAgent {
			b.WriteString("AI: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}
