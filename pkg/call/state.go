package call

import "time"

// State is the call orchestration phase.
type State int

const (
	// StateIdle means no call is in progress.
	StateIdle State = iota
	// StateListening means the call is live and the microphone side is
	// capturing, or about to capture after a scheduled restart.
	StateListening
	// StateProcessing means a finished recording is in flight to the
	// agent and its response stream is being consumed.
	StateProcessing
	// StateSpeaking means synthesized agent audio is playing.
	StateSpeaking
	// StateEnded is terminal for this call instance.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Config holds orchestration timing parameters. Each restart trigger
// has its own delay; all are debounced through a single pending timer.
type Config struct {
	// RestartAfterPlayback delays the listen restart after agent audio
	// finishes playing. Default: 300ms.
	RestartAfterPlayback time.Duration `yaml:"restart_after_playback"`

	// RestartAfterTurn delays the restart after a turn completes with
	// no audio to play. Default: 500ms.
	RestartAfterTurn time.Duration `yaml:"restart_after_turn"`

	// RestartAfterDiscard delays the restart after a too-short
	// recording was dropped. Default: 100ms.
	RestartAfterDiscard time.Duration `yaml:"restart_after_discard"`
}

// DefaultConfig returns orchestration timings with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RestartAfterPlayback: 300 * time.Millisecond,
		RestartAfterTurn:     500 * time.Millisecond,
		RestartAfterDiscard:  100 * time.Millisecond,
	}
}

// Role identifies a transcript speaker.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one finished transcript entry.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ToolStatus is the lifecycle state of a tool call record.
type ToolStatus string

// A start event means the backend is already executing the tool, so
// records are born running; there is no pending phase.
const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolCallRecord tracks one agent-invoked action for the duration of a
// call. Records are created by tool-call-start events, resolved by a
// matching tool-call-end keyed on ID, and never deleted mid-call.
type ToolCallRecord struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Result string         `json:"result,omitempty"`
	Status ToolStatus     `json:"status"`
}
