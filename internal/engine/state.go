package engine

import (
	"errors"
)

// RunState is the orchestrator's own lifecycle state.
type RunState string

const (
	StateNotRunning      RunState = "not_running"
	StateRunning         RunState = "running"
	StateAutoPaused      RunState = "auto_paused"
	StateManuallyStopped RunState = "manually_stopped"
)

// Run-state errors.
var (
	ErrAutoPaused = errors.New("engine is auto-paused; clear the pause first")
	ErrNotPaused  = errors.New("engine is not auto-paused")
)

type runEvent string

const (
	evStart     runEvent = "start"
	evStop      runEvent = "stop"
	evAutoPause runEvent = "auto_pause"
	evClear     runEvent = "clear"
)

type runTransition struct {
	from  RunState
	event runEvent
}

// Rules:
//   - AutoPaused is left only through an explicit clear, never by start.
//   - A safety breach pauses from any state, including a manual stop.
var runTransitions = map[runTransition]RunState{
	{StateNotRunning, evStart}:      StateRunning,
	{StateManuallyStopped, evStart}: StateRunning,
	{StateRunning, evStart}:         StateRunning,

	{StateRunning, evStop}:         StateManuallyStopped,
	{StateNotRunning, evStop}:      StateManuallyStopped,
	{StateManuallyStopped, evStop}: StateManuallyStopped,
	{StateAutoPaused, evStop}:      StateAutoPaused,

	{StateNotRunning, evAutoPause}:      StateAutoPaused,
	{StateRunning, evAutoPause}:         StateAutoPaused,
	{StateManuallyStopped, evAutoPause}: StateAutoPaused,
	{StateAutoPaused, evAutoPause}:      StateAutoPaused,

	{StateAutoPaused, evClear}: StateRunning,
}

// next applies ev to s. ok is false when ev is not allowed from s.
func (s RunState) next(ev runEvent) (RunState, bool) {
	n, ok := runTransitions[runTransition{s, ev}]
	return n, ok
}
