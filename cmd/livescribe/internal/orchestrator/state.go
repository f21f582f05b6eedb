package orchestrator

// State is the pipeline lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateErrored   State = "errored"
)

// Active reports whether a session is running in s.
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused || s == StateStopping
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrored
}

// canStart reports whether a new session may begin from s.
func (s State) canStart() bool {
	return s == StateIdle || s.Terminal()
}
