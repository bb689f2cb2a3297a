package pipeline

// State is a step of one pipeline invocation. States only move forward.
type State int

const (
	StateIdle State = iota
	StateNormalizing
	StateRecognizing
	StateExtracting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNormalizing:
		return "normalizing"
	case StateRecognizing:
		return "recognizing"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canAdvance reports whether the transition from s to next is allowed
func (s State) canAdvance(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return next == s+1
}
