// Package turn holds the turn-taking state machine of a conversation.
package turn

type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateClosed
)

// String returns the wire name of a State.
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
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event int

const (
	// EventStart opens the session.
	EventStart Event = iota
	// EventUtterance is a user text message or final transcript.
	EventUtterance
	// EventResult is a backend reply for the current turn.
	EventResult
	// EventFailure is a backend error for the current turn.
	EventFailure
	EventInterrupt
	// EventComplete is the natural end of assistant speech.
	EventComplete
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventUtterance:
		return "utterance"
	case EventResult:
		return "result"
	case EventFailure:
		return "failure"
	case EventInterrupt:
		return "interrupt"
	case EventComplete:
		return "complete"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

type edge struct {
	from  State
	event Event
}

var table = map[edge]State{
	{StateIdle, EventStart}:          StateListening,
	{StateListening, EventUtterance}: StateProcessing,
	{StateProcessing, EventResult}:   StateSpeaking,
	{StateProcessing, EventFailure}:  StateListening,
	{StateSpeaking, EventInterrupt}:  StateListening,
	{StateSpeaking, EventComplete}:   StateListening,
	{StateSpeaking, EventUtterance}:  StateProcessing,
}

// Next is the transition table. It reports false when the event is not
// accepted in the given state; callers treat that as a no-op.
func Next(from State, ev Event) (State, bool) {
	if ev == EventClose {
		return StateClosed, from != StateClosed
	}
	to, ok := table[edge{from, ev}]
	return to, ok
}
