// Package fsm defines the dictation session lifecycle state machine.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
	StateRefining     State = "refining"
	StateInjecting    State = "injecting"
	StateFailed       State = "failed"
)

const (
	// EventStart begins a new recording session from idle.
	EventStart Event = "start"
	// EventStop freezes the utterance buffer (manual toggle, auto-stop, or ceiling).
	EventStop Event = "stop"
	// EventDrop discards an empty or too-short utterance without transcription.
	EventDrop Event = "drop"
	// EventTranscribe hands the frozen buffer to the transcription engine.
	EventTranscribe Event = "transcribe"
	// EventRefine enters the optional text refinement stage.
	EventRefine Event = "refine"
	// EventInject enters keystroke injection, from transcribing or refining.
	EventInject Event = "inject"
	// EventFinish returns to idle once injection has been attempted.
	EventFinish Event = "finish"
	// EventFail marks the session failed; valid from every non-idle state.
	EventFail Event = "fail"
	// EventReset recovers a failed session back to idle.
	EventReset Event = "reset"
)

// Terminal reports whether a state ends the active session.
func Terminal(s State) bool {
	return s == StateIdle || s == StateFailed
}

func Transition(current State, event Event) (State, error) {
	if event == EventFail && current != StateIdle {
		return StateFailed, nil
	}

	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRecording, nil
		}
	case StateRecording:
		if event == EventStop {
			return StateStopping, nil
		}
	case StateStopping:
		switch event {
		case EventDrop:
			return StateIdle, nil
		case EventTranscribe:
			return StateTranscribing, nil
		}
	case StateTranscribing:
		switch event {
		case EventRefine:
			return StateRefining, nil
		case EventInject:
			return StateInjecting, nil
		}
	case StateRefining:
		if event == EventInject {
			return StateInjecting, nil
		}
	case StateInjecting:
		if event == EventFinish {
			return StateIdle, nil
		}
	case StateFailed:
		if event == EventReset {
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}

	return current, invalidTransition(current, event)
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
