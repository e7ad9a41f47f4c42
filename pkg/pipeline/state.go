package pipeline

import (
	"errors"
	"fmt"
)

type State string

const (
	StateIdle                 State = "idle"
	StateConverting           State = "converting"
	StateAwaitingConfirmation State = "awaiting_device_confirmation"
	StatePreparing            State = "preparing"
	StateWriting              State = "writing"
	StateVerifying            State = "verifying"
	StateDone                 State = "done"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

type Kind string

const (
	KindSuccess           Kind = "success"
	KindConversionFailed  Kind = "conversion_failed"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindWriteFailed       Kind = "write_failed"
	KindCancelled         Kind = "cancelled"
)

// Result is the outcome handed back to the caller of a run.
type Result struct {
	RunID          string
	Kind           Kind
	State          State
	Message        string
	Source         string
	Device         string
	ConvertedBytes int64
	BytesDone      int64
	BytesTotal     int64
	Attempts       int
	Warnings       []string
	Degraded       bool
}

func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// ErrDeclined is returned when the destructive-operation confirmation is refused.
var ErrDeclined = errors.New("device confirmation declined")

// Failure attaches a result kind to a step error.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

// kindFor maps an unclassified error to a kind by the state it surfaced in.
func kindFor(state State) Kind {
	switch state {
	case StateConverting:
		return KindConversionFailed
	case StateWriting, StateVerifying:
		return KindWriteFailed
	case StateAwaitingConfirmation:
		return KindCancelled
	default:
		return KindDeviceUnavailable
	}
}
