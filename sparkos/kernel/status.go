package kernel

import "errors"

// Status is the outcome of a kernel operation.
//
// Every value except StatusSuccessful implements error, so callers compare
// with errors.Is(err, kernel.ErrTimeout) and friends.
type Status uint8

const (
	StatusSuccessful Status = iota
	StatusUnsatisfiedNoWait
	StatusUnsatisfied
	StatusTimeout
	StatusObjectWasDeleted
	StatusNestingNotAllowed
	StatusNotOwnerOfResource
	StatusCeilingViolated
	StatusInvalidSize
	StatusTooMany
	StatusInvalidID
	StatusBusy
	StatusMismatchedMutex
	StatusInvalidPriority
	StatusIncorrectState
	StatusInvalidArgument
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "Successful"
	case StatusUnsatisfiedNoWait:
		return "UnsatisfiedNoWait"
	case StatusUnsatisfied:
		return "Unsatisfied"
	case StatusTimeout:
		return "Timeout"
	case StatusObjectWasDeleted:
		return "ObjectWasDeleted"
	case StatusNestingNotAllowed:
		return "NestingNotAllowed"
	case StatusNotOwnerOfResource:
		return "NotOwnerOfResource"
	case StatusCeilingViolated:
		return "CeilingViolated"
	case StatusInvalidSize:
		return "InvalidSize"
	case StatusTooMany:
		return "TooMany"
	case StatusInvalidID:
		return "InvalidID"
	case StatusBusy:
		return "Busy"
	case StatusMismatchedMutex:
		return "MismatchedMutex"
	case StatusInvalidPriority:
		return "InvalidPriority"
	case StatusIncorrectState:
		return "IncorrectState"
	case StatusInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

func (s Status) Error() string { return "kernel: " + s.String() }

// Err returns nil for StatusSuccessful and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccessful {
		return nil
	}
	return s
}

var (
	ErrUnsatisfiedNoWait  error = StatusUnsatisfiedNoWait
	ErrUnsatisfied        error = StatusUnsatisfied
	ErrTimeout            error = StatusTimeout
	ErrObjectWasDeleted   error = StatusObjectWasDeleted
	ErrNestingNotAllowed  error = StatusNestingNotAllowed
	ErrNotOwnerOfResource error = StatusNotOwnerOfResource
	ErrCeilingViolated    error = StatusCeilingViolated
	ErrInvalidSize        error = StatusInvalidSize
	ErrTooMany            error = StatusTooMany
	ErrInvalidID          error = StatusInvalidID
	ErrBusy               error = StatusBusy
	ErrMismatchedMutex    error = StatusMismatchedMutex
	ErrInvalidPriority    error = StatusInvalidPriority
	ErrIncorrectState     error = StatusIncorrectState
	ErrInvalidArgument    error = StatusInvalidArgument

	// ErrReacquire wraps the mutex error when a condition wait could not
	// take its mutex back.
	ErrReacquire = errors.New("kernel: mutex reacquire failed")
)
