package surgery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("surgery not found")
	ErrTxAborted = errors.New("transaction aborted")
)

// ErrorCode classifies a rejected workflow operation.
type ErrorCode string

const (
	CodeInvalidOrder         ErrorCode = "InvalidOrder"
	CodeMissingAssignment    ErrorCode = "MissingAssignment"
	CodeMissingHandoverNotes ErrorCode = "MissingHandoverNotes"
	CodeInvalidState         ErrorCode = "InvalidState"
	CodeCancelNotAllowed     ErrorCode = "CancelNotAllowed"
)

// TransitionError is a local validation failure. The surgery it was
// computed for is never modified when one is returned.
type TransitionError struct {
	Code    ErrorCode
	From    Status
	To      Status
	Missing []string
}

func (e *TransitionError) Error() string {
	switch e.Code {
	case CodeInvalidOrder:
		return fmt.Sprintf("cannot move from %q to %q", e.From, e.To)
	case CodeMissingAssignment:
		return fmt.Sprintf("cannot move to %q: missing %s", e.To, strings.Join(e.Missing, ", "))
	case CodeMissingHandoverNotes:
		return "handover notes are required before the patient can be received"
	case CodeInvalidState:
		return fmt.Sprintf("operation not allowed while status is %q", e.From)
	case CodeCancelNotAllowed:
		return fmt.Sprintf("cannot cancel once status is %q", e.From)
	default:
		return string(e.Code)
	}
}

// IsTransitionError reports whether err carries a TransitionError with the
// given code.
func IsTransitionError(err error, code ErrorCode) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Code == code
}

// StoreError is a failure of the persistence collaborator. Retryable is set
// for transaction aborts; nothing was committed in that case.
type StoreError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// wrapStore tags err as a store failure unless it already is one or is a
// domain result (not found, bad input, rejected transition).
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrDuplicateRoom) {
		return err
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return err
	}
	return &StoreError{Op: op, Err: err, Retryable: errors.Is(err, ErrTxAborted)}
}
