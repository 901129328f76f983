package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error kinds surfaced by the engine. Match with errors.Is.
var (
	// ErrPermissionDenied: the host refuses exact scheduling. The alarm stays saved but
	// unscheduled until permission is granted and a reschedule or restore runs.
	ErrPermissionDenied = errors.New("exact scheduling not permitted")
	// ErrPersistence: a store read or write failed; the mutation did not happen.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidState: the operation referenced a missing id or a state where it does
	// nothing. Callers treat it as a no-op.
	ErrInvalidState = errors.New("invalid state")
	// ErrTriggerRegistration: the host rejected a trigger. The alarm stays enabled and is
	// retried on the next restore pass.
	ErrTriggerRegistration = errors.New("trigger registration failed")
	// ErrSnoozeLimit: the ringing alarm used up its snoozes; only Stop is accepted.
	ErrSnoozeLimit = errors.New("snooze limit reached")
	// ErrInvalidInput: the caller passed values that cannot be stored.
	ErrInvalidInput = errors.New("invalid input")
)

// EngineError ties an error kind to the operation and record it came from.
type EngineError struct {
	Kind error
	Op   string
	ID   uint
	Err  error
}

func (e *EngineError) Error() string {
	msg := e.Op
	if e.ID != 0 {
		msg = fmt.Sprintf("%s #%d", e.Op, e.ID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

func (e *EngineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, id uint, err error) error {
	return &EngineError{Kind: kind, Op: op, ID: id, Err: err}
}

// storeError converts a repository error into an engine error kind.
func storeError(op string, id uint, err error) error {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(ErrInvalidState, op, id, err)
	}
	return newError(ErrPersistence, op, id, err)
}

// IsNoop reports whether err only means "nothing to do".
func IsNoop(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
