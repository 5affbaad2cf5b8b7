package models

import (
	"errors"
	"fmt"
)

const (
	ExitOK      = 0
	ExitWarning = 1
	ExitFailure = 2
)

// error kinds; wrap them so callers can decide severity with errors.Is
var (
	ErrPrecondition = errors.New("precondition failed")
	ErrTransient    = errors.New("transient i/o failure")
	ErrIntegrity    = errors.New("integrity check failed")
)

type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func NewStageError(stage string, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

func Precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

func Integrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// StageOf returns the failing stage recorded in err, if any.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
