// Package pipeline orchestrates the five scanner stages (universe,
// spread, score, depth, report) over a run directory, with resumable
// state, per-stage deadlines, and artifact validation.
package pipeline

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitConfig     = 2
	ExitStage      = 3
	ExitValidation = 4
)

// ErrorType classifies pipeline failures for state records and exit
// code mapping.
type ErrorType string

const (
	ErrTypeInvalidPlan  ErrorType = "invalid_plan"
	ErrTypeStageFailed  ErrorType = "stage_failed"
	ErrTypeStageTimeout ErrorType = "stage_timeout"
	ErrTypeValidation   ErrorType = "validation"
)

// Error is a classified pipeline failure, optionally tied to a stage.
type Error struct {
	Type    ErrorType
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: stage %s: %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewPlanError reports an unusable stage selection.
func NewPlanError(format string, args ...any) *Error {
	return &Error{Type: ErrTypeInvalidPlan, Message: fmt.Sprintf(format, args...)}
}

// NewStageError wraps a stage execution failure.
func NewStageError(stage string, err error) *Error {
	return &Error{Type: ErrTypeStageFailed, Stage: stage, Message: err.Error(), Err: err}
}

// NewTimeoutError reports a stage that hit its deadline.
func NewTimeoutError(stage string, message string) *Error {
	return &Error{Type: ErrTypeStageTimeout, Stage: stage, Message: message}
}

// NewValidationError reports missing or malformed artifacts.
func NewValidationError(stage string, message string) *Error {
	return &Error{Type: ErrTypeValidation, Stage: stage, Message: message}
}

// TypeOf extracts the classified type, defaulting to stage_failed.
func TypeOf(err error) ErrorType {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Type
	}
	return ErrTypeStageFailed
}

// ExitCodeFor maps a run error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	switch TypeOf(err) {
	case ErrTypeInvalidPlan:
		return ExitConfig
	case ErrTypeValidation:
		return ExitValidation
	default:
		return ExitStage
	}
}
