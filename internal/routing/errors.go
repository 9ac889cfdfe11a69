package routing

import (
	"errors"
	"fmt"
)

// ErrRoutingFailure marks a remote routing call that could not be used.
// It never reaches callers; the local rule engine answers instead.
var ErrRoutingFailure = errors.New("routing service failure")

// Stage names a step of request handling
type Stage string

const (
	StageValidate    Stage = "validate"
	StageCredentials Stage = "credentials"
	StageExecute     Stage = "execute"
)

// StageError is a failure at one step of handling a request. Every
// StageError ends up in the fallback path.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func routingFailure(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRoutingFailure, fmt.Sprintf(format, args...))
}
