package engine

import (
	"errors"
	"fmt"
)

var (
	ErrOOMKilled      = errors.New("oom killed")
	ErrTimedOut       = errors.New("timed out")
	ErrWorkflowFailed = errors.New("workflow failed")
)

// ExitError carries a step's non-zero exit code alongside the
// workflow-failed sentinel.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrWorkflowFailed
}
