package mrp

import (
	"fmt"

	"github.com/bcongdon/mrp/internal/pkg/mrpstore"
)

// ValidationError reports a malformed or incomplete job description. It is
// raised at compile time, before anything executes.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid job: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ResolutionError reports an operator reference that cannot be located or
// does not implement the role it is used for.
type ResolutionError struct {
	Ref string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RemoteExecutionError reports a script run that exited nonzero or printed
// no result document.
type RemoteExecutionError struct {
	Op        string
	SandboxID string
	ExitCode  int
	Output    string
	Err       error
}

func (e *RemoteExecutionError) Error() string {
	if e.SandboxID != "" {
		return fmt.Sprintf("%s: sandbox %s: %v", e.Op, e.SandboxID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing credential or capability. It is
// raised before any remote call is made.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotFoundError is returned when the artifact store has no blob for a
// digest.
type NotFoundError = mrpstore.NotFoundError
