// Package mrpsandbox provides isolated environments that run one script and
// report its combined output and exit status.
package mrpsandbox

import (
	"context"
)

// Response is the outcome of running a script in a sandbox.
type Response struct {
	ExitCode int
	Output   string
}

// Sandbox is a single-use execution environment.
type Sandbox interface {
	ID() string
	Run(ctx context.Context, script string) (*Response, error)
	Delete(ctx context.Context) error
}

// Provider creates sandboxes.
type Provider interface {
	Create(ctx context.Context) (Sandbox, error)
}
