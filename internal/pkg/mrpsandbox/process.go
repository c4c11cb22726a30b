package mrpsandbox

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
)

// ProcessProvider runs scripts as local child processes, each in its own
// temporary directory. It offers no isolation beyond a separate process.
type ProcessProvider struct {
	// Interpreter is the command run with the script path appended.
	Interpreter []string
	// Dir, when set, is the working directory of scripts instead of the
	// sandbox's temporary directory.
	Dir string
	// Env is appended to the parent environment.
	Env []string
}

func (p *ProcessProvider) Create(ctx context.Context) (Sandbox, error) {
	if len(p.Interpreter) == 0 {
		return nil, errors.New("process sandbox has no interpreter")
	}
	tmpDir, err := ioutil.TempDir("", "mrp-sandbox-")
	if err != nil {
		return nil, err
	}
	return &processSandbox{provider: p, root: tmpDir}, nil
}

type processSandbox struct {
	provider *ProcessProvider
	root     string
}

func (s *processSandbox) ID() string {
	return filepath.Base(s.root)
}

func (s *processSandbox) Run(ctx context.Context, script string) (*Response, error) {
	scriptPath := filepath.Join(s.root, "main")
	if err := ioutil.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return nil, err
	}

	interpreter := s.provider.Interpreter
	args := append(append([]string{}, interpreter[1:]...), scriptPath)
	cmd := exec.CommandContext(ctx, interpreter[0], args...)
	cmd.Dir = s.root
	if s.provider.Dir != "" {
		cmd.Dir = s.provider.Dir
	}
	cmd.Env = append(os.Environ(), s.provider.Env...)

	combinedOut, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Response{ExitCode: exitErr.ExitCode(), Output: string(combinedOut)}, nil
	} else if err != nil {
		return nil, fmt.Errorf("starting %s: %w", interpreter[0], err)
	}
	return &Response{ExitCode: 0, Output: string(combinedOut)}, nil
}

func (s *processSandbox) Delete(ctx context.Context) error {
	return os.RemoveAll(s.root)
}
