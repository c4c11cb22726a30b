package mrp

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpsandbox"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

// Resolver turns operator references into runnable roles. Registered
// references resolve by lookup; materialized units resolve to script
// operators run as local processes.
type Resolver struct {
	registry     *Registry
	materializer *Materializer
	runtime      mrpscript.Runtime
}

// NewResolver returns a Resolver over registry and the units of m.
func NewResolver(registry *Registry, m *Materializer, runtime mrpscript.Runtime) *Resolver {
	return &Resolver{
		registry:     registry,
		materializer: m,
		runtime:      runtime,
	}
}

// Agent resolves ref to a map operator.
func (r *Resolver) Agent(ref string) (Agent, error) {
	if isGeneratedRef(ref) {
		return r.script(ref)
	}
	if agent, ok := r.registry.agent(ref); ok {
		return agent, nil
	}
	return nil, r.missing(ref, "agent")
}

// Reducer resolves ref to a reduce operator.
func (r *Resolver) Reducer(ref string) (Reducer, error) {
	if isGeneratedRef(ref) {
		return r.script(ref)
	}
	if reducer, ok := r.registry.reducer(ref); ok {
		return reducer, nil
	}
	return nil, r.missing(ref, "reducer")
}

// Producer resolves ref to a produce operator.
func (r *Resolver) Producer(ref string) (Producer, error) {
	if isGeneratedRef(ref) {
		return r.script(ref)
	}
	if producer, ok := r.registry.producer(ref); ok {
		return producer, nil
	}
	return nil, r.missing(ref, "producer")
}

func (r *Resolver) missing(ref, role string) error {
	if r.registry.has(ref) {
		return &ResolutionError{Ref: ref, Err: fmt.Errorf("operator does not implement the %s role", role)}
	}
	return &ResolutionError{Ref: ref, Err: errors.New("no operator is registered under this reference")}
}

// UnitSource is shippable operator source and the entrypoint within it.
type UnitSource struct {
	Text       string
	Entrypoint string
}

// Source returns the script source backing ref.
func (r *Resolver) Source(ref string) (*UnitSource, error) {
	unit, entrypoint, err := ParseRef(ref)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	if isGeneratedRef(ref) {
		text, err := r.materializer.Source(unit)
		if err != nil {
			return nil, &ResolutionError{Ref: ref, Err: err}
		}
		return &UnitSource{Text: string(text), Entrypoint: entrypoint}, nil
	}
	if text, ok := r.registry.source(unit); ok {
		return &UnitSource{Text: text, Entrypoint: entrypoint}, nil
	}
	return nil, &ResolutionError{Ref: ref, Err: fmt.Errorf("unit %s has no registered source", unit)}
}

func (r *Resolver) script(ref string) (*scriptOperator, error) {
	source, err := r.Source(ref)
	if err != nil {
		return nil, err
	}
	return &scriptOperator{
		ref:     ref,
		source:  source,
		runtime: r.runtime,
		provider: func(dir string) mrpsandbox.Provider {
			return &mrpsandbox.ProcessProvider{Interpreter: r.runtime.Interpreter(), Dir: dir}
		},
	}, nil
}

// scriptOperator runs materialized source through the runtime's
// interpreter. It implements every role; the source decides what it does
// with its payload.
type scriptOperator struct {
	ref      string
	source   *UnitSource
	runtime  mrpscript.Runtime
	provider func(dir string) mrpsandbox.Provider
}

func (s *scriptOperator) invoke(ctx context.Context, op, dir string, payload interface{}, seed string) (Document, error) {
	inv := mrpscript.Invocation{
		Source:     s.source.Text,
		Entrypoint: s.source.Entrypoint,
		Payload:    payload,
		Seed:       seed,
	}
	return runScript(ctx, op, s.provider(dir), s.runtime, inv)
}

func (s *scriptOperator) Run(ctx context.Context, params Document, seed string) (Document, error) {
	return s.invoke(ctx, "map "+s.ref, "", params, seed)
}

func (s *scriptOperator) Reduce(ctx context.Context, results []Document, seed string) (Document, error) {
	return s.invoke(ctx, "reduce "+s.ref, "", results, seed)
}

func (s *scriptOperator) Produce(ctx context.Context, result Document, seed string, outputLocation string) (Document, error) {
	return s.invoke(ctx, "produce "+s.ref, outputLocation, result, seed)
}

// runScript runs one invocation in a fresh sandbox from provider. The
// sandbox is deleted on every path.
func runScript(ctx context.Context, op string, provider mrpsandbox.Provider, runtime mrpscript.Runtime, inv mrpscript.Invocation) (doc Document, err error) {
	script, err := runtime.Wrap(inv)
	if err != nil {
		return nil, &ResolutionError{Ref: inv.Entrypoint, Err: err}
	}

	sandbox, err := provider.Create(ctx)
	if err != nil {
		return nil, &RemoteExecutionError{Op: op, Err: err}
	}
	defer func() {
		// Deletion must not be skipped when ctx is already done
		if derr := sandbox.Delete(context.Background()); derr != nil {
			log.Warnf("Failed to delete sandbox %s: %s", sandbox.ID(), derr)
			if err == nil {
				doc, err = nil, &RemoteExecutionError{Op: op, SandboxID: sandbox.ID(), Err: fmt.Errorf("deleting sandbox: %w", derr)}
			}
		}
	}()

	resp, err := sandbox.Run(ctx, script)
	if err != nil {
		return nil, &RemoteExecutionError{Op: op, SandboxID: sandbox.ID(), Err: err}
	}
	if resp.ExitCode != 0 {
		return nil, &RemoteExecutionError{
			Op:        op,
			SandboxID: sandbox.ID(),
			ExitCode:  resp.ExitCode,
			Output:    resp.Output,
			Err:       fmt.Errorf("exited with status %d: %.200s", resp.ExitCode, resp.Output),
		}
	}

	doc, err = mrpscript.LastDocument(resp.Output)
	if err != nil {
		return nil, &RemoteExecutionError{Op: op, SandboxID: sandbox.ID(), Output: resp.Output, Err: err}
	}
	return doc, nil
}
