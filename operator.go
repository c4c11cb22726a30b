package mrp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

// Document is an arbitrary structured value: shard parameters, map results
// and stage outputs are all Documents.
type Document = map[string]interface{}

// Agent is the map role. Run must be safe for concurrent use: the local
// backend calls a single Agent from many goroutines.
type Agent interface {
	Run(ctx context.Context, params Document, seed string) (Document, error)
}

// Reducer is the reduce role. results are ordered by shard id.
type Reducer interface {
	Reduce(ctx context.Context, results []Document, seed string) (Document, error)
}

// Producer is the produce role. outputLocation is a directory owned by the
// current run; producers write any artifacts there and nowhere else.
type Producer interface {
	Produce(ctx context.Context, result Document, seed string, outputLocation string) (Document, error)
}

// AgentFunc adapts a function to the Agent role.
type AgentFunc func(ctx context.Context, params Document, seed string) (Document, error)

func (f AgentFunc) Run(ctx context.Context, params Document, seed string) (Document, error) {
	return f(ctx, params, seed)
}

// ReducerFunc adapts a function to the Reducer role.
type ReducerFunc func(ctx context.Context, results []Document, seed string) (Document, error)

func (f ReducerFunc) Reduce(ctx context.Context, results []Document, seed string) (Document, error) {
	return f(ctx, results, seed)
}

// ProducerFunc adapts a function to the Producer role.
type ProducerFunc func(ctx context.Context, result Document, seed string, outputLocation string) (Document, error)

func (f ProducerFunc) Produce(ctx context.Context, result Document, seed string, outputLocation string) (Document, error) {
	return f(ctx, result, seed, outputLocation)
}

// ParseRef splits an operator reference of the form "<unit>:<entrypoint>".
func ParseRef(ref string) (unit, entrypoint string, err error) {
	idx := strings.LastIndex(ref, ":")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("operator reference %q is not of the form <unit>:<entrypoint>", ref)
	}
	unit, entrypoint = ref[:idx], ref[idx+1:]
	if !mrpscript.ValidEntrypoint(entrypoint) {
		return "", "", fmt.Errorf("operator reference %q has invalid entrypoint %q", ref, entrypoint)
	}
	return unit, entrypoint, nil
}

// Registry maps stable operator references to implementations. Source text
// can be registered per unit so that the sandbox backend can ship it.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	reducers  map[string]Reducer
	producers map[string]Producer
	sources   map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:    make(map[string]Agent),
		reducers:  make(map[string]Reducer),
		producers: make(map[string]Producer),
		sources:   make(map[string]string),
	}
}

func mustParse(ref string) {
	if _, _, err := ParseRef(ref); err != nil {
		panic(err)
	}
	if isGeneratedRef(ref) {
		panic(fmt.Sprintf("operator reference %q uses the reserved %s unit namespace", ref, unitPackage))
	}
}

// RegisterAgent registers a map operator. It panics if ref is malformed or
// already registered as an agent.
func (r *Registry) RegisterAgent(ref string, agent Agent) {
	mustParse(ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[ref]; exists {
		panic(fmt.Sprintf("agent %q registered twice", ref))
	}
	r.agents[ref] = agent
}

// RegisterReducer registers a reduce operator.
func (r *Registry) RegisterReducer(ref string, reducer Reducer) {
	mustParse(ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reducers[ref]; exists {
		panic(fmt.Sprintf("reducer %q registered twice", ref))
	}
	r.reducers[ref] = reducer
}

// RegisterProducer registers a produce operator.
func (r *Registry) RegisterProducer(ref string, producer Producer) {
	mustParse(ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[ref]; exists {
		panic(fmt.Sprintf("producer %q registered twice", ref))
	}
	r.producers[ref] = producer
}

// RegisterSource attaches script source text to a unit. Every entrypoint
// of the unit must be defined by that source.
func (r *Registry) RegisterSource(unit, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[unit] = source
}

func (r *Registry) agent(ref string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[ref]
	return a, ok
}

func (r *Registry) reducer(ref string) (Reducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	red, ok := r.reducers[ref]
	return red, ok
}

func (r *Registry) producer(ref string) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[ref]
	return p, ok
}

func (r *Registry) source(unit string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[unit]
	return s, ok
}

func (r *Registry) has(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, a := r.agents[ref]
	_, red := r.reducers[ref]
	_, p := r.producers[ref]
	return a || red || p
}
