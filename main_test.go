package mrp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time {
	return fixedStart
}

// shellRuntime runs operator source as a POSIX shell script. The payload,
// seed and entrypoint are exposed as PAYLOAD, SEED and ENTRYPOINT.
type shellRuntime struct{}

func (shellRuntime) Name() string          { return "sh" }
func (shellRuntime) Extension() string     { return "sh" }
func (shellRuntime) Interpreter() []string { return []string{"sh"} }

func (shellRuntime) Wrap(inv mrpscript.Invocation) (string, error) {
	if !mrpscript.ValidEntrypoint(inv.Entrypoint) {
		return "", fmt.Errorf("invalid entrypoint %q", inv.Entrypoint)
	}
	payload, err := mrpcodec.Encode(inv.Payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAYLOAD=%s\nSEED=%s\nENTRYPOINT=%s\n%s\n",
		shellQuote(string(payload)), shellQuote(inv.Seed), inv.Entrypoint, inv.Source), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type testDirs struct {
	artifacts string
	ops       string
	outputs   string
}

func newTestDriver(t *testing.T, registry *Registry, options ...Option) (*Driver, testDirs) {
	t.Helper()
	root := t.TempDir()
	dirs := testDirs{
		artifacts: filepath.Join(root, "artifacts"),
		ops:       filepath.Join(root, "ops_pkg"),
		outputs:   filepath.Join(root, "outputs"),
	}
	defaults := []Option{
		WithArtifactLocation(dirs.artifacts),
		WithOpsLocation(dirs.ops),
		WithOutputLocation(dirs.outputs),
		WithRuntime(shellRuntime{}),
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(fixedClock),
		WithSandbox("", ""),
		WithMaxWorkers(0),
		WithProgress(false),
	}
	driver, err := NewDriver(registry, append(defaults, options...)...)
	require.NoError(t, err)
	return driver, dirs
}

func upperAgent(ctx context.Context, params Document, seed string) (Document, error) {
	text, ok := params["text"].(string)
	if !ok {
		return nil, fmt.Errorf("shard has no text: %v", params)
	}
	return Document{ShardIDKey: params[ShardIDKey], "text": strings.ToUpper(text)}, nil
}

func concatReducer(ctx context.Context, results []Document, seed string) (Document, error) {
	parts := make([]string, 0, len(results))
	for _, result := range results {
		parts = append(parts, fmt.Sprint(result["text"]))
	}
	return Document{"joined": strings.Join(parts, "-")}, nil
}

func identityProducer(ctx context.Context, result Document, seed string, outputLocation string) (Document, error) {
	return result, nil
}

func testRegistry() *Registry {
	registry := NewRegistry()
	registry.RegisterAgent("test:Upper", AgentFunc(upperAgent))
	registry.RegisterReducer("test:Concat", ReducerFunc(concatReducer))
	registry.RegisterProducer("test:Identity", ProducerFunc(identityProducer))
	return registry
}

func textShards(texts ...string) []Document {
	shards := make([]Document, len(texts))
	for i, text := range texts {
		shards[i] = Document{"text": text}
	}
	return shards
}

func testJob(shards ...Document) *JobDescription {
	return &JobDescription{
		JobID:   "test",
		Map:     MapSpec{Operator: "test:Upper", Shards: shards},
		Reduce:  StageSpec{Operator: "test:Concat"},
		Produce: StageSpec{Operator: "test:Identity"},
	}
}
