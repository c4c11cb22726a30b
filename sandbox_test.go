package mrp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
	"github.com/bcongdon/mrp/internal/pkg/mrpsandbox"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

// recordingProvider runs sandboxes as local shell processes and counts
// their lifecycle.
type recordingProvider struct {
	mu      sync.Mutex
	apiKey  string
	created int
	deleted int
	failRun bool
}

func (p *recordingProvider) Create(ctx context.Context) (mrpsandbox.Sandbox, error) {
	sandbox, err := (&mrpsandbox.ProcessProvider{Interpreter: []string{"sh"}}).Create(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return &recordingSandbox{Sandbox: sandbox, provider: p}, nil
}

type recordingSandbox struct {
	mrpsandbox.Sandbox
	provider *recordingProvider
}

func (s *recordingSandbox) Run(ctx context.Context, script string) (*mrpsandbox.Response, error) {
	if s.provider.failRun {
		return nil, errors.New("sandbox unreachable")
	}
	return s.Sandbox.Run(ctx, script)
}

func (s *recordingSandbox) Delete(ctx context.Context) error {
	s.provider.mu.Lock()
	s.provider.deleted++
	s.provider.mu.Unlock()
	return s.Sandbox.Delete(ctx)
}

func newSandboxDriver(t *testing.T, source string, options ...Option) (*Driver, *recordingProvider, testDirs) {
	t.Helper()
	registry := testRegistry()
	registry.RegisterSource("shell", source)

	provider := &recordingProvider{}
	options = append([]Option{
		WithSandbox("http://sandbox.invalid", "secret"),
		WithSandboxProvider(func(apiKey string) mrpsandbox.Provider {
			provider.apiKey = apiKey
			return provider
		}),
	}, options...)
	driver, dirs := newTestDriver(t, registry, options...)
	return driver, provider, dirs
}

func sandboxJob(texts ...string) *JobDescription {
	job := testJob(textShards(texts...)...)
	job.Map.Operator = "shell:Echo"
	return job
}

func TestRunSandbox(t *testing.T) {
	reg := prometheus.NewRegistry()
	driver, provider, dirs := newSandboxDriver(t, `echo "sandbox log line"; echo "$PAYLOAD"`, WithRegisterer(reg))

	plan, _, _, err := driver.Compile(sandboxJob("a", "b", "c"))
	require.NoError(t, err)
	result, err := driver.Execute(context.Background(), plan, SandboxBackend)
	require.NoError(t, err)

	record := result.Record
	assert.Equal(t, "cloud_sandbox", record.Backend)
	require.Len(t, record.Maps, 3)
	for i, doc := range record.Maps {
		id, present, err := shardID(doc)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, i, id)
		assert.Equal(t, plan.Maps[i].Params["text"], doc["text"])
	}
	assert.Contains(t, record.Reduce, "joined")

	assert.Equal(t, "secret", provider.apiKey)
	assert.Equal(t, 3, provider.created)
	assert.Equal(t, 3, provider.deleted)
	assert.Len(t, storedBlobs(t, dirs.artifacts), 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(driver.metrics.mapTasks.WithLabelValues("cloud_sandbox", "ok")))
}

func TestRunSandboxMatchesLocal(t *testing.T) {
	driver, _, _ := newSandboxDriver(t, `echo "$PAYLOAD" | sed 's/"text":"a"/"text":"A"/; s/"text":"b"/"text":"B"/'`)
	registry := testRegistry()
	registry.RegisterAgent("shell:Echo", AgentFunc(upperAgent))
	local, _ := newTestDriver(t, registry)

	remote, err := driver.Run(context.Background(), sandboxJob("a", "b"), SandboxBackend)
	require.NoError(t, err)
	here, err := local.Run(context.Background(), sandboxJob("a", "b"), LocalBackend)
	require.NoError(t, err)

	for _, section := range []struct {
		name         string
		local, other Document
	}{
		{"reduce", here.Record.Reduce, remote.Record.Reduce},
		{"produce", here.Record.Produce, remote.Record.Produce},
	} {
		want, err := mrpcodec.Encode(section.local)
		require.NoError(t, err)
		got, err := mrpcodec.Encode(section.other)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), section.name)
	}
}

func TestRunSandboxMissingCredential(t *testing.T) {
	driver, provider, dirs := newSandboxDriver(t, `echo "$PAYLOAD"`, WithSandbox("http://sandbox.invalid", ""))

	_, err := driver.Run(context.Background(), sandboxJob("a"), SandboxBackend)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "cloud_sandbox", cerr.Op)
	assert.Equal(t, 0, provider.created)
	assert.Empty(t, storedBlobs(t, dirs.artifacts))
}

func TestRunSandboxFailures(t *testing.T) {
	var sandboxFailureTests = []struct {
		name     string
		source   string
		failRun  bool
		exitCode int
		cause    error
	}{
		{"nonzero exit", "echo failing\nexit 3", false, 3, nil},
		{"no document", "echo all done", false, 0, mrpscript.ErrNoDocument},
		{"run error", `echo "$PAYLOAD"`, true, 0, nil},
	}

	for _, test := range sandboxFailureTests {
		driver, provider, dirs := newSandboxDriver(t, test.source)
		provider.failRun = test.failRun

		_, err := driver.Run(context.Background(), sandboxJob("a", "b"), SandboxBackend)
		var rerr *RemoteExecutionError
		require.True(t, errors.As(err, &rerr), test.name)
		assert.Equal(t, test.exitCode, rerr.ExitCode, test.name)
		assert.NotEmpty(t, rerr.SandboxID, test.name)
		if test.cause != nil {
			assert.True(t, errors.Is(err, test.cause), test.name)
		}

		// The first failure stops dispatch; its sandbox is still deleted
		assert.Equal(t, 1, provider.created, test.name)
		assert.Equal(t, 1, provider.deleted, test.name)
		assert.Empty(t, storedBlobs(t, dirs.artifacts), test.name)
	}
}

func TestRunSandboxWithoutSource(t *testing.T) {
	driver, provider, _ := newSandboxDriver(t, `echo "$PAYLOAD"`)

	job := sandboxJob("a")
	job.Map.Operator = "test:Upper"
	_, err := driver.Run(context.Background(), job, SandboxBackend)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 0, provider.created)
}

func TestRunSandboxGeneratedOperator(t *testing.T) {
	driver, provider, _ := newSandboxDriver(t, "")
	job := sandboxJob("a", "b")
	job.Map.Operator = ""
	job.Map.Generated = &GeneratedOperator{SourceText: `echo "$PAYLOAD"`, Entrypoint: "Echo"}

	result, err := driver.Run(context.Background(), job, SandboxBackend)
	require.NoError(t, err)
	assert.Len(t, result.Record.Maps, 2)
	assert.Equal(t, 2, provider.deleted)
}
