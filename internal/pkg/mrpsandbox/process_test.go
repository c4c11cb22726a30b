package mrpsandbox

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSandboxRun(t *testing.T) {
	provider := &ProcessProvider{Interpreter: []string{"sh"}}
	ctx := context.Background()

	sandbox, err := provider.Create(ctx)
	require.NoError(t, err)
	root := sandbox.(*processSandbox).root

	resp, err := sandbox.Run(ctx, "echo diagnostic >&2\necho '{\"ok\":true}'\n")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Contains(t, resp.Output, "diagnostic")
	assert.True(t, strings.HasSuffix(resp.Output, "{\"ok\":true}\n"))

	require.NoError(t, sandbox.Delete(ctx))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessSandboxExitCode(t *testing.T) {
	provider := &ProcessProvider{Interpreter: []string{"sh"}}
	sandbox, err := provider.Create(context.Background())
	require.NoError(t, err)
	defer sandbox.Delete(context.Background())

	resp, err := sandbox.Run(context.Background(), "echo failing\nexit 3\n")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.ExitCode)
	assert.Equal(t, "failing\n", resp.Output)
}

func TestProcessSandboxWorkingDirectory(t *testing.T) {
	outDir := t.TempDir()
	provider := &ProcessProvider{Interpreter: []string{"sh"}, Dir: outDir}

	sandbox, err := provider.Create(context.Background())
	require.NoError(t, err)
	defer sandbox.Delete(context.Background())

	resp, err := sandbox.Run(context.Background(), "echo report > report.txt\n")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitCode)

	contents, err := ioutil.ReadFile(filepath.Join(outDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "report\n", string(contents))
}

func TestProcessSandboxMissingInterpreter(t *testing.T) {
	_, err := (&ProcessProvider{}).Create(context.Background())
	assert.Error(t, err)

	provider := &ProcessProvider{Interpreter: []string{"definitely-not-an-interpreter-mrp"}}
	sandbox, err := provider.Create(context.Background())
	require.NoError(t, err)
	defer sandbox.Delete(context.Background())

	_, err = sandbox.Run(context.Background(), "")
	assert.Error(t, err)
}
