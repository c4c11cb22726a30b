package mrpsandbox

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaytona struct {
	mu       sync.Mutex
	created  int
	deleted  []string
	scripts  []string
	exitCode int
	result   string
	authSeen []string
	commands []int
	staged   string
}

func (f *fakeDaytona) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sandbox", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		f.created++
		w.Write([]byte(`{"id":"sbx-1","state":"started"}`))
	})
	mux.HandleFunc("/sandbox/sbx-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		f.deleted = append(f.deleted, "sbx-1")
	})
	mux.HandleFunc("/toolbox/sbx-1/toolbox/process/execute", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fields := strings.Fields(req.Command)
		require.True(t, len(fields) > 4, req.Command)
		f.commands = append(f.commands, len(req.Command))

		var encoded string
		switch fields[2] {
		case `"printf`:
			// sh -c "printf %s <chunk> > <file>"
			if fields[5] == ">" {
				f.staged = ""
			}
			f.staged += fields[4]
			json.NewEncoder(w).Encode(executeResponse{})
			return
		case `"base64`:
			// sh -c "base64 -d <file> | python3 -u"
			encoded = f.staged
		default:
			// sh -c "echo <b64> | base64 -d | python3 -u"
			encoded = fields[3]
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		f.scripts = append(f.scripts, string(decoded))

		json.NewEncoder(w).Encode(executeResponse{ExitCode: f.exitCode, Result: f.result})
	})
	return mux
}

func TestDaytonaLifecycle(t *testing.T) {
	fake := &fakeDaytona{result: "hello\n{\"ok\":true}"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	provider := NewDaytonaProvider(server.URL+"/", "secret-key")
	ctx := context.Background()

	sandbox, err := provider.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", sandbox.ID())

	resp, err := sandbox.Run(ctx, "print('hi')\n")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "hello\n{\"ok\":true}", resp.Output)

	require.NoError(t, sandbox.Delete(ctx))

	assert.Equal(t, 1, fake.created)
	assert.Equal(t, []string{"sbx-1"}, fake.deleted)
	assert.Equal(t, []string{"print('hi')\n"}, fake.scripts)
	assert.Equal(t, []string{"Bearer secret-key"}, fake.authSeen)
}

func TestDaytonaReportsExitCode(t *testing.T) {
	fake := &fakeDaytona{exitCode: 1, result: "Traceback"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	sandbox, err := NewDaytonaProvider(server.URL, "k").Create(context.Background())
	require.NoError(t, err)

	resp, err := sandbox.Run(context.Background(), "raise SystemExit(1)")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ExitCode)
	assert.Equal(t, "Traceback", resp.Output)
}

func TestDaytonaHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewDaytonaProvider(server.URL, "bad").Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestDaytonaMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewDaytonaProvider(server.URL, "k").Create(context.Background())
	assert.Error(t, err)
}

func TestNewDaytonaProviderDefaults(t *testing.T) {
	p := NewDaytonaProvider("", "k")
	assert.Equal(t, DefaultDaytonaURL, p.BaseURL)
	assert.Equal(t, []string{"python3", "-u"}, p.Interpreter)
}

func TestDaytonaStagesLargeScripts(t *testing.T) {
	fake := &fakeDaytona{result: "{\"ok\":true}"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	sandbox, err := NewDaytonaProvider(server.URL, "k").Create(context.Background())
	require.NoError(t, err)

	script := "# " + strings.Repeat("operator source ", 20000) + "\nprint('done')\n"
	resp, err := sandbox.Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, "{\"ok\":true}", resp.Output)

	require.Equal(t, []string{script}, fake.scripts)
	assert.True(t, len(fake.commands) > 2)
	for _, size := range fake.commands {
		assert.True(t, size < 128<<10, "command of %d bytes", size)
	}
}
