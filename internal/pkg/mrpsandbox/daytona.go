package mrpsandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultDaytonaURL is the public Daytona API endpoint.
const DefaultDaytonaURL = "https://app.daytona.io/api"

// DaytonaProvider creates sandboxes through the Daytona REST API.
type DaytonaProvider struct {
	BaseURL string
	APIKey  string
	// Interpreter runs the decoded script inside the sandbox.
	Interpreter []string
	// Language is the sandbox image language requested on create.
	Language string
	Client   *http.Client
}

// NewDaytonaProvider returns a provider for baseURL authenticated with apiKey.
func NewDaytonaProvider(baseURL, apiKey string) *DaytonaProvider {
	if baseURL == "" {
		baseURL = DefaultDaytonaURL
	}
	return &DaytonaProvider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Interpreter: []string{"python3", "-u"},
		Language:    "python",
		Client:      &http.Client{Timeout: 5 * time.Minute},
	}
}

type createSandboxRequest struct {
	Language string `json:"language,omitempty"`
}

type createSandboxResponse struct {
	ID string `json:"id"`
}

type executeRequest struct {
	Command string `json:"command"`
}

type executeResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

func (p *DaytonaProvider) Create(ctx context.Context) (Sandbox, error) {
	var created createSandboxResponse
	err := p.do(ctx, http.MethodPost, "/sandbox", createSandboxRequest{Language: p.Language}, &created)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("creating sandbox: response has no sandbox id")
	}
	log.Debugf("Created sandbox %s", created.ID)
	return &daytonaSandbox{provider: p, id: created.ID}, nil
}

func (p *DaytonaProvider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %.200s", method, path, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	return nil
}

type daytonaSandbox struct {
	provider *DaytonaProvider
	id       string
}

func (s *daytonaSandbox) ID() string {
	return s.id
}

// maxCommandChunk bounds the base64 text carried by one execute command,
// well under the kernel's per-argument limit (MAX_ARG_STRLEN, 128 KiB).
const maxCommandChunk = 64 << 10

// stagedScript is where scripts too large for one command are assembled.
const stagedScript = "/tmp/mrp_script.b64"

func (s *daytonaSandbox) execute(ctx context.Context, command string) (*Response, error) {
	var result executeResponse
	path := "/toolbox/" + url.PathEscape(s.id) + "/toolbox/process/execute"
	if err := s.provider.do(ctx, http.MethodPost, path, executeRequest{Command: command}, &result); err != nil {
		return nil, err
	}
	return &Response{ExitCode: result.ExitCode, Output: result.Result}, nil
}

// Run pipes the script through base64 so it needs no shell quoting. Large
// scripts are first appended chunk by chunk to a file in the sandbox.
func (s *daytonaSandbox) Run(ctx context.Context, script string) (*Response, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	interpreter := strings.Join(s.provider.Interpreter, " ")
	if len(encoded) <= maxCommandChunk {
		return s.execute(ctx, fmt.Sprintf(`sh -c "echo %s | base64 -d | %s"`, encoded, interpreter))
	}

	for offset := 0; offset < len(encoded); offset += maxCommandChunk {
		end := offset + maxCommandChunk
		if end > len(encoded) {
			end = len(encoded)
		}
		redirect := ">>"
		if offset == 0 {
			redirect = ">"
		}
		resp, err := s.execute(ctx, fmt.Sprintf(`sh -c "printf %%s %s %s %s"`, encoded[offset:end], redirect, stagedScript))
		if err != nil {
			return nil, fmt.Errorf("staging script: %w", err)
		}
		if resp.ExitCode != 0 {
			return nil, fmt.Errorf("staging script: exited with status %d: %.200s", resp.ExitCode, resp.Output)
		}
	}
	log.Debugf("Staged %d byte script in sandbox %s", len(script), s.id)
	return s.execute(ctx, fmt.Sprintf(`sh -c "base64 -d %s | %s"`, stagedScript, interpreter))
}

func (s *daytonaSandbox) Delete(ctx context.Context) error {
	log.Debugf("Deleting sandbox %s", s.id)
	return s.provider.do(ctx, http.MethodDelete, "/sandbox/"+url.PathEscape(s.id)+"?force=true", nil, nil)
}
