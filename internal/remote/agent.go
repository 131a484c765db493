package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// AgentExecutor talks to a lightweight HTTP agent running on the asset
// instead of dialing SSH directly. The original connection manager left
// this backend as an unimplemented placeholder ("for future
// implementation with agent deployment"); this fills in a minimal
// protocol so the strategy engine can drive either backend through the
// same Executor interface.
//
// Protocol, relative to an asset's agent base URL (http://address:port):
//
//	POST /v1/exec   {command, sudo, timeoutSeconds} -> {exitCode, stdout, stderr}
//	PUT  /v1/files  {path, contentB64, mode}         -> 204
//	GET  /v1/ping                                    -> 200
type AgentExecutor struct {
	httpClient *http.Client
	secrets    SecretProvider
	log        *logger.Logger
	tracer     telemetry.Tracer
	scheme     string
}

// NewAgentExecutor creates an agent-backed Executor. scheme is "http" or
// "https"; an empty value defaults to "https".
func NewAgentExecutor(secrets SecretProvider, scheme string, log *logger.Logger, tracer telemetry.Tracer) *AgentExecutor {
	if scheme == "" {
		scheme = "https"
	}
	return &AgentExecutor{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		secrets:    secrets,
		log:        log.WithComponent("agent-executor"),
		tracer:     tracer,
		scheme:     scheme,
	}
}

func (e *AgentExecutor) baseURL(asset models.Asset) string {
	return fmt.Sprintf("%s://%s:%d", e.scheme, asset.Address, asset.Port)
}

func (e *AgentExecutor) bearerToken(ctx context.Context, asset models.Asset) (string, error) {
	auth, err := e.secrets.ResolveSSHAuth(ctx, asset.CredentialRef)
	if err != nil {
		return "", fmt.Errorf("resolve agent token for %s: %w", asset.Name, err)
	}
	if auth.Password == "" {
		return "", fmt.Errorf("no agent token resolved for %s", asset.Name)
	}
	return auth.Password, nil
}

func (e *AgentExecutor) doJSON(ctx context.Context, asset models.Asset, method, path string, body any, out any) error {
	token, err := e.bearerToken(ctx, asset)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode agent request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL(asset)+path, reader)
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent request to %s failed: %w", asset.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent on %s returned %d: %s", asset.Name, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type agentExecRequest struct {
	Command        string `json:"command"`
	Sudo           bool   `json:"sudo"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type agentExecResponse struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Execute runs a command through the asset's agent.
func (e *AgentExecutor) Execute(ctx context.Context, asset models.Asset, command string, opts ExecOptions) (*CommandResult, error) {
	ctx, span := telemetry.RemoteExecSpan(ctx, e.tracer, asset.ID.String(), "agent")
	defer span.End()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var out agentExecResponse
	err := e.doJSON(ctx, asset, http.MethodPost, "/v1/exec", agentExecRequest{
		Command:        command,
		Sudo:           opts.Sudo,
		TimeoutSeconds: int(timeout.Seconds()),
	}, &out)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	span.SetOK()
	return &CommandResult{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}, nil
}

type agentFileRequest struct {
	Path       string `json:"path"`
	ContentB64 string `json:"contentB64"`
	Mode       uint32 `json:"mode"`
}

// WriteFile delivers content to the asset through the agent's file endpoint.
func (e *AgentExecutor) WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error {
	ctx, span := telemetry.RemoteExecSpan(ctx, e.tracer, asset.ID.String(), "agent")
	defer span.End()

	err := e.doJSON(ctx, asset, http.MethodPut, "/v1/files", agentFileRequest{
		Path:       remotePath,
		ContentB64: base64.StdEncoding.EncodeToString(content),
		Mode:       uint32(mode.Perm()),
	}, nil)
	if err != nil {
		span.SetError(err)
		return err
	}
	span.SetOK()
	return nil
}

// TestConnection pings the asset's agent.
func (e *AgentExecutor) TestConnection(ctx context.Context, asset models.Asset) error {
	return e.doJSON(ctx, asset, http.MethodGet, "/v1/ping", nil, nil)
}

// Close is a no-op for the agent backend: there is no pooled connection
// to tear down, each call is an independent HTTP request.
func (e *AgentExecutor) Close(asset models.Asset) error {
	return nil
}
