// Package jupyter is a small client for the Jupyter server's session REST
// surface and the per-kernel websocket execution channel. It covers exactly
// the calls nbdeck needs: list kernel specs, create/patch sessions, restart
// kernels, and execute code.
package jupyter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// Client speaks to one running Jupyter server. The HTTP capability is
// injected at construction; there is no package-level transport state.
type Client struct {
	baseURL string
	token   string
	doer    types.Doer
}

// NewClient builds a client for the connected server.
func NewClient(info types.ConnectionInfo, doer types.Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: info.BaseURL,
		token:   info.Token,
		doer:    doer,
	}
}

// BaseURL returns the server base URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// KernelNameForPath derives the kernel registration name for an interpreter
// path. Hash-based so the same interpreter always resolves to the same
// registered kernel across restarts, without re-registration.
func KernelNameForPath(interpreterPath string) string {
	sum := sha256.Sum256([]byte(interpreterPath))
	return "nbdeck-" + hex.EncodeToString(sum[:])[:12]
}

// kernelspecsResponse mirrors GET /api/kernelspecs.
type kernelspecsResponse struct {
	Default     string `json:"default"`
	KernelSpecs map[string]struct {
		Name string `json:"name"`
		Spec struct {
			Argv        []string `json:"argv"`
			DisplayName string   `json:"display_name"`
			Language    string   `json:"language"`
		} `json:"spec"`
	} `json:"kernelspecs"`
}

// sessionResponse mirrors the session resource shape.
type sessionResponse struct {
	ID     string `json:"id"`
	Kernel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"kernel"`
}

// ListKernelSpecs fetches the kernel catalog. A reachable server with an
// empty catalog is a hard failure: it cannot run anything.
func (c *Client) ListKernelSpecs(ctx context.Context) (map[string]types.KernelSpec, error) {
	body, err := c.call(ctx, http.MethodGet, "/api/kernelspecs", nil)
	if err != nil {
		return nil, fmt.Errorf("listing kernel specs: %w", err)
	}

	var resp kernelspecsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing kernelspecs response: %w", err)
	}

	if len(resp.KernelSpecs) == 0 {
		return nil, types.ErrNoKernelsAvailable
	}

	specs := make(map[string]types.KernelSpec, len(resp.KernelSpecs))
	for name, entry := range resp.KernelSpecs {
		specs[name] = types.KernelSpec{
			Name:        name,
			DisplayName: entry.Spec.DisplayName,
			Language:    entry.Spec.Language,
			Argv:        entry.Spec.Argv,
		}
	}
	logging.Protocol("server reports %d kernel specs", len(specs))
	return specs, nil
}

// CreateSession creates a kernel session for the notebook path.
func (c *Client) CreateSession(ctx context.Context, notebookPath, name, kernelName string) (types.SessionHandle, error) {
	payload := map[string]interface{}{
		"path": notebookPath,
		"name": name,
		"type": "notebook",
		"kernel": map[string]interface{}{
			"name": kernelName,
		},
	}

	body, err := c.call(ctx, http.MethodPost, "/api/sessions", payload)
	if err != nil {
		return types.SessionHandle{}, fmt.Errorf("%w: %v", types.ErrSessionCreateFailed, err)
	}

	handle, err := parseSession(body)
	if err != nil {
		return types.SessionHandle{}, fmt.Errorf("%w: %v", types.ErrSessionCreateFailed, err)
	}
	logging.Protocol("session %s created on kernel %s", handle.ID, handle.KernelName)
	return handle, nil
}

// SwitchKernel patches the session onto a different kernel. The caller owns
// the handle swap: the old handle must be disposed only after the returned
// handle is live, and restored as current if this call fails.
func (c *Client) SwitchKernel(ctx context.Context, sessionID, kernelName string) (types.SessionHandle, error) {
	payload := map[string]interface{}{
		"kernel": map[string]interface{}{
			"name": kernelName,
		},
	}

	body, err := c.call(ctx, http.MethodPatch, "/api/sessions/"+sessionID, payload)
	if err != nil {
		return types.SessionHandle{}, fmt.Errorf("%w: %v", types.ErrSwitchKernelFailed, err)
	}

	handle, err := parseSession(body)
	if err != nil {
		return types.SessionHandle{}, fmt.Errorf("%w: %v", types.ErrSwitchKernelFailed, err)
	}
	logging.Protocol("session %s switched to kernel %s", handle.ID, handle.KernelName)
	return handle, nil
}

// RestartKernel restarts the kernel in place. It does not clear accumulated
// cell outputs; that bookkeeping belongs to the orchestrator.
func (c *Client) RestartKernel(ctx context.Context, kernelID string) error {
	if _, err := c.call(ctx, http.MethodPost, "/api/kernels/"+kernelID+"/restart", map[string]interface{}{}); err != nil {
		return fmt.Errorf("%w: %v", types.ErrRestartFailed, err)
	}
	logging.Protocol("kernel %s restarted", kernelID)
	return nil
}

// DeleteSession disposes a session resource.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.call(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

func parseSession(body []byte) (types.SessionHandle, error) {
	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.SessionHandle{}, fmt.Errorf("parsing session response: %w", err)
	}
	return types.SessionHandle{
		ID:         resp.ID,
		KernelID:   resp.Kernel.ID,
		KernelName: resp.Kernel.Name,
	}, nil
}

// call issues one authenticated request. Single attempt, no retry; a
// non-success status reads the body text and surfaces it in the error.
func (c *Client) call(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.ProtocolDebug("%s %s", method, path)
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}
