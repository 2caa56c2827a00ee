// Package server spawns and supervises the background Jupyter kernel server
// process: start with a fixed endpoint, poll the health endpoint until ready
// or timeout, and graceful-then-forceful shutdown.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"nbdeck/internal/config"
	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StatePolling      State = "polling"
	StateReady        State = "ready"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// missingModuleMarker is what jupyter_server prints to stderr when the
// interpreter cannot import it. Matching it lets startup fail in one poll
// interval instead of waiting out the full timeout budget.
const missingModuleMarker = "No module named"

// Supervisor owns at most one live kernel server process. Starting a new
// one stops any existing one first.
type Supervisor struct {
	mu  sync.Mutex
	cfg config.ServerConfig

	// serverModule is the module spawned via `<python> -m`. Overridable in
	// tests to supervise a stub instead of a real Jupyter server.
	serverModule string

	httpClient types.Doer

	state State
	cmd   *exec.Cmd

	// exited closes when the current process's Wait returns.
	exited chan struct{}
	// missingDep receives the offending stderr line, once, if the marker
	// is seen.
	missingDep chan string
}

// New creates a supervisor for the given endpoint configuration.
func New(cfg config.ServerConfig, client types.Doer) *Supervisor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Supervisor{
		cfg:          cfg,
		serverModule: "jupyter_server",
		httpClient:   client,
		state:        StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the kernel server with the interpreter's environment and
// polls the health endpoint until the server answers. On success the
// supervisor is Ready and the returned ConnectionInfo is valid until Stop.
func (s *Supervisor) Start(ctx context.Context, env *types.PythonEnvironment) (types.ConnectionInfo, error) {
	// At most one live supervised process.
	if err := s.Stop(); err != nil {
		return types.ConnectionInfo{}, fmt.Errorf("stopping previous server: %w", err)
	}

	s.mu.Lock()
	s.state = StateStarting
	s.exited = make(chan struct{})
	s.missingDep = make(chan string, 1)

	cmd := exec.Command(env.Path,
		"-m", s.serverModule,
		"--no-browser",
		fmt.Sprintf("--port=%d", s.cfg.Port),
		fmt.Sprintf("--ServerApp.token=%s", s.cfg.Token),
		"--ServerApp.password=",
	)
	cmd.Env = mergeEnv(os.Environ(), env.Env)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return types.ConnectionInfo{}, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	logging.Server("starting kernel server: %s -m %s --port=%d", env.Path, s.serverModule, s.cfg.Port)
	if err := cmd.Start(); err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return types.ConnectionInfo{}, fmt.Errorf("failed to start kernel server: %w", err)
	}

	s.cmd = cmd
	exited := s.exited
	missingDep := s.missingDep
	s.state = StatePolling
	s.mu.Unlock()

	go scanStderr(stderr, missingDep)
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	info, err := s.pollUntilReady(ctx, missingDep)
	if err != nil {
		s.kill(exited)
		s.setState(StateFailed)
		return types.ConnectionInfo{}, err
	}

	s.setState(StateReady)
	logging.Server("kernel server ready at %s", info.BaseURL)
	return info, nil
}

// pollUntilReady issues an authenticated GET to /api/status every poll
// interval until it answers with HTTP success, the missing-module marker
// is seen, the attempt budget runs out, or the context is canceled.
// Connection refused while the server boots is expected and ignored.
func (s *Supervisor) pollUntilReady(ctx context.Context, missingDep <-chan string) (types.ConnectionInfo, error) {
	info := types.ConnectionInfo{BaseURL: s.cfg.BaseURL(), Token: s.cfg.Token}
	statusURL := info.BaseURL + "/api/status"

	for attempt := 1; attempt <= s.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return types.ConnectionInfo{}, ctx.Err()
		case line := <-missingDep:
			logging.ServerWarn("kernel server stderr: %s", line)
			return types.ConnectionInfo{}, fmt.Errorf("%w: %s (install jupyter_server and ipykernel into the interpreter)",
				types.ErrMissingDependency, strings.TrimSpace(line))
		case <-time.After(s.cfg.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return types.ConnectionInfo{}, fmt.Errorf("building health request: %w", err)
		}
		req.Header.Set("Authorization", "token "+info.Token)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			// Not up yet. Connection refused here is the normal case.
			logging.ServerDebug("health poll %d/%d: %v", attempt, s.cfg.PollAttempts, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logging.ServerDebug("health poll %d/%d: ready (%d)", attempt, s.cfg.PollAttempts, resp.StatusCode)
			return info, nil
		}
		logging.ServerDebug("health poll %d/%d: status %d", attempt, s.cfg.PollAttempts, resp.StatusCode)
	}

	return types.ConnectionInfo{}, fmt.Errorf("%w after %d attempts (%s)",
		types.ErrStartupTimeout, s.cfg.PollAttempts,
		time.Duration(s.cfg.PollAttempts)*s.cfg.PollInterval)
}

// Stop shuts the process down: interrupt first, then kill when the grace
// period expires. Resolves once the process has exited. Idempotent; calling
// it with no process is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	if cmd == nil || cmd.Process == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.cmd = nil
	s.state = StateShuttingDown
	s.mu.Unlock()

	logging.Server("stopping kernel server (pid %d)", cmd.Process.Pid)

	// The process may already be gone; the signal error is irrelevant
	// because the exit watcher settles either way.
	_ = cmd.Process.Signal(os.Interrupt)

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	select {
	case <-exited:
		grace.Stop()
		logging.ServerDebug("kernel server exited within grace period")
	case <-grace.C:
		logging.ServerWarn("kernel server did not exit in %s, killing", s.cfg.ShutdownGrace)
		_ = cmd.Process.Kill()
		<-exited
	}

	s.setState(StateStopped)
	logging.Server("kernel server stopped")
	return nil
}

// kill force-terminates the current process and waits for its exit.
// Used on startup failure paths where no grace period applies.
func (s *Supervisor) kill(exited chan struct{}) {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if exited != nil {
		<-exited
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// scanStderr forwards the first missing-module line, then drains the pipe
// so the child never blocks on a full stderr buffer.
func scanStderr(r io.Reader, missingDep chan<- string) {
	scanner := bufio.NewScanner(r)
	reported := false
	for scanner.Scan() {
		line := scanner.Text()
		logging.ServerDebug("[stderr] %s", line)
		if !reported && strings.Contains(line, missingModuleMarker) {
			reported = true
			select {
			case missingDep <- line:
			default:
			}
		}
	}
}

// mergeEnv overlays the resolved interpreter environment on the host
// environment. The host supplies inherited state (HOME, TMPDIR); resolved
// variables win on name collision so venv activation state sticks.
func mergeEnv(host []string, resolved map[string]string) []string {
	if len(resolved) == 0 {
		return host
	}

	merged := make(map[string]string, len(host)+len(resolved))
	order := make([]string, 0, len(host)+len(resolved))
	for _, kv := range host {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	extra := make([]string, 0, len(resolved))
	for k, v := range resolved {
		if _, seen := merged[k]; !seen {
			extra = append(extra, k)
		}
		merged[k] = v
	}
	sort.Strings(extra)
	order = append(order, extra...)

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}
