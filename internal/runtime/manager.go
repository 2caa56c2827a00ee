// Package runtime orchestrates the kernel lifecycle for one open notebook:
// interpreter resolution, server supervision, session management, and cell
// execution. One Manager serves one document.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"nbdeck/internal/config"
	"nbdeck/internal/jupyter"
	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// EnvironmentResolver picks the interpreter a document should run on.
type EnvironmentResolver interface {
	Resolve(ctx context.Context, savedPath, documentDir string) (*types.PythonEnvironment, error)
}

// ServerSupervisor owns the kernel server process.
type ServerSupervisor interface {
	Start(ctx context.Context, env *types.PythonEnvironment) (types.ConnectionInfo, error)
	Stop() error
}

// SessionAPI is the slice of the server's REST surface the manager uses.
type SessionAPI interface {
	ListKernelSpecs(ctx context.Context) (map[string]types.KernelSpec, error)
	CreateSession(ctx context.Context, notebookPath, name, kernelName string) (types.SessionHandle, error)
	SwitchKernel(ctx context.Context, sessionID, kernelName string) (types.SessionHandle, error)
	RestartKernel(ctx context.Context, kernelID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// KernelConnection is a live execution channel to one kernel.
type KernelConnection interface {
	Execute(ctx context.Context, code string, storeHistory bool) ([]types.NotebookOutput, error)
	Close() error
}

// KernelRegistrar installs kernelspecs for resolved interpreters.
type KernelRegistrar interface {
	EnsureKernel(ctx context.Context, interpreterPath, name, displayName string) error
}

// Deps bundles the collaborators a Manager needs. Zero fields for NewClient
// and Connect get production defaults; everything else is required.
type Deps struct {
	Store      types.InterpreterStore
	Resolver   EnvironmentResolver
	Supervisor ServerSupervisor
	Registrar  KernelRegistrar
	Notifier   types.Notifier

	NewClient func(info types.ConnectionInfo) SessionAPI
	Connect   func(ctx context.Context, info types.ConnectionInfo, handle types.SessionHandle) (KernelConnection, error)
}

// Manager implements types.KernelRuntime for a single document.
type Manager struct {
	cfg  *config.Config
	doc  types.DocumentModel
	deps Deps

	mu        sync.Mutex
	busy      bool
	disposed  bool
	info      types.ConnectionInfo
	client    SessionAPI
	session   types.SessionHandle
	channel   KernelConnection
	specs     map[string]types.KernelSpec
	execCount int
	records   []types.RunRecord
	onChange  []func(kernelName string)
}

// NewManager wires a Manager for doc. Defaults are filled for the client and
// channel factories so production callers only supply the host integrations.
func NewManager(cfg *config.Config, doc types.DocumentModel, deps Deps) *Manager {
	if deps.NewClient == nil {
		deps.NewClient = func(info types.ConnectionInfo) SessionAPI {
			return jupyter.NewClient(info, &http.Client{Timeout: 30 * time.Second})
		}
	}
	if deps.Connect == nil {
		deps.Connect = func(ctx context.Context, info types.ConnectionInfo, handle types.SessionHandle) (KernelConnection, error) {
			client := jupyter.NewClient(info, &http.Client{Timeout: 30 * time.Second})
			return client.ConnectKernel(ctx, handle)
		}
	}
	return &Manager{cfg: cfg, doc: doc, deps: deps}
}

// Initialize resolves an interpreter, boots the kernel server, and opens the
// initial session. Every failure is reported through the notifier; the
// document stays open either way.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.acquire("initialization") {
		return types.ErrBusy
	}
	defer m.release()

	timer := logging.StartTimer(logging.CategoryBoot, "initialize")
	defer timer.Stop()

	// A re-initialize replaces the session wholesale; tear down whatever
	// the previous run left so the websocket and server-side session do
	// not leak behind the new ones.
	m.mu.Lock()
	oldChannel, oldClient, oldSession := m.channel, m.client, m.session
	m.channel, m.client, m.session = nil, nil, types.SessionHandle{}
	m.mu.Unlock()
	if oldChannel != nil {
		oldChannel.Close()
	}
	if oldClient != nil && oldSession.ID != "" {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := oldClient.DeleteSession(dctx, oldSession.ID); err != nil {
			logging.Boot("previous session delete failed: %v", err)
		}
		cancel()
	}

	docPath := m.doc.Path()

	saved, _, err := m.deps.Store.InterpreterForDocument(docPath)
	if err != nil {
		logging.Boot("interpreter lookup failed, resolving fresh: %v", err)
	}

	env, err := m.deps.Resolver.Resolve(ctx, saved, filepath.Dir(docPath))
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("No usable Python interpreter found: %v", err))
		return err
	}
	logging.Boot("resolved interpreter %s for %s", env.Path, docPath)

	if err := m.deps.Store.SetInterpreterForDocument(docPath, env.Path); err != nil {
		logging.Boot("persisting interpreter choice failed: %v", err)
	}

	kernelName := jupyter.KernelNameForPath(env.Path)
	if m.deps.Registrar != nil {
		if err := m.deps.Registrar.EnsureKernel(ctx, env.Path, kernelName, displayNameFor(env.Path)); err != nil {
			logging.Boot("kernelspec install failed, relying on existing specs: %v", err)
		}
	}

	info, err := m.deps.Supervisor.Start(ctx, env)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Kernel server failed to start: %v", err))
		return err
	}

	client := m.deps.NewClient(info)

	specs, err := client.ListKernelSpecs(ctx)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Kernel catalog unavailable: %v", err))
		m.deps.Supervisor.Stop()
		return err
	}

	chosen := chooseKernel(specs, kernelName, env.Path)
	session, err := client.CreateSession(ctx, docPath, filepath.Base(docPath), chosen)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Could not create kernel session: %v", err))
		m.deps.Supervisor.Stop()
		return err
	}

	channel, err := m.deps.Connect(ctx, info, session)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Could not connect to kernel: %v", err))
		client.DeleteSession(ctx, session.ID)
		m.deps.Supervisor.Stop()
		return err
	}

	m.mu.Lock()
	m.info = info
	m.client = client
	m.session = session
	m.channel = channel
	m.specs = specs
	m.execCount = 0
	m.mu.Unlock()

	m.persistKernelName(session.KernelName)
	logging.Boot("session %s ready on kernel %s", session.ID, session.KernelName)
	m.fireKernelChanged(session.KernelName)
	return nil
}

// ExecuteCell runs the code cell at index and writes its outputs back into
// the document.
func (m *Manager) ExecuteCell(ctx context.Context, index int) ([]types.NotebookOutput, error) {
	if !m.acquire("cell execution") {
		return nil, types.ErrBusy
	}
	defer m.release()
	return m.executeCellLocked(ctx, index)
}

// RunAll executes every runnable cell in order, halting at the first cell
// that produces an error output. It returns the index of the halting cell,
// or -1 when the whole deck ran clean.
func (m *Manager) RunAll(ctx context.Context) (int, error) {
	if !m.acquire("run all") {
		return -1, types.ErrBusy
	}
	defer m.release()

	timer := logging.StartTimer(logging.CategoryExecute, "run all")
	defer timer.Stop()

	for i := 0; i < m.doc.CellCount(); i++ {
		cell, ok := m.doc.CellAt(i)
		if !ok || !cell.IsRunnable() {
			continue
		}
		outputs, err := m.executeCellLocked(ctx, i)
		if err != nil {
			return i, err
		}
		if types.HasErrorOutput(outputs) {
			logging.Execute("run all halted at cell %d", i)
			m.deps.Notifier.Warn(fmt.Sprintf("Run stopped at cell %d: it raised an error", i+1))
			return i, nil
		}
	}
	return -1, nil
}

// RestartKernel restarts the active kernel in place and resets execution
// numbering.
func (m *Manager) RestartKernel(ctx context.Context) error {
	if !m.acquire("kernel restart") {
		return types.ErrBusy
	}
	defer m.release()

	m.mu.Lock()
	client, session := m.client, m.session
	m.mu.Unlock()
	if client == nil {
		m.deps.Notifier.Warn("No active kernel to restart")
		return types.ErrNoActiveSession
	}

	if err := client.RestartKernel(ctx, session.KernelID); err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Kernel restart failed: %v", err))
		return fmt.Errorf("%w: %v", types.ErrRestartFailed, err)
	}

	m.mu.Lock()
	m.execCount = 0
	m.mu.Unlock()
	m.doc.ResetExecutionOrder()
	logging.Execute("kernel %s restarted", session.KernelID)
	m.deps.Notifier.Info("Kernel restarted")
	return nil
}

// SwitchKernelSession moves the session to the named kernel. On any failure
// the previous kernel stays active.
func (m *Manager) SwitchKernelSession(ctx context.Context, kernelName string) error {
	if !m.acquire("kernel switch") {
		return types.ErrBusy
	}
	defer m.release()

	m.mu.Lock()
	client, session, info := m.client, m.session, m.info
	spec, known := m.specs[kernelName]
	m.mu.Unlock()

	if client == nil {
		return types.ErrNoActiveSession
	}
	if !known {
		return fmt.Errorf("%w: kernel %q is not in the catalog", types.ErrSwitchKernelFailed, kernelName)
	}
	if kernelName == session.KernelName {
		return nil
	}

	newHandle, err := client.SwitchKernel(ctx, session.ID, kernelName)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Switching to kernel %s failed; staying on %s", kernelName, session.KernelName))
		return fmt.Errorf("%w: %v", types.ErrSwitchKernelFailed, err)
	}

	// Connect the replacement channel before discarding the old one so a
	// dial failure still leaves an executable (if stale) channel behind.
	newChannel, err := m.deps.Connect(ctx, info, newHandle)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Connecting to kernel %s failed: %v", kernelName, err))
		return fmt.Errorf("%w: %v", types.ErrSwitchKernelFailed, err)
	}

	m.mu.Lock()
	old := m.channel
	m.channel = newChannel
	m.session = newHandle
	m.execCount = 0
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	m.doc.ResetExecutionOrder()

	if path := spec.InterpreterPath(); path != "" {
		if err := m.deps.Store.SetInterpreterForDocument(m.doc.Path(), path); err != nil {
			logging.Execute("persisting switched interpreter failed: %v", err)
		}
	}
	m.persistKernelName(kernelName)

	logging.Execute("session %s switched to kernel %s", newHandle.ID, kernelName)
	m.fireKernelChanged(kernelName)
	return nil
}

// GetAvailableKernelSpecs returns a copy of the catalog fetched at startup.
func (m *Manager) GetAvailableKernelSpecs() map[string]types.KernelSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.KernelSpec, len(m.specs))
	for name, spec := range m.specs {
		out[name] = spec
	}
	return out
}

// ActiveKernelName returns the active kernel's catalog name, or "".
func (m *Manager) ActiveKernelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.KernelName
}

// ActiveKernelDisplayName returns the active kernel's display name, falling
// back to the catalog name.
func (m *Manager) ActiveKernelDisplayName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec, ok := m.specs[m.session.KernelName]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return m.session.KernelName
}

// OnKernelChanged registers fn to fire on every kernel identity change.
func (m *Manager) OnKernelChanged(fn func(kernelName string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// RunRecords returns the timing log of completed executions, oldest first.
func (m *Manager) RunRecords() []types.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RunRecord(nil), m.records...)
}

// Dispose tears down the channel, session, and server process. Idempotent.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	channel, client, session := m.channel, m.client, m.session
	m.channel = nil
	m.client = nil
	m.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if client != nil && session.ID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.DeleteSession(ctx, session.ID); err != nil {
			logging.Boot("session delete during dispose failed: %v", err)
		}
		cancel()
	}
	err := m.deps.Supervisor.Stop()
	logging.Boot("runtime disposed for %s", m.doc.Path())
	return err
}

// executeCellLocked does the work of ExecuteCell. Caller holds the busy flag.
func (m *Manager) executeCellLocked(ctx context.Context, index int) ([]types.NotebookOutput, error) {
	m.mu.Lock()
	channel := m.channel
	m.mu.Unlock()
	if channel == nil {
		m.deps.Notifier.Warn("No kernel is running; configure an interpreter first")
		return nil, types.ErrNoActiveSession
	}

	cell, ok := m.doc.CellAt(index)
	if !ok {
		return nil, fmt.Errorf("cell %d out of range", index)
	}
	if !cell.IsRunnable() {
		return nil, nil
	}

	execCtx := ctx
	if m.cfg.Execution.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.cfg.Execution.Timeout)
		defer cancel()
	}

	start := time.Now()
	outputs, err := channel.Execute(execCtx, cell.Source, m.cfg.Execution.StoreHistory)
	elapsed := time.Since(start)
	if err != nil {
		m.deps.Notifier.Error(fmt.Sprintf("Cell %d execution failed: %v", index+1, err))
		m.record(index, elapsed, false)
		return nil, err
	}

	m.mu.Lock()
	m.execCount++
	count := m.execCount
	m.mu.Unlock()
	m.doc.UpdateCellOutputs(index, outputs, count)
	m.record(index, elapsed, !types.HasErrorOutput(outputs))

	logging.ExecuteDebug("cell %d ran in %s (%d outputs)", index, elapsed, len(outputs))
	return outputs, nil
}

// kernelNameStore is the optional store capability for remembering which
// kernel a document last ran on.
type kernelNameStore interface {
	SetKernelForDocument(documentID, kernelName string) error
}

func (m *Manager) persistKernelName(kernelName string) {
	ks, ok := m.deps.Store.(kernelNameStore)
	if !ok {
		return
	}
	if err := ks.SetKernelForDocument(m.doc.Path(), kernelName); err != nil {
		logging.Boot("persisting kernel choice failed: %v", err)
	}
}

func (m *Manager) record(index int, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, types.RunRecord{
		CellIndex: index,
		Duration:  d,
		Success:   success,
		When:      time.Now(),
	})
}

// acquire takes the single busy flag. A denied acquisition is reported to
// the user so a double-click never looks like a dropped request.
func (m *Manager) acquire(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		m.deps.Notifier.Info(fmt.Sprintf("Cannot start %s: another operation is in progress", op))
		return false
	}
	m.busy = true
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *Manager) fireKernelChanged(kernelName string) {
	m.mu.Lock()
	callbacks := append(([]func(string))(nil), m.onChange...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(kernelName)
	}
}

// displayNameFor labels the kernel with the environment directory holding
// the interpreter, which is what users recognize a venv by.
func displayNameFor(interpreterPath string) string {
	envDir := filepath.Base(filepath.Dir(filepath.Dir(interpreterPath)))
	if envDir == "" || envDir == "." || envDir == "/" {
		return "Python (nbdeck)"
	}
	return fmt.Sprintf("Python (%s)", envDir)
}

// chooseKernel picks the session's kernel: the deterministic per-interpreter
// name when the catalog has it, then any spec wrapping the resolved
// interpreter, then python3, then the lexically first entry.
func chooseKernel(specs map[string]types.KernelSpec, preferred, interpreterPath string) string {
	if _, ok := specs[preferred]; ok {
		return preferred
	}
	for name, spec := range specs {
		if spec.InterpreterPath() == interpreterPath {
			return name
		}
	}
	if _, ok := specs["python3"]; ok {
		return "python3"
	}
	first := ""
	for name := range specs {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

var _ types.KernelRuntime = (*Manager)(nil)
