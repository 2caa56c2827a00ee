package types

import (
	"context"
	"net/http"
)

// KernelRuntime is the full kernel-lifecycle contract the editor integration
// calls into. It is deliberately complete so callers never downcast to a
// concrete implementation for kernel-specific methods.
type KernelRuntime interface {
	// Initialize resolves an interpreter, starts the kernel server, and
	// creates the initial session. A failed Initialize leaves the document
	// open in an unconfigured state; it must not crash the editor.
	Initialize(ctx context.Context) error

	// ExecuteCell runs the code cell at index and returns its new outputs.
	ExecuteCell(ctx context.Context, index int) ([]NotebookOutput, error)

	// RunAll executes code cells in source order, stopping at the first
	// failing cell. It returns the index of the halting cell, or -1 when
	// every cell succeeded.
	RunAll(ctx context.Context) (int, error)

	// RestartKernel restarts the active kernel and resets execution
	// numbering to start from 1.
	RestartKernel(ctx context.Context) error

	// SwitchKernelSession replaces the active session with one on the named
	// kernel. On failure the previous session stays current.
	SwitchKernelSession(ctx context.Context, kernelName string) error

	// GetAvailableKernelSpecs returns the catalog fetched at server start.
	GetAvailableKernelSpecs() map[string]KernelSpec

	ActiveKernelName() string
	ActiveKernelDisplayName() string

	// OnKernelChanged registers a callback fired whenever the active kernel
	// identity changes (initialize, switch, restart with a new kernel).
	OnKernelChanged(fn func(kernelName string))

	// Dispose tears down the session and the supervised server process.
	// Idempotent.
	Dispose() error
}

// PythonEnvironment is one discovered interpreter plus the environment
// variables its runtime needs (venv activation state, PYTHONHOME, PATH).
type PythonEnvironment struct {
	Path string
	Env  map[string]string
}

// EnvironmentLocator is the host's interpreter-discovery capability.
type EnvironmentLocator interface {
	// ResolveEnvironment resolves a concrete interpreter path into its full
	// environment, or nil when the path is not a known interpreter.
	ResolveEnvironment(ctx context.Context, path string) (*PythonEnvironment, error)

	// ActiveEnvironmentPath returns the interpreter currently active for
	// the document's directory context, or "" when none is active.
	ActiveEnvironmentPath(ctx context.Context, documentDir string) (string, error)

	// KnownEnvironments enumerates every environment the host knows about.
	KnownEnvironments(ctx context.Context) ([]PythonEnvironment, error)
}

// DocumentModel is the surface the execution layer is allowed to touch.
// All mutation goes through setters; the runtime never reaches into the
// document's internals.
type DocumentModel interface {
	Path() string
	CellCount() int
	CellAt(index int) (Cell, bool)

	// UpdateCellOutputs replaces the cell's output list and execution
	// counter when an execution completes.
	UpdateCellOutputs(index int, outputs []NotebookOutput, executionCount int)

	// ResetExecutionOrder clears every cell's execution counter so the next
	// run numbers from 1 again.
	ResetExecutionOrder()
}

// Notifier delivers human-readable notices to the user. Every failure path
// in the runtime ends in one of these; nothing is silently swallowed.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Doer is the HTTP-call capability the protocol client receives at
// construction instead of relying on ambient global transport state.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// InterpreterStore persists the chosen interpreter per document so the
// choice survives editor restarts within the same workspace.
type InterpreterStore interface {
	InterpreterForDocument(documentID string) (string, bool, error)
	SetInterpreterForDocument(documentID, interpreterPath string) error
}
