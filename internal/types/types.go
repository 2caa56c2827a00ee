// Package types provides shared type definitions used across nbdeck packages.
// This package exists to break import cycles between the runtime, protocol,
// and document layers. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// KERNEL CATALOG
// =============================================================================

// KernelSpec describes one launchable kernel known to the server.
// Argv[0] is the interpreter the kernel wraps.
type KernelSpec struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Language    string   `json:"language"`
	Argv        []string `json:"argv"`
}

// InterpreterPath returns the interpreter behind the kernel, or "" when the
// spec carries no argv.
func (k KernelSpec) InterpreterPath() string {
	if len(k.Argv) == 0 {
		return ""
	}
	return k.Argv[0]
}

// SessionHandle represents one active kernel session bound to one document.
// Exactly one handle is alive per document at a time; a kernel switch
// replaces the handle, it never fans out.
type SessionHandle struct {
	ID         string
	KernelID   string
	KernelName string
}

// ConnectionInfo is what the process supervisor hands back once the kernel
// server answers its health endpoint.
type ConnectionInfo struct {
	BaseURL string
	Token   string
}

// =============================================================================
// CELL OUTPUTS
// =============================================================================

// OutputType tags the variants of NotebookOutput.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputExecuteResult OutputType = "execute_result"
	OutputDisplayData   OutputType = "display_data"
	OutputError         OutputType = "error"
)

// MIMEBundle is a MIME-type keyed data payload, as both the wire protocol
// and the ipynb format represent rich output.
type MIMEBundle map[string]interface{}

// NotebookOutput is the tagged union over the four output kinds a cell can
// accumulate during one execution. Only the fields for the tagged kind are
// populated.
type NotebookOutput struct {
	Type OutputType

	// OutputStream
	StreamName string // "stdout" or "stderr"
	Text       string

	// OutputExecuteResult / OutputDisplayData
	Data           MIMEBundle
	ExecutionCount int

	// OutputError
	ErrorName  string
	ErrorValue string
	Traceback  []string
}

// IsError reports whether the output is the error variant.
func (o NotebookOutput) IsError() bool {
	return o.Type == OutputError
}

// PlainText returns the best plain-text rendition of the output.
func (o NotebookOutput) PlainText() string {
	switch o.Type {
	case OutputStream:
		return o.Text
	case OutputExecuteResult, OutputDisplayData:
		// Saved notebooks store text/plain as a list of lines; live kernel
		// messages send a single string. Accept both.
		switch v := o.Data["text/plain"].(type) {
		case string:
			return v
		case []interface{}:
			var sb strings.Builder
			for _, line := range v {
				if s, ok := line.(string); ok {
					sb.WriteString(s)
				}
			}
			return sb.String()
		}
		return ""
	case OutputError:
		return o.ErrorName + ": " + o.ErrorValue
	}
	return ""
}

// HasErrorOutput reports whether any output in the list is an error.
func HasErrorOutput(outputs []NotebookOutput) bool {
	for _, o := range outputs {
		if o.IsError() {
			return true
		}
	}
	return false
}

// =============================================================================
// CELLS
// =============================================================================

// CellType distinguishes code cells from markdown cells.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
)

// Cell is one notebook cell as the document model exposes it to the
// execution layer.
type Cell struct {
	ID             string
	Type           CellType
	Source         string
	Outputs        []NotebookOutput
	ExecutionCount int
}

// IsRunnable reports whether the cell is a non-empty code cell.
func (c Cell) IsRunnable() bool {
	return c.Type == CellCode && strings.TrimSpace(c.Source) != ""
}

// ExecutionRequest is one code submission. Transient; it exists only for the
// duration of a single execute call.
type ExecutionRequest struct {
	Code         string
	StoreHistory bool
}

// RunRecord captures the timing and success metadata the orchestrator keeps
// for each completed cell run.
type RunRecord struct {
	CellIndex int
	Duration  time.Duration
	Success   bool
	When      time.Time
}
