// Package notebook implements the slide-deck document model: an ipynb
// codec, an editable cell list with an explicit edit-command history, and a
// watcher for external changes to the backing file.
package notebook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"nbdeck/internal/types"
)

// nbformat 4 wire shapes. Source and text fields may be a string or a list
// of lines; the codec accepts both and always writes lists.

type rawNotebook struct {
	Cells         []rawCell              `json:"cells"`
	Metadata      map[string]interface{} `json:"metadata"`
	NBFormat      int                    `json:"nbformat"`
	NBFormatMinor int                    `json:"nbformat_minor"`
}

type rawCell struct {
	ID             string                 `json:"id,omitempty"`
	CellType       string                 `json:"cell_type"`
	Source         multilineString        `json:"source"`
	Metadata       map[string]interface{} `json:"metadata"`
	Outputs        []rawOutput            `json:"outputs,omitempty"`
	ExecutionCount *int                   `json:"execution_count,omitempty"`
}

type rawOutput struct {
	OutputType     string           `json:"output_type"`
	Name           string           `json:"name,omitempty"`
	Text           multilineString  `json:"text,omitempty"`
	Data           types.MIMEBundle `json:"data,omitempty"`
	ExecutionCount *int             `json:"execution_count,omitempty"`
	EName          string           `json:"ename,omitempty"`
	EValue         string           `json:"evalue,omitempty"`
	Traceback      []string         `json:"traceback,omitempty"`
}

// multilineString accepts both "line" and ["line\n", "line"] and marshals
// as a line list, which is how Jupyter itself writes files.
type multilineString string

func (m *multilineString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multilineString(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("source is neither string nor list: %w", err)
	}
	*m = multilineString(strings.Join(lines, ""))
	return nil
}

func (m multilineString) MarshalJSON() ([]byte, error) {
	if m == "" {
		return json.Marshal([]string{})
	}
	lines := strings.SplitAfter(string(m), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return json.Marshal(lines)
}

// Decode parses nbformat 4 JSON into a Document.
func Decode(data []byte, path string) (*Document, error) {
	var raw rawNotebook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing notebook: %w", err)
	}
	if raw.NBFormat != 0 && raw.NBFormat != 4 {
		return nil, fmt.Errorf("unsupported nbformat %d (only 4 is supported)", raw.NBFormat)
	}

	doc := &Document{
		path:     path,
		metadata: raw.Metadata,
	}
	for _, rc := range raw.Cells {
		cell := types.Cell{
			ID:     rc.ID,
			Type:   types.CellType(rc.CellType),
			Source: string(rc.Source),
		}
		if cell.ID == "" {
			cell.ID = uuid.NewString()
		}
		if rc.ExecutionCount != nil {
			cell.ExecutionCount = *rc.ExecutionCount
		}
		for _, ro := range rc.Outputs {
			cell.Outputs = append(cell.Outputs, decodeOutput(ro))
		}
		doc.cells = append(doc.cells, cell)
	}
	return doc, nil
}

// Load reads and parses the notebook file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notebook: %w", err)
	}
	return Decode(data, path)
}

// Encode serializes the document to nbformat 4 JSON.
func (d *Document) Encode() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	raw := rawNotebook{
		Metadata:      d.metadata,
		NBFormat:      4,
		NBFormatMinor: 5,
	}
	if raw.Metadata == nil {
		raw.Metadata = map[string]interface{}{}
	}
	raw.Cells = make([]rawCell, 0, len(d.cells))
	for _, cell := range d.cells {
		rc := rawCell{
			ID:       cell.ID,
			CellType: string(cell.Type),
			Source:   multilineString(cell.Source),
			Metadata: map[string]interface{}{},
		}
		if cell.Type == types.CellCode {
			rc.Outputs = make([]rawOutput, 0, len(cell.Outputs))
			for _, out := range cell.Outputs {
				rc.Outputs = append(rc.Outputs, encodeOutput(out))
			}
			if cell.ExecutionCount > 0 {
				count := cell.ExecutionCount
				rc.ExecutionCount = &count
			}
		}
		raw.Cells = append(raw.Cells, rc)
	}
	return json.MarshalIndent(raw, "", " ")
}

// Save writes the document back to its path and clears the dirty flag.
func (d *Document) Save() error {
	data, err := d.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.Path(), data, 0644); err != nil {
		return fmt.Errorf("writing notebook: %w", err)
	}
	d.mu.Lock()
	d.dirty = false
	d.mu.Unlock()
	return nil
}

func decodeOutput(ro rawOutput) types.NotebookOutput {
	switch types.OutputType(ro.OutputType) {
	case types.OutputStream:
		return types.NotebookOutput{
			Type:       types.OutputStream,
			StreamName: ro.Name,
			Text:       string(ro.Text),
		}
	case types.OutputExecuteResult:
		out := types.NotebookOutput{
			Type: types.OutputExecuteResult,
			Data: ro.Data,
		}
		if ro.ExecutionCount != nil {
			out.ExecutionCount = *ro.ExecutionCount
		}
		return out
	case types.OutputDisplayData:
		return types.NotebookOutput{
			Type: types.OutputDisplayData,
			Data: ro.Data,
		}
	case types.OutputError:
		return types.NotebookOutput{
			Type:       types.OutputError,
			ErrorName:  ro.EName,
			ErrorValue: ro.EValue,
			Traceback:  ro.Traceback,
		}
	}
	// Unknown output types round-trip as empty display data.
	return types.NotebookOutput{Type: types.OutputDisplayData, Data: ro.Data}
}

func encodeOutput(out types.NotebookOutput) rawOutput {
	switch out.Type {
	case types.OutputStream:
		return rawOutput{
			OutputType: string(types.OutputStream),
			Name:       out.StreamName,
			Text:       multilineString(out.Text),
		}
	case types.OutputExecuteResult:
		ro := rawOutput{
			OutputType: string(types.OutputExecuteResult),
			Data:       out.Data,
		}
		if out.ExecutionCount > 0 {
			count := out.ExecutionCount
			ro.ExecutionCount = &count
		}
		return ro
	case types.OutputError:
		return rawOutput{
			OutputType: string(types.OutputError),
			EName:      out.ErrorName,
			EValue:     out.ErrorValue,
			Traceback:  out.Traceback,
		}
	default:
		return rawOutput{
			OutputType: string(types.OutputDisplayData),
			Data:       out.Data,
		}
	}
}
