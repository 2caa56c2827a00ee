package notebook

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// Document is the in-memory notebook the runtime and presenter operate on.
// All mutation goes through setters so the edit history can observe every
// change; callers never hold references into the cell slice.
type Document struct {
	mu       sync.RWMutex
	path     string
	cells    []types.Cell
	metadata map[string]interface{}
	dirty    bool
	history  History
}

// NewDocument creates an empty notebook bound to path.
func NewDocument(path string) *Document {
	return &Document{path: path, metadata: map[string]interface{}{}}
}

// Path returns the file path the document was loaded from.
func (d *Document) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// CellCount returns the number of cells in the document.
func (d *Document) CellCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cells)
}

// CellAt returns a copy of the cell at index. The copy shares no mutable
// state with the document; editing it has no effect.
func (d *Document) CellAt(index int) (types.Cell, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.cells) {
		return types.Cell{}, false
	}
	return copyCell(d.cells[index]), true
}

// Cells returns a copy of every cell in order.
func (d *Document) Cells() []types.Cell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Cell, len(d.cells))
	for i, c := range d.cells {
		out[i] = copyCell(c)
	}
	return out
}

// Dirty reports whether the document has unsaved changes.
func (d *Document) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// ReloadFrom replaces the document's contents with other's, keeping the
// Document identity stable so every holder of the pointer sees the new
// cells. The edit history is discarded; edits recorded against the old
// contents cannot be replayed against the new ones.
func (d *Document) ReloadFrom(other *Document) {
	cells := other.Cells()
	other.mu.RLock()
	metadata := other.metadata
	other.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cells = cells
	d.metadata = metadata
	d.dirty = false
	d.history = History{}
	logging.Document("document reloaded: %d cells", len(cells))
}

// UpdateCellOutputs replaces the outputs and execution counter of the cell at
// index. Out-of-range indices are ignored; execution results for a cell that
// was deleted mid-run have nowhere to land.
func (d *Document) UpdateCellOutputs(index int, outputs []types.NotebookOutput, executionCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.cells) {
		logging.Document("dropping outputs for out-of-range cell %d", index)
		return
	}
	d.cells[index].Outputs = append([]types.NotebookOutput(nil), outputs...)
	d.cells[index].ExecutionCount = executionCount
	d.dirty = true
}

// ResetExecutionOrder clears every cell's execution counter.
func (d *Document) ResetExecutionOrder() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.cells {
		d.cells[i].ExecutionCount = 0
	}
	d.dirty = true
}

// SetCellSource replaces the source of the cell at index, recording the edit
// in the history.
func (d *Document) SetCellSource(index int, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.cells) {
		return fmt.Errorf("cell %d out of range", index)
	}
	cmd := Edit{
		Kind:   EditSetSource,
		Index:  index,
		After:  types.Cell{Source: source},
		Before: types.Cell{Source: d.cells[index].Source},
	}
	d.applyLocked(cmd)
	d.history.Push(cmd)
	return nil
}

// InsertCell inserts a new cell of the given type at index. Index may equal
// CellCount to append.
func (d *Document) InsertCell(index int, cellType types.CellType, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index > len(d.cells) {
		return fmt.Errorf("insert position %d out of range", index)
	}
	cmd := Edit{
		Kind:  EditInsert,
		Index: index,
		After: types.Cell{
			ID:     uuid.NewString(),
			Type:   cellType,
			Source: source,
		},
	}
	d.applyLocked(cmd)
	d.history.Push(cmd)
	return nil
}

// DeleteCell removes the cell at index.
func (d *Document) DeleteCell(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.cells) {
		return fmt.Errorf("cell %d out of range", index)
	}
	cmd := Edit{
		Kind:   EditDelete,
		Index:  index,
		Before: copyCell(d.cells[index]),
	}
	d.applyLocked(cmd)
	d.history.Push(cmd)
	return nil
}

// MoveCell relocates the cell at from to position to.
func (d *Document) MoveCell(from, to int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 || from >= len(d.cells) || to < 0 || to >= len(d.cells) {
		return fmt.Errorf("move %d -> %d out of range", from, to)
	}
	if from == to {
		return nil
	}
	cmd := Edit{Kind: EditMove, Index: from, ToIndex: to}
	d.applyLocked(cmd)
	d.history.Push(cmd)
	return nil
}

// Undo reverts the most recent edit. Returns false when the history is empty.
func (d *Document) Undo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.history.PopUndo()
	if !ok {
		return false
	}
	d.applyLocked(cmd.Invert())
	return true
}

// Redo re-applies the most recently undone edit.
func (d *Document) Redo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.history.PopRedo()
	if !ok {
		return false
	}
	d.applyLocked(cmd)
	return true
}

// applyLocked performs the structural change an Edit describes. Caller holds
// the write lock.
func (d *Document) applyLocked(cmd Edit) {
	switch cmd.Kind {
	case EditSetSource:
		d.cells[cmd.Index].Source = cmd.After.Source
	case EditInsert:
		cell := copyCell(cmd.After)
		d.cells = append(d.cells, types.Cell{})
		copy(d.cells[cmd.Index+1:], d.cells[cmd.Index:])
		d.cells[cmd.Index] = cell
	case EditDelete:
		d.cells = append(d.cells[:cmd.Index], d.cells[cmd.Index+1:]...)
	case EditMove:
		cell := d.cells[cmd.Index]
		d.cells = append(d.cells[:cmd.Index], d.cells[cmd.Index+1:]...)
		d.cells = append(d.cells, types.Cell{})
		copy(d.cells[cmd.ToIndex+1:], d.cells[cmd.ToIndex:])
		d.cells[cmd.ToIndex] = cell
	}
	d.dirty = true
}

// Slides groups the cells into presentation slides. A markdown cell whose
// first line is a top-level or second-level heading starts a new slide;
// everything else attaches to the current slide.
func (d *Document) Slides() []Slide {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var slides []Slide
	current := Slide{FirstCell: 0}
	flush := func(next int) {
		if len(current.Cells) > 0 {
			slides = append(slides, current)
		}
		current = Slide{FirstCell: next}
	}
	for i, cell := range d.cells {
		if cell.Type == types.CellMarkdown && startsSlide(cell.Source) {
			flush(i)
			current.Title = slideTitle(cell.Source)
		}
		current.Cells = append(current.Cells, copyCell(cell))
	}
	flush(len(d.cells))
	return slides
}

// Slide is one presentation unit: a heading cell plus the cells beneath it.
type Slide struct {
	Title     string
	FirstCell int
	Cells     []types.Cell
}

func startsSlide(source string) bool {
	line := firstLine(source)
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")
}

func slideTitle(source string) string {
	return strings.TrimSpace(strings.TrimLeft(firstLine(source), "# "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func copyCell(c types.Cell) types.Cell {
	out := c
	out.Outputs = append([]types.NotebookOutput(nil), c.Outputs...)
	return out
}

var _ types.DocumentModel = (*Document)(nil)
