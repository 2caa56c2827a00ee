package notebook

import "nbdeck/internal/types"

// EditKind tags the variants of Edit.
type EditKind int

const (
	EditSetSource EditKind = iota
	EditInsert
	EditDelete
	EditMove
)

// Edit is one reversible document mutation. The tag plus the captured
// before/after state is enough to both apply and invert the edit, so the
// history never stores closures.
type Edit struct {
	Kind    EditKind
	Index   int
	ToIndex int // EditMove only

	Before types.Cell // state needed to invert
	After  types.Cell // state needed to apply
}

// Invert returns the edit that undoes this one.
func (e Edit) Invert() Edit {
	switch e.Kind {
	case EditSetSource:
		return Edit{Kind: EditSetSource, Index: e.Index, Before: e.After, After: e.Before}
	case EditInsert:
		return Edit{Kind: EditDelete, Index: e.Index, Before: e.After}
	case EditDelete:
		return Edit{Kind: EditInsert, Index: e.Index, After: e.Before}
	case EditMove:
		return Edit{Kind: EditMove, Index: e.ToIndex, ToIndex: e.Index}
	}
	return e
}

// History is a linear undo/redo buffer. Pushing a new edit discards any
// pending redos, matching the editing model every mainstream editor uses.
type History struct {
	undo []Edit
	redo []Edit
}

// Push records a freshly applied edit and clears the redo stack.
func (h *History) Push(e Edit) {
	h.undo = append(h.undo, e)
	h.redo = h.redo[:0]
}

// PopUndo removes and returns the most recent edit, moving it to the redo
// stack. The caller applies its inverse.
func (h *History) PopUndo() (Edit, bool) {
	if len(h.undo) == 0 {
		return Edit{}, false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	return e, true
}

// PopRedo removes and returns the most recently undone edit, moving it back
// to the undo stack. The caller re-applies it.
func (h *History) PopRedo() (Edit, bool) {
	if len(h.redo) == 0 {
		return Edit{}, false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	return e, true
}

// CanUndo reports whether an undo is available.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether a redo is available.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }
