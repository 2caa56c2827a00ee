package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"nbdeck/internal/notebook"
	"nbdeck/internal/types"
)

// SlideRenderer turns one slide's cells into styled terminal text.
type SlideRenderer struct {
	styles   Styles
	renderer *glamour.TermRenderer
	width    int
}

// NewSlideRenderer builds a renderer wrapping at width columns.
func NewSlideRenderer(width int) *SlideRenderer {
	sr := &SlideRenderer{styles: DefaultStyles(), width: width}
	sr.Resize(width)
	return sr
}

// Resize rebuilds the markdown renderer for a new terminal width.
func (sr *SlideRenderer) Resize(width int) {
	if width < 20 {
		width = 20
	}
	sr.width = width
	sr.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
}

// RenderSlide renders every cell of the slide, markdown as formatted prose
// and code cells as framed source plus their outputs.
func (sr *SlideRenderer) RenderSlide(slide notebook.Slide) string {
	var sb strings.Builder
	for i, cell := range slide.Cells {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch cell.Type {
		case types.CellMarkdown:
			sb.WriteString(sr.safeRenderMarkdown(cell.Source))
		case types.CellCode:
			sb.WriteString(sr.renderCodeCell(cell))
		}
	}
	return sb.String()
}

func (sr *SlideRenderer) renderCodeCell(cell types.Cell) string {
	label := "In [ ]"
	if cell.ExecutionCount > 0 {
		label = fmt.Sprintf("In [%d]", cell.ExecutionCount)
	}

	frame := sr.styles.CodeCell.Width(sr.width - 6)
	if types.HasErrorOutput(cell.Outputs) {
		frame = frame.BorderForeground(lipgloss.Color("196"))
	}

	parts := []string{
		sr.styles.Muted.Render(label),
		frame.Render(strings.TrimRight(cell.Source, "\n")),
	}
	for _, out := range cell.Outputs {
		parts = append(parts, sr.renderOutput(out))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (sr *SlideRenderer) renderOutput(out types.NotebookOutput) string {
	switch out.Type {
	case types.OutputStream:
		style := sr.styles.Output
		if out.StreamName == "stderr" {
			style = sr.styles.ErrorOut
		}
		return style.Render(strings.TrimRight(out.Text, "\n"))
	case types.OutputError:
		lines := []string{out.ErrorName + ": " + out.ErrorValue}
		lines = append(lines, out.Traceback...)
		return sr.styles.ErrorOut.Render(strings.Join(lines, "\n"))
	case types.OutputExecuteResult, types.OutputDisplayData:
		if text := out.PlainText(); text != "" {
			prefix := ""
			if out.Type == types.OutputExecuteResult && out.ExecutionCount > 0 {
				prefix = sr.styles.Muted.Render(fmt.Sprintf("Out[%d]: ", out.ExecutionCount))
			}
			return sr.styles.Output.Render(prefix + strings.TrimRight(text, "\n"))
		}
		// No text/plain fallback; name the richest MIME type instead of
		// dumping bytes into the terminal.
		for mime := range out.Data {
			if mime != "text/plain" {
				return sr.styles.Muted.Render("[" + mime + " output]")
			}
		}
	}
	return ""
}

// safeRenderMarkdown renders markdown with panic recovery
func (sr *SlideRenderer) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			// If glamour panics, return plain text
			result = content
		}
	}()

	if sr.renderer != nil && content != "" {
		rendered, err := sr.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}
