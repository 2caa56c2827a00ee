package render

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nbdeck/internal/logging"
	"nbdeck/internal/notebook"
	"nbdeck/internal/types"
)

// keyMap defines the presenter's key bindings.
type keyMap struct {
	Next     key.Binding
	Prev     key.Binding
	RunSlide key.Binding
	RunAll   key.Binding
	Restart  key.Binding
	Save     key.Binding
	Reload   key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Next:     key.NewBinding(key.WithKeys("right", "l", "pgdown", " ")),
		Prev:     key.NewBinding(key.WithKeys("left", "h", "pgup")),
		RunSlide: key.NewBinding(key.WithKeys("r")),
		RunAll:   key.NewBinding(key.WithKeys("a")),
		Restart:  key.NewBinding(key.WithKeys("ctrl+r")),
		Save:     key.NewBinding(key.WithKeys("ctrl+s")),
		Reload:   key.NewBinding(key.WithKeys("ctrl+l")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c")),
	}
}

// Messages delivered back into the update loop by async commands.
type (
	runDoneMsg struct {
		halted int
		err    error
	}
	restartDoneMsg struct{ err error }
	initDoneMsg    struct{ err error }
	kernelMsg      string
	noticeMsg      string
	reloadMsg      string
)

// Presenter is the bubbletea model for a slide-deck session.
type Presenter struct {
	doc     *notebook.Document
	runtime types.KernelRuntime
	slides  []notebook.Slide
	current int

	viewport viewport.Model
	spinner  spinner.Model
	renderer *SlideRenderer
	styles   Styles
	keys     keyMap

	events chan tea.Msg

	width, height int
	ready         bool
	running       bool
	status        string
	kernelName    string
}

// NewPresenter builds the presenter for doc. The runtime is attached
// separately with SetRuntime because its notifier feeds the presenter's
// event channel.
func NewPresenter(doc *notebook.Document) *Presenter {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Presenter{
		doc:      doc,
		slides:   doc.Slides(),
		spinner:  sp,
		renderer: NewSlideRenderer(80),
		styles:   DefaultStyles(),
		keys:     defaultKeyMap(),
		events:   make(chan tea.Msg, 16),
	}
}

// SetRuntime attaches the kernel runtime. Must happen before the program
// starts.
func (p *Presenter) SetRuntime(rt types.KernelRuntime) {
	p.runtime = rt
	rt.OnKernelChanged(func(name string) {
		select {
		case p.events <- kernelMsg(name):
		default:
		}
	})
}

// NotifyReload is called by the file watcher when the deck changes on disk.
func (p *Presenter) NotifyReload(path string) {
	select {
	case p.events <- reloadMsg(path):
	default:
	}
}

// Notifier returns a types.Notifier that surfaces runtime messages in the
// presenter's status line.
func (p *Presenter) Notifier() types.Notifier {
	return presenterNotifier{events: p.events}
}

type presenterNotifier struct{ events chan tea.Msg }

func (n presenterNotifier) Info(msg string)  { n.push(msg) }
func (n presenterNotifier) Warn(msg string)  { n.push(msg) }
func (n presenterNotifier) Error(msg string) { n.push(msg) }

func (n presenterNotifier) push(msg string) {
	select {
	case n.events <- noticeMsg(msg):
	default:
	}
}

func (p *Presenter) Init() tea.Cmd {
	cmds := []tea.Cmd{p.spinner.Tick, p.waitForEvent()}
	if p.runtime != nil {
		cmds = append(cmds, func() tea.Msg {
			return initDoneMsg{err: p.runtime.Initialize(context.Background())}
		})
	}
	return tea.Batch(cmds...)
}

func (p *Presenter) waitForEvent() tea.Cmd {
	return func() tea.Msg { return <-p.events }
}

func (p *Presenter) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
		p.renderer.Resize(msg.Width)
		if !p.ready {
			p.viewport = viewport.New(msg.Width, msg.Height-4)
			p.ready = true
		} else {
			p.viewport.Width = msg.Width
			p.viewport.Height = msg.Height - 4
		}
		p.refresh()
		return p, nil

	case tea.KeyMsg:
		return p.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case initDoneMsg:
		if msg.err != nil {
			p.status = fmt.Sprintf("kernel unavailable: %v", msg.err)
		} else {
			p.status = "kernel ready"
		}
		p.refresh()
		return p, p.waitForEvent()

	case runDoneMsg:
		p.running = false
		switch {
		case msg.err != nil:
			p.status = fmt.Sprintf("run failed: %v", msg.err)
		case msg.halted >= 0:
			p.status = fmt.Sprintf("halted at cell %d", msg.halted+1)
		default:
			p.status = "run complete"
		}
		p.refresh()
		return p, nil

	case restartDoneMsg:
		p.running = false
		if msg.err != nil {
			p.status = fmt.Sprintf("restart failed: %v", msg.err)
		} else {
			p.status = "kernel restarted"
		}
		p.refresh()
		return p, nil

	case kernelMsg:
		p.kernelName = p.runtime.ActiveKernelDisplayName()
		return p, p.waitForEvent()

	case noticeMsg:
		p.status = string(msg)
		return p, p.waitForEvent()

	case reloadMsg:
		p.status = "deck changed on disk (ctrl+l to reload)"
		return p, p.waitForEvent()
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

func (p *Presenter) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, p.keys.Quit):
		return p, tea.Quit

	case key.Matches(msg, p.keys.Next):
		if p.current < len(p.slides)-1 {
			p.current++
			p.refresh()
		}
		return p, nil

	case key.Matches(msg, p.keys.Prev):
		if p.current > 0 {
			p.current--
			p.refresh()
		}
		return p, nil

	case key.Matches(msg, p.keys.RunSlide):
		if p.running || p.runtime == nil || len(p.slides) == 0 {
			return p, nil
		}
		p.running = true
		p.status = "running slide"
		slide := p.slides[p.current]
		return p, func() tea.Msg {
			for offset := range slide.Cells {
				index := slide.FirstCell + offset
				outputs, err := p.runtime.ExecuteCell(context.Background(), index)
				if err != nil {
					return runDoneMsg{halted: index, err: err}
				}
				if types.HasErrorOutput(outputs) {
					return runDoneMsg{halted: index}
				}
			}
			return runDoneMsg{halted: -1}
		}

	case key.Matches(msg, p.keys.RunAll):
		if p.running || p.runtime == nil {
			return p, nil
		}
		p.running = true
		p.status = "running all cells"
		return p, func() tea.Msg {
			halted, err := p.runtime.RunAll(context.Background())
			return runDoneMsg{halted: halted, err: err}
		}

	case key.Matches(msg, p.keys.Restart):
		if p.running || p.runtime == nil {
			return p, nil
		}
		p.running = true
		p.status = "restarting kernel"
		return p, func() tea.Msg {
			return restartDoneMsg{err: p.runtime.RestartKernel(context.Background())}
		}

	case key.Matches(msg, p.keys.Save):
		if err := p.doc.Save(); err != nil {
			p.status = fmt.Sprintf("save failed: %v", err)
		} else {
			p.status = "saved"
		}
		return p, nil

	case key.Matches(msg, p.keys.Reload):
		doc, err := notebook.Load(p.doc.Path())
		if err != nil {
			p.status = fmt.Sprintf("reload failed: %v", err)
			return p, nil
		}
		// Replace contents in place; the runtime holds the same Document
		// pointer and must keep writing outputs into what is on screen.
		p.doc.ReloadFrom(doc)
		p.reloadSlides()
		if p.current >= len(p.slides) {
			p.current = max(len(p.slides)-1, 0)
		}
		p.refresh()
		p.status = "reloaded from disk"
		logging.Render("deck reloaded from %s", doc.Path())
		return p, nil
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

// refresh re-renders the current slide into the viewport. Slide boundaries
// are recomputed so freshly written outputs show up.
func (p *Presenter) refresh() {
	p.reloadSlides()
	if !p.ready || len(p.slides) == 0 {
		return
	}
	p.viewport.SetContent(p.styles.Content.Render(p.renderer.RenderSlide(p.slides[p.current])))
}

func (p *Presenter) reloadSlides() {
	p.slides = p.doc.Slides()
	if p.current >= len(p.slides) && len(p.slides) > 0 {
		p.current = len(p.slides) - 1
	}
}

func (p *Presenter) View() string {
	if !p.ready {
		return "Loading deck..."
	}

	title := p.styles.Header.Render(" " + deckTitle(p.slides, p.current) + " ")
	position := p.styles.Badge.Render(fmt.Sprintf("%d/%d", p.current+1, max(len(p.slides), 1)))

	kernel := p.kernelName
	if kernel == "" {
		kernel = "no kernel"
	}
	var state string
	if p.running {
		state = p.spinner.View() + " " + p.styles.Muted.Render(p.status)
	} else {
		state = p.styles.Muted.Render(p.status)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", position, "  ", p.styles.Success.Render(kernel), "  ", state)
	footer := p.styles.Muted.Render("←/→ slides | r: run slide | a: run all | ctrl+r: restart | ctrl+s: save | q: quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, p.viewport.View(), footer)
}

func deckTitle(slides []notebook.Slide, current int) string {
	if current < len(slides) && slides[current].Title != "" {
		return slides[current].Title
	}
	return "nbdeck"
}
