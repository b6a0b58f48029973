// Package tui provides the terminal control panel for legatoctl
package tui

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/legatoctl/pkg/host"
	"github.com/james-see/legatoctl/pkg/legato"
)

var (
	accent    = lipgloss.Color("#39FF14")
	highlight = lipgloss.Color("#FFFF00")
	silver    = lipgloss.Color("#C0C0C0")
	darkGray  = lipgloss.Color("#333333")
	dimGray   = lipgloss.Color("#666666")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().
			Foreground(silver).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			PaddingLeft(2)

	modeStyle = lipgloss.NewStyle().
			Foreground(silver).
			Padding(0, 1)

	activeModeStyle = lipgloss.NewStyle().
			Foreground(darkGray).
			Background(accent).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(highlight).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimGray).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(1, 2)
)

// RefreshInterval is how often the panel polls the engine
const RefreshInterval = 100 * time.Millisecond

// Engine is the controller the panel edits
type Engine interface {
	Do(fn func(*legato.Controller)) error
	Reset() error
	Stats() (host.Stats, error)
}

// State represents the current screen
type State int

const (
	StatePanel State = iota
	StateFilePicker
	StateRendering
	StateResult
)

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Decrease key.Binding
	Increase key.Binding
	Coarse   key.Binding
	Mode     key.Binding
	Render   key.Binding
	Reset    key.Binding
	Back     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Decrease, k.Mode, k.Render, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Decrease, k.Coarse},
		{k.Mode, k.Render, k.Reset, k.Back},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/↓", "select")),
	Down:     key.NewBinding(key.WithKeys("down", "j")),
	Decrease: key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/→", "adjust")),
	Increase: key.NewBinding(key.WithKeys("right", "l")),
	Coarse:   key.NewBinding(key.WithKeys("shift+left", "shift+right", "H", "L"), key.WithHelp("shift+←/→", "adjust ×10")),
	Mode:     key.NewBinding(key.WithKeys("1", "2", "3", "4"), key.WithHelp("1-4", "mode")),
	Render:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "render file")),
	Reset:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
	Back:     key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "back")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the control panel
type Model struct {
	engine Engine
	opts   host.Options

	state  State
	index  int
	cfg    legato.Config
	snap   legato.Snapshot
	stats  host.Stats
	params []legato.Param

	filePicker   filepicker.Model
	spinner      spinner.Model
	help         help.Model
	selectedFile string
	outputFile   string
	err          error
	width        int
	height       int
}

type refreshMsg time.Time

type snapshotMsg struct {
	snap  legato.Snapshot
	stats host.Stats
	err   error
}

// renderDoneMsg signals render completion
type renderDoneMsg struct {
	outputFile string
	result     host.Result
	err        error
}

// New creates a panel editing engine. opts supply everything but the
// engine settings for file renders.
func New(engine Engine, opts host.Options) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".mid", ".midi"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accent)

	return Model{
		engine:     engine,
		opts:       opts,
		state:      StatePanel,
		params:     legato.Params(),
		cfg:        opts.Engine,
		snap: legato.Snapshot{
			Config: opts.Engine,
			Phrase: legato.PhraseState{LastPitch: legato.NoPitch, RetriggerPitch: legato.NoPitch},
		},
		filePicker: fp,
		spinner:    s,
		help:       help.New(),
	}
}

// Init starts polling the engine
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), refresh())
}

func refresh() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		var msg snapshotMsg
		msg.err = m.engine.Do(func(c *legato.Controller) { msg.snap = c.State() })
		if msg.err == nil {
			msg.stats, msg.err = m.engine.Stats()
		}
		return msg
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StatePanel
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.selectedFile = path
			m.state = StateRendering
			return m, tea.Batch(m.spinner.Tick, m.performRender())
		}

		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StatePanel:
			return m.updatePanel(msg)
		case StateResult:
			return m.updateResult(msg)
		}

	case refreshMsg:
		return m, tea.Batch(m.fetch(), refresh())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.cfg = msg.snap.Config
			m.stats = msg.stats
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case renderDoneMsg:
		m.state = StateResult
		m.outputFile = msg.outputFile
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updatePanel(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, keys.Up):
		if m.index > 0 {
			m.index--
		}
	case key.Matches(msg, keys.Down):
		if m.index < len(m.params)-1 {
			m.index++
		}
	case key.Matches(msg, keys.Decrease):
		return m.adjust(-1)
	case key.Matches(msg, keys.Increase):
		return m.adjust(1)
	case key.Matches(msg, keys.Coarse):
		if s := msg.String(); s == "shift+left" || s == "H" {
			return m.adjust(-10)
		}
		return m.adjust(10)
	case key.Matches(msg, keys.Mode):
		mode := legato.Mode(msg.Runes[0] - '1')
		return m.set(legato.ParamMode, float64(mode))
	case key.Matches(msg, keys.Reset):
		if err := m.engine.Reset(); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.fetch()
	case key.Matches(msg, keys.Render):
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	}
	return m, nil
}

// adjust moves the selected parameter by steps. Toggles flip and the mode
// wraps around.
func (m Model) adjust(steps int) (tea.Model, tea.Cmd) {
	p := m.params[m.index]
	cur, _ := m.cfg.Get(p.Name)

	var next float64
	switch {
	case p.Toggle:
		next = 1 - cur
	case p.Name == legato.ParamMode:
		n := int(p.Max) + 1
		next = float64(((int(cur)+steps)%n + n) % n)
	default:
		next = cur + float64(steps)*p.Step
	}
	return m.set(p.Name, next)
}

func (m Model) set(name string, v float64) (tea.Model, tea.Cmd) {
	var setErr error
	err := m.engine.Do(func(c *legato.Controller) {
		setErr = c.SetParam(name, v)
		m.cfg = c.Config()
	})
	if err == nil {
		err = setErr
	}
	m.err = err
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StatePanel
		m.err = nil
		m.selectedFile = ""
		m.outputFile = ""
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) performRender() tea.Cmd {
	opts := m.opts
	opts.Engine = m.cfg
	in := m.selectedFile
	return func() tea.Msg {
		f, err := os.Open(in)
		if err != nil {
			return renderDoneMsg{err: err}
		}
		defer func() { _ = f.Close() }()

		out := strings.TrimSuffix(in, filepath.Ext(in)) + "-legato.mid"
		w, err := os.Create(out)
		if err != nil {
			return renderDoneMsg{err: err}
		}
		res, err := host.Render(f, w, opts, host.DefaultTailMs)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return renderDoneMsg{err: err}
		}
		return renderDoneMsg{outputFile: out, result: res}
	}
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(logo())
	s.WriteString("\n")

	switch m.state {
	case StatePanel:
		s.WriteString(m.viewPanel())
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateRendering:
		s.WriteString(m.viewRendering())
	case StateResult:
		s.WriteString(m.viewResult())
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.View(keys)))

	return s.String()
}

func (m Model) viewPanel() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" LEGATO "))
	s.WriteString("\n\n")

	for mode := legato.ModeBypass; mode <= legato.ModeTrill; mode++ {
		label := fmt.Sprintf("%d %s", int(mode)+1, strings.ToUpper(mode.String()))
		if mode == m.cfg.Mode {
			s.WriteString(activeModeStyle.Render(label))
		} else {
			s.WriteString(modeStyle.Render(label))
		}
		s.WriteString(" ")
	}
	s.WriteString("\n\n")

	for i, p := range m.params {
		if p.Name == legato.ParamMode {
			continue
		}
		v, _ := m.cfg.Get(p.Name)
		line := fmt.Sprintf("%-18s %s", p.Label, formatValue(p, v))
		if i == m.index {
			s.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			s.WriteString(rowStyle.Render("  " + line))
		}
		s.WriteString("\n")
	}
	if m.index == 0 {
		s.WriteString(statusStyle.Render("  mode selected: ←/→ cycles"))
		s.WriteString("\n")
	}

	s.WriteString(statusStyle.Render(m.viewPhrase()))
	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewPhrase() string {
	ph := m.snap.Phrase
	if ph.LastPitch == legato.NoPitch {
		return fmt.Sprintf("idle • notes %d • consumed %d • passed %d", m.stats.NotesIn, m.stats.Consumed, m.stats.Passed)
	}
	line := fmt.Sprintf("note %s • fade %.1fms • bend %.1fms %.1fct", noteName(ph.LastPitch), m.snap.Fade, m.snap.Bend, m.snap.Amount)
	if sv := m.snap.Session; sv != nil {
		line += fmt.Sprintf(" • %s → %s @ %.1fms", noteName(sv.Current), noteName(sv.Target), sv.RateMs)
	}
	if ph.RetriggerPitch != legato.NoPitch {
		line += " • return " + noteName(ph.RetriggerPitch)
	}
	return line
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT MIDI FILE "))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to panel"))

	return s.String()
}

func (m Model) viewRendering() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" RENDERING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Rendering %s...\n", m.spinner.View(), filepath.Base(m.selectedFile)))
	s.WriteString(statusStyle.Render("  mode " + m.cfg.Mode.String()))

	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil {
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Render failed: %s", m.err.Error())))
	} else {
		s.WriteString(titleStyle.Render(" SUCCESS "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Render complete!"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Input:  %s\n", filepath.Base(m.selectedFile)))
		s.WriteString(fmt.Sprintf("Output: %s", filepath.Base(m.outputFile)))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to continue"))

	return boxStyle.Render(s.String())
}

func formatValue(p legato.Param, v float64) string {
	switch {
	case p.Toggle:
		if v >= 0.5 {
			return "[on]"
		}
		return "[off]"
	case p.Name == legato.ParamRate:
		return legato.RateLabel(int(v))
	}
	bar := knob(p, v)
	if p.Unit != "" {
		return fmt.Sprintf("%s %g %s", bar, v, p.Unit)
	}
	return fmt.Sprintf("%s %g", bar, v)
}

// knob draws the value's position in its range
func knob(p legato.Param, v float64) string {
	const width = 12
	pos := 0
	if p.Max > p.Min {
		pos = int(math.Round((v - p.Min) / (p.Max - p.Min) * width))
	}
	pos = max(0, min(width, pos))
	return "[" + strings.Repeat("■", pos) + strings.Repeat("·", width-pos) + "]"
}

var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func noteName(pitch int) string {
	if pitch < 0 {
		return "-"
	}
	return fmt.Sprintf("%s%d", noteNames[pitch%12], pitch/12-2)
}

func logo() string {
	l := `
  _    ___ ___   _ _____ ___   ___ _____ _
 | |  | __/ __| /_\_   _/ _ \ / __|_   _| |
 | |__| _| (_ |/ _ \| || (_) | (__  | | | |__
 |____|___\___/_/ \_\_| \___/ \___| |_| |____|
`
	return lipgloss.NewStyle().Foreground(accent).Render(l)
}

// Run starts the panel and blocks until the user quits
func Run(engine Engine, opts host.Options) error {
	p := tea.NewProgram(New(engine, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
