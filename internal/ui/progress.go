// Package ui renders pipeline progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"ffigen/internal/pipeline"
)

type unitState uint8

const (
	stateQueued unitState = iota
	stateRunning
	stateDone
	stateCached
	stateFailed
)

func (s unitState) finished() bool { return s >= stateDone }

// stageSteps gives each stage a label and the share of a unit's work that
// is complete once the stage starts.
var stageSteps = map[pipeline.Stage]struct {
	label string
	share float64
}{
	pipeline.StageDecode:     {"decoding", 0.05},
	pipeline.StageBuild:      {"building", 0.2},
	pipeline.StageLayout:     {"layout", 0.45},
	pipeline.StageCapability: {"analyzing", 0.65},
	pipeline.StageEmit:       {"emitting", 0.8},
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

type unitRow struct {
	name    string
	state   unitState
	stage   pipeline.Stage
	elapsed time.Duration
	err     string
}

// label is the status column text.
func (r unitRow) label() string {
	switch r.state {
	case stateQueued:
		return "queued"
	case stateDone:
		return "done"
	case stateCached:
		return "cached"
	case stateFailed:
		return "error"
	}
	return stageSteps[r.stage].label
}

func (r unitRow) style() lipgloss.Style {
	switch r.state {
	case stateDone, stateCached:
		return okStyle
	case stateFailed:
		return failStyle
	case stateQueued:
		return idleStyle
	}
	return workingStyle
}

type progressModel struct {
	title   string
	events  <-chan pipeline.Event
	spinner spinner.Model
	bar     progress.Model
	rows    []unitRow
	byName  map[string]int
	width   int
	closed  bool
}

type (
	eventMsg  pipeline.Event
	closedMsg struct{}
)

// NewProgressModel returns a Bubble Tea model with one row per unit. It
// quits once events is closed.
func NewProgressModel(title string, units []string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = workingStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	m := &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		bar:     bar,
		rows:    make([]unitRow, len(units)),
		byName:  make(map[string]int, len(units)),
		width:   80,
	}
	for i, name := range units {
		m.rows[i] = unitRow{name: name}
		m.byName[name] = i
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

// next waits for one pipeline event.
func (m *progressModel) next() tea.Cmd {
	return func() tea.Msg {
		if ev, ok := <-m.events; ok {
			return eventMsg(ev)
		}
		return closedMsg{}
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.apply(pipeline.Event(msg)), m.next())
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

// apply folds ev into its row. Events for unknown units and events after a
// row finished are ignored.
func (m *progressModel) apply(ev pipeline.Event) tea.Cmd {
	i, ok := m.byName[ev.Unit]
	if !ok || m.rows[i].state.finished() {
		return nil
	}
	row := &m.rows[i]
	switch ev.Status {
	case pipeline.StatusQueued:
		row.state = stateQueued
	case pipeline.StatusWorking:
		if _, known := stageSteps[ev.Stage]; !known {
			return nil
		}
		row.state = stateRunning
	case pipeline.StatusDone:
		row.state = stateDone
	case pipeline.StatusCached:
		row.state = stateCached
	case pipeline.StatusError:
		row.state = stateFailed
		if ev.Err != nil {
			row.err = ev.Err.Error()
		}
	default:
		return nil
	}
	row.stage = ev.Stage
	if ev.Elapsed > 0 {
		row.elapsed = ev.Elapsed
	}
	return m.bar.SetPercent(m.percent())
}

func (m *progressModel) counts() (finished, failed int) {
	for _, r := range m.rows {
		if r.state.finished() {
			finished++
		}
		if r.state == stateFailed {
			failed++
		}
	}
	return finished, failed
}

func (m *progressModel) percent() float64 {
	if len(m.rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range m.rows {
		switch {
		case r.state.finished():
			sum++
		case r.state == stateRunning:
			sum += stageSteps[r.stage].share
		}
	}
	return sum / float64(len(m.rows))
}

func (m *progressModel) View() string {
	if len(m.rows) == 0 {
		return ""
	}
	finished, failed := m.counts()
	header := fmt.Sprintf("%s (%d/%d)", m.title, finished, len(m.rows))
	if failed > 0 {
		header += fmt.Sprintf(", %d failed", failed)
	}
	lead := m.spinner.View()
	if m.closed {
		lead = "done:"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(lead + " " + header))
	b.WriteString("\n\n")

	const statusWidth, timeWidth = 10, 9
	nameWidth := max(m.width-statusWidth-timeWidth-6, 20)
	for _, r := range m.rows {
		elapsed := ""
		if r.elapsed > 0 {
			elapsed = r.elapsed.Round(time.Millisecond).String()
		}
		fmt.Fprintf(&b, "  %s %s %s\n",
			r.style().Render(fmt.Sprintf("%*s", statusWidth, r.label())),
			fit(r.name, nameWidth),
			faintStyle.Render(fmt.Sprintf("%*s", timeWidth, elapsed)))
		if r.err != "" {
			b.WriteString(strings.Repeat(" ", statusWidth+3))
			b.WriteString(failStyle.Render(fit(r.err, m.width-statusWidth-3)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.closed {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	return b.String()
}

// fit truncates s to width display cells, adding an ellipsis when cut, and
// pads it with spaces to exactly width.
func fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	if runewidth.StringWidth(s) > width {
		tail := "..."
		if width <= len(tail) {
			tail = ""
		}
		s = runewidth.Truncate(s, width, tail)
	}
	return runewidth.FillRight(s, width)
}
