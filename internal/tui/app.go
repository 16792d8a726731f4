// internal/tui/app.go
//
// The serve dashboard. It follows The Elm Architecture like every bubbletea
// program: the scheduler and the watch router push messages in through
// Program.Send, Update folds them into the model, and View renders the
// board.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/pipeline/scheduler"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

const logPanelLines = 8

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleFresh   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	boxStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// TaskEventMsg carries a scheduler state change.
type TaskEventMsg scheduler.TaskEvent

// RebuildMsg carries the outcome of a watch-triggered rebuild.
type RebuildMsg watch.RebuildCompleted

// ReadyMsg reports the dev server URL. URL is empty when serving is disabled.
type ReadyMsg struct{ URL string }

// ExitedMsg reports that serving stopped.
type ExitedMsg struct{ Err error }

type taskRow struct {
	state    scheduler.TaskState
	upToDate bool
	started  time.Time
	duration time.Duration
	err      error
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithLogbook shows the tail of the build history under the board.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = book
	}
}

// WithCancel is called when the user quits so serving can stop.
func WithCancel(cancel func()) AppOption {
	return func(a *App) {
		a.cancel = cancel
	}
}

// App is the dashboard model.
type App struct {
	target  string
	stages  [][]string
	tasks   map[string]*taskRow
	logbook *logbook.Logbook
	cancel  func()
	spinner spinner.Model

	url         string
	ready       bool
	runID       string
	rebuilds    int
	lastRebuild *watch.RebuildCompleted
	exited      bool
	exitErr     error
	statusMsg   string

	width  int
	height int
}

// NewApp creates the dashboard for a target's stages.
func NewApp(target string, stages [][]string, opts ...AppOption) *App {
	a := &App{
		target:    target,
		stages:    stages,
		tasks:     make(map[string]*taskRow),
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(labelStyleRunning)),
		statusMsg: "Building...",
	}
	for _, stage := range stages {
		for _, name := range stage {
			a.tasks[name] = &taskRow{state: scheduler.StatePending}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Sink forwards build and watch notifications to a running program.
type Sink struct {
	program *tea.Program
}

// NewSink wraps p.
func NewSink(p *tea.Program) *Sink {
	return &Sink{program: p}
}

// Observe is a scheduler observer.
func (s *Sink) Observe(ev scheduler.TaskEvent) { s.program.Send(TaskEventMsg(ev)) }

// Rebuilt is a watch rebuild handler.
func (s *Sink) Rebuilt(ev watch.RebuildCompleted) { s.program.Send(RebuildMsg(ev)) }

// Ready reports the server URL.
func (s *Sink) Ready(url string) { s.program.Send(ReadyMsg{URL: url}) }

// Exited reports the end of serving.
func (s *Sink) Exited(err error) { s.program.Send(ExitedMsg{Err: err}) }

// Init starts the spinner.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update folds a message into the model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			a.statusMsg = "Stopping..."
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case TaskEventMsg:
		a.applyTaskEvent(scheduler.TaskEvent(msg))
		return a, nil

	case RebuildMsg:
		ev := watch.RebuildCompleted(msg)
		a.rebuilds++
		a.lastRebuild = &ev
		if ev.Success {
			a.statusMsg = fmt.Sprintf("Rebuilt %s · %d file(s) written", strings.Join(ev.Tasks, ", "), len(ev.Changed))
		} else {
			a.statusMsg = fmt.Sprintf("Rebuild of %s failed", strings.Join(ev.Tasks, ", "))
		}
		return a, nil

	case ReadyMsg:
		a.ready = true
		a.url = msg.URL
		a.statusMsg = "Watching for changes."
		return a, nil

	case ExitedMsg:
		a.exited = true
		a.exitErr = msg.Err
		if msg.Err != nil {
			a.statusMsg = fmt.Sprintf("Stopped: %v", msg.Err)
		} else {
			a.statusMsg = "Stopped."
		}
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) applyTaskEvent(ev scheduler.TaskEvent) {
	// Rows outside the current run keep the result of their last run.
	a.runID = ev.RunID
	row, ok := a.tasks[ev.Task]
	if !ok {
		row = &taskRow{}
		a.tasks[ev.Task] = row
		a.stages = append(a.stages, []string{ev.Task})
	}
	row.state = ev.State
	switch ev.State {
	case scheduler.StateRunning:
		row.started = ev.Time
		row.upToDate = false
		row.err = nil
		row.duration = 0
	case scheduler.StateSucceeded, scheduler.StateFailed:
		row.upToDate = ev.UpToDate
		row.err = ev.Err
		if !row.started.IsZero() && !ev.Time.IsZero() {
			row.duration = ev.Time.Sub(row.started)
		}
	}
}

// Err returns the error serving stopped with, if any.
func (a *App) Err() error { return a.exitErr }

// View renders the board.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
		rightWidth = 0
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ ASSETFLOW · " + a.target)

	leftBox := boxStyle.Width(max(20, leftWidth)).Render(a.renderStages(leftWidth - 4))
	body := leftBox
	if rightWidth > 0 {
		rightBox := boxStyle.Width(max(20, rightWidth)).Render(a.renderServerPanel(rightWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	}
	sections := []string{header, body}
	if panel := a.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg + "  ·  q quit")
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderStages(width int) string {
	var lines []string
	for idx, stage := range a.stages {
		lines = append(lines, detailTextStyle.Render(fmt.Sprintf("stage %d", idx+1)))
		for _, name := range stage {
			lines = append(lines, a.renderTaskLine(name))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No tasks.")
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
}

func (a *App) renderTaskLine(name string) string {
	row := a.tasks[name]
	if row == nil {
		return "  " + name
	}
	label, style := taskLabel(row)
	if row.state == scheduler.StateRunning {
		label = a.spinner.View() + " " + label
	}
	line := fmt.Sprintf("  %-22s %s", name, style.Render(label))
	if row.duration > 0 {
		line += detailTextStyle.Render(" " + humanizeDuration(row.duration))
	}
	if row.err != nil {
		line += "\n    " + labelStyleFailed.Render(firstLine(row.err.Error()))
	}
	return line
}

func taskLabel(row *taskRow) (string, lipgloss.Style) {
	switch row.state {
	case scheduler.StateRunning:
		return "Running", labelStyleRunning
	case scheduler.StateFailed:
		return "Failed", labelStyleFailed
	case scheduler.StateSucceeded:
		if row.upToDate {
			return "Up to date", labelStyleFresh
		}
		return "Built", labelStyleDone
	default:
		return "Pending", labelStyleDefault
	}
}

func (a *App) renderServerPanel(width int) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render("SERVER")
	var lines []string
	switch {
	case !a.ready:
		lines = append(lines, a.spinner.View()+" starting")
	case a.url == "":
		lines = append(lines, "disabled")
	default:
		lines = append(lines, a.url)
	}
	lines = append(lines, "", fmt.Sprintf("Rebuilds: %d", a.rebuilds))
	if ev := a.lastRebuild; ev != nil {
		label, style := "ok", labelStyleDone
		if !ev.Success {
			label, style = "failed", labelStyleFailed
		}
		lines = append(lines, fmt.Sprintf("Last: %s %s", strings.Join(ev.Tasks, ", "), style.Render(label)))
		for _, src := range ev.Sources {
			lines = append(lines, detailTextStyle.Render("  ← "+filepath.Base(src)))
		}
	}
	body := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"))
	return lipgloss.NewStyle().Width(max(20, width)).Render(body)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
