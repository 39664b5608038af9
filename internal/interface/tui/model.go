// Package tui renders a running sync session: a bubbletea display for
// terminals and a line-oriented console for everything else.
package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

const maxLogLines = 500

// SyncOptions wires the live display to one session
type SyncOptions struct {
	Events    *events.Subscription
	Level     slog.Level // Minimum level shown in the log panel
	SessionID string
	Source    string
	Target    string
	Interrupt func() // Called on ctrl+c
	Prompter  *Prompter
}

// jobRow is the latest progress of one job on one machine
type jobRow struct {
	job    string
	role   models.MachineRole
	step   int
	update models.ProgressUpdate
}

// SyncModel is the bubbletea model of a running sync
type SyncModel struct {
	opts    SyncOptions
	width   int
	height  int
	spinner spinner.Model
	bar     progress.Model

	conn    events.ConnectionEvent
	hasConn bool

	step    int
	total   int
	current string

	rows  map[string]*jobRow
	order []string
	logs  []string

	prompt   *promptMsg
	stopping bool
	done     bool
}

func NewSyncModel(opts SyncOptions) SyncModel {
	return SyncModel{
		opts:    opts,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		rows:    make(map[string]*jobRow),
	}
}

func (m SyncModel) Init() tea.Cmd {
	cmds := []tea.Cmd{listen(m.opts.Events), m.spinner.Tick}
	if m.opts.Prompter != nil {
		cmds = append(cmds, waitForPrompt(m.opts.Prompter))
	}
	return tea.Batch(cmds...)
}

func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(max(msg.Width-50, 10), 40)
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(msg.event)
		return m, listen(m.opts.Events)

	case promptMsg:
		m.prompt = &msg
		return m, nil

	case busClosedMsg:
		m.done = true
		m.answer(false)
		return m, tea.Quit
	}

	return m, nil
}

func (m SyncModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompt != nil {
		switch msg.String() {
		case "y", "Y":
			m.answer(true)
		case "n", "N", "enter", "esc":
			m.answer(false)
		case "ctrl+c":
			m.answer(false)
			m.interrupt()
		default:
			return m, nil
		}
		if m.opts.Prompter == nil {
			return m, nil
		}
		return m, waitForPrompt(m.opts.Prompter)
	}

	if msg.String() == "ctrl+c" {
		m.interrupt()
	}
	return m, nil
}

// answer replies to the open question, if any
func (m *SyncModel) answer(ok bool) {
	if m.prompt == nil {
		return
	}
	m.prompt.reply <- ok
	m.prompt = nil
}

func (m *SyncModel) interrupt() {
	if m.stopping {
		return
	}
	m.stopping = true
	if m.opts.Interrupt != nil {
		m.opts.Interrupt()
	}
}

func (m *SyncModel) handleEvent(e events.Event) {
	switch ev := e.(type) {
	case events.LogEvent:
		m.handleRecord(ev.Record)
	case events.ProgressEvent:
		key := ev.Job + "/" + string(ev.Role)
		row, ok := m.rows[key]
		if !ok {
			row = &jobRow{job: ev.Job, role: ev.Role}
			m.rows[key] = row
			m.order = append(m.order, key)
		}
		row.step = ev.Step
		row.update = ev.Update
		if ev.Step > 0 {
			m.step, m.total, m.current = ev.Step, ev.TotalSteps, ev.Job
		}
	case events.ConnectionEvent:
		m.conn = ev
		m.hasConn = true
	}
}

func (m *SyncModel) handleRecord(rec models.LogRecord) {
	// The record announcing a job carries its place in the sequence
	if step, total, ok := stepAttrs(rec.Attrs); ok {
		m.step, m.total, m.current = step, total, rec.Job
	}
	if rec.Level < m.opts.Level {
		return
	}
	style := levelStyle(rec.Level)
	lines := strings.Split(recordBody(rec), "\n")
	for i, line := range lines {
		prefix := rec.Time.Local().Format("15:04:05") + " " + style.Render(fmt.Sprintf("%-8s", models.LevelName(rec.Level)))
		if i > 0 {
			prefix = strings.Repeat(" ", 18)
		}
		m.logs = append(m.logs, prefix+" "+line)
	}
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func stepAttrs(attrs []slog.Attr) (step, total int, ok bool) {
	var hasStep, hasTotal bool
	for _, a := range attrs {
		v := a.Value.Resolve()
		if v.Kind() != slog.KindInt64 {
			continue
		}
		switch a.Key {
		case "step":
			step, hasStep = int(v.Int64()), true
		case "total":
			total, hasTotal = int(v.Int64()), true
		}
	}
	return step, total, hasStep && hasTotal && step > 0
}

func (m SyncModel) View() string {
	var b strings.Builder

	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	if m.total > 0 {
		b.WriteString(stepStyle.Render(fmt.Sprintf("Step %d/%d", m.step, m.total)))
		b.WriteString("  ")
		b.WriteString(jobStyle.Render(m.current))
	} else {
		b.WriteString(m.spinner.View() + " preparing")
	}
	b.WriteString("\n\n")

	rows := m.visibleRows()
	for _, row := range rows {
		b.WriteString(m.viewRow(row))
		b.WriteString("\n")
	}
	if len(rows) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render("Log"))
	b.WriteString("\n")
	for _, line := range m.tail(len(rows)) {
		b.WriteString(m.fit(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	b.WriteString("\n")
	return b.String()
}

func (m SyncModel) viewHeader() string {
	header := titleStyle.Render("pcswitcher sync") +
		"  session " + m.opts.SessionID + "  " +
		hostStyle.Render(m.opts.Source) + " → " + hostStyle.Render(m.opts.Target)
	if m.hasConn {
		status := "● " + string(m.conn.Status)
		if m.conn.Latency > 0 {
			status += " " + m.conn.Latency.Round(time.Millisecond).String()
		}
		header += "  " + connectionStyle(m.conn.Status).Render(status)
	}
	return m.fit(header)
}

// visibleRows returns the current step's rows and the background jobs
func (m SyncModel) visibleRows() []*jobRow {
	var rows []*jobRow
	for _, key := range m.order {
		row := m.rows[key]
		if row.step == 0 || row.step == m.step {
			rows = append(rows, row)
		}
	}
	return rows
}

func (m SyncModel) viewRow(row *jobRow) string {
	name := jobStyle.Render(fmt.Sprintf("%-20s", row.job)) + " " + roleStyle.Render(fmt.Sprintf("%-6s", row.role))
	label := progressLabel(row.update)
	if f, ok := row.update.Fraction(); ok {
		return m.fit("  " + name + " " + m.bar.ViewAs(f) + "  " + label)
	}
	if label == "" {
		label = "working"
	}
	return m.fit("  " + name + " " + m.spinner.View() + " " + label)
}

// tail returns as many recent log lines as fit below the progress rows
func (m SyncModel) tail(rows int) []string {
	n := 10
	if m.height > 0 {
		n = m.height - rows - 9
	}
	n = max(n, 3)
	if len(m.logs) <= n {
		return m.logs
	}
	return m.logs[len(m.logs)-n:]
}

func (m SyncModel) viewFooter() string {
	switch {
	case m.prompt != nil:
		return promptStyle.Render(m.prompt.question + " [y/n]")
	case m.done:
		return helpStyle.Render("session finished")
	case m.stopping:
		return helpStyle.Render(m.spinner.View() + " stopping, waiting for running jobs to finish...")
	}
	return helpStyle.Render("ctrl+c stop")
}

// fit truncates a styled line to the terminal width
func (m SyncModel) fit(line string) string {
	if m.width <= 0 {
		return line
	}
	return ansi.Truncate(line, m.width, "…")
}
