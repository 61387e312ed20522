// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/motor"
)

const monitorTickInterval = 200 * time.Millisecond

// Focus targets
const (
	focusModeList = iota
	focusTarget
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// modeItem is one row of the mode list
type modeItem struct {
	desc lpf2.ModeDescriptor
}

func (i modeItem) Title() string { return fmt.Sprintf("%d %s", i.desc.ID, i.desc.Name) }
func (i modeItem) Description() string {
	if !i.desc.Has(lpf2.FieldFormat) {
		return "no format"
	}
	return fmt.Sprintf("%dx%s %s", i.desc.Format.Datasets, i.desc.Format.Type, i.desc.Symbol)
}
func (i modeItem) FilterValue() string { return i.desc.Name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	dev      *lpf2.Device
	ctrl     *motor.Controller // nil unless the device is a motor
	connInfo string

	modeList list.Model
	target   textinput.Model
	spinner  spinner.Model
	focus    int

	latest   lpf2.Reading
	counters lpf2.Counters
	moving   bool
	motor    motor.State

	eventLog      []eventLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type modeSelectedMsg struct {
	mode int
	err  error
}

type moveDoneMsg struct {
	target float64
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(ctx context.Context, dev *lpf2.Device, ctrl *motor.Controller, connInfo string) monitorModel {
	modes := dev.Modes()
	items := make([]list.Item, len(modes))
	for i, d := range modes {
		items[i] = modeItem{desc: d}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	modeList := list.New(items, delegate, 28, 12)
	modeList.Title = "Modes"
	modeList.SetShowStatusBar(false)
	modeList.SetShowHelp(false)
	modeList.SetFilteringEnabled(false)
	modeList.DisableQuitKeybindings()
	modeList.Select(dev.SelectedMode())

	ti := textinput.New()
	ti.Placeholder = "90"
	ti.CharLimit = 7
	ti.Width = 10

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		ctx:           ctx,
		dev:           dev,
		ctrl:          ctrl,
		connInfo:      connInfo,
		modeList:      modeList,
		target:        ti,
		spinner:       sp,
		focus:         focusModeList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.spinner.Tick)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorTickInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - 14
		if listHeight < 6 {
			listHeight = 6
		}
		m.modeList.SetSize(28, listHeight)

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case modeSelectedMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Select mode %d: %v", msg.mode, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Selected mode %d", msg.mode), false)
		}

	case moveDoneMsg:
		m.moving = false
		if m.ctrl != nil {
			m.motor = m.ctrl.State()
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Move to %g: %v", msg.target, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Reached %g (error %+.0f)", msg.target, m.motor.Error), false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focus == focusTarget {
		switch msg.String() {
		case "esc", "tab":
			m.focus = focusModeList
			m.target.Blur()
			return m, nil
		case "enter":
			return m.startMove()
		}
		var cmd tea.Cmd
		m.target, cmd = m.target.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		if m.ctrl != nil {
			m.focus = focusTarget
			return m, m.target.Focus()
		}
		return m, nil
	case "enter":
		if item, ok := m.modeList.SelectedItem().(modeItem); ok {
			return m, m.selectModeCmd(item.desc.ID)
		}
		return m, nil
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		id := int(msg.String()[0] - '0')
		if _, ok := m.dev.Mode(id); ok {
			m.modeList.Select(id)
			return m, m.selectModeCmd(id)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.modeList, cmd = m.modeList.Update(msg)
	return m, cmd
}

// refresh copies the device's latest values and statistics into the model.
func (m *monitorModel) refresh() {
	r := m.dev.Latest()
	if r.Valid() && r.Seq != m.latest.Seq {
		if d, ok := m.dev.Mode(r.Mode); ok {
			for _, v := range lpf2.ValidateReading(d, r.Values) {
				m.addLogEntry(v.Message, true)
			}
		}
	}
	m.latest = r
	m.counters = m.dev.Statistics().Snapshot()
	if m.ctrl != nil && m.moving {
		m.motor = m.ctrl.State()
	}
}

func (m monitorModel) selectModeCmd(mode int) tea.Cmd {
	dev := m.dev
	return func() tea.Msg {
		return modeSelectedMsg{mode: mode, err: dev.SelectMode(mode)}
	}
}

func (m monitorModel) startMove() (tea.Model, tea.Cmd) {
	if m.moving {
		return m, nil
	}
	target, err := strconv.ParseFloat(strings.TrimSpace(m.target.Value()), 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid target %q", m.target.Value()), true)
		return m, nil
	}

	m.moving = true
	m.target.Reset()
	m.addLogEntry(fmt.Sprintf("Moving to %g", target), false)

	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		return moveDoneMsg{target: target, err: ctrl.MoveTo(ctx, target)}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	info := m.dev.Info()

	var s strings.Builder
	s.WriteString(titleStyle.Render("LPF2 MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Type %d | FW %s | HW %s | Press 'q' to quit",
		m.connInfo, info.TypeID, info.FirmwareVersion, info.HardwareVersion)))
	s.WriteString("\n\n")

	right := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(m.readingView()),
		boxStyle.Render(m.statsView()),
	)
	if m.ctrl != nil {
		right = lipgloss.JoinVertical(lipgloss.Left, right, boxStyle.Render(m.motorView()))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.modeList.View(), "  ", right))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView()))

	return s.String()
}

func (m monitorModel) readingView() string {
	mode := m.dev.SelectedMode()
	d, _ := m.dev.Mode(mode)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Mode:"),
		statsValueStyle.Render(fmt.Sprintf("%d %s", mode, d.Name))))

	if !m.latest.Valid() || m.latest.Mode != mode {
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), warningStyle.Render("Waiting for values...")))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Values:"),
		statsValueStyle.Render(lpf2.FormatValues(m.latest.Values, d.Symbol))))
	b.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Age:"),
		headerStyle.Render(time.Since(m.latest.At).Round(time.Millisecond).String())))
	return b.String()
}

func (m monitorModel) statsView() string {
	c := m.counters
	var validPercent, errorPercent float64
	if c.TotalPolls > 0 {
		validPercent = float64(c.ValidFrames) * 100.0 / float64(c.TotalPolls)
		errorPercent = float64(c.Errors()) * 100.0 / float64(c.TotalPolls)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d", c.TotalPolls)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", c.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", c.Errors(), errorPercent)),
	))

	if c.ChecksumErrors > 0 || c.ShortReads > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", c.ChecksumErrors)),
			statsLabelStyle.Render("Short:"), errorStyle.Render(fmt.Sprintf("%d", c.ShortReads)),
		))
	}
	if c.UnexpectedMode > 0 || c.EmptyPolls > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Stale mode:"), warningStyle.Render(fmt.Sprintf("%d", c.UnexpectedMode)),
			statsLabelStyle.Render("Empty:"), warningStyle.Render(fmt.Sprintf("%d", c.EmptyPolls)),
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", c.ErrorRate))
	if c.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", c.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Poll Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f polls/s", c.PollRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))
	return b.String()
}

func (m monitorModel) motorView() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Target:"), m.target.View()))

	phase := statsValueStyle.Render(m.motor.Phase.String())
	if m.moving {
		phase = m.spinner.View() + " " + warningStyle.Render(m.motor.Phase.String())
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Phase:"), phase,
		statsLabelStyle.Render("At:"), statsValueStyle.Render(fmt.Sprintf("%.0f", m.motor.Current)),
		statsLabelStyle.Render("Error:"), statsValueStyle.Render(fmt.Sprintf("%+.0f", m.motor.Error)),
	))
	if m.focus != focusTarget {
		b.WriteString("\n" + headerStyle.Render("Tab to enter a target angle"))
	}
	return b.String()
}

func (m monitorModel) logView() string {
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	if len(m.eventLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	start := len(m.eventLog) - logHeight
	if start < 0 {
		start = 0
	}
	for _, entry := range m.eventLog[start:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}
