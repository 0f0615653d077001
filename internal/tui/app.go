// Package tui provides the interactive terminal task board for escrowd.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/escrowd/internal/client"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

type mode int

const (
	modeList mode = iota
	modeDetail
)

// chromeHeight is the number of rows used by the header, command bar and
// status bar.
const chromeHeight = 5

const refreshInterval = 5 * time.Second

// App is the main TUI application model.
type App struct {
	client       *client.Client
	list         *TaskListModel
	detail       *TaskDetailModel
	cmdbar       *CmdBarModel
	mode         mode
	width        int
	height       int
	daemonOnline bool
	platform     *models.Platform
	message      string
}

// New creates a new TUI application. c's identity signs commands; with no
// identity the board is read-only.
func New(c *client.Client) *App {
	return &App{
		client: c,
		list:   NewTaskListModel(c),
		detail: NewTaskDetailModel(c),
		cmdbar: NewCmdBarModel(),
		mode:   modeList,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.list.Refresh(),
		a.checkDaemon(),
		tick(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.cmdbar.Focused() {
			if msg.String() == "enter" {
				input := strings.TrimSpace(a.cmdbar.Submit())
				return a, a.cmdbar.Execute(a.client, input, a.selected())
			}
			var cmd tea.Cmd
			a.cmdbar, cmd = a.cmdbar.Update(msg)
			return a, cmd
		}

		switch msg.String() {
		case "q":
			return a, tea.Quit
		case ":":
			return a, a.cmdbar.Focus()
		case "esc":
			if a.mode == modeDetail {
				a.mode = modeList
				return a, a.list.Refresh()
			}
		case "tab":
			if a.mode == modeList {
				a.list.CycleFilter()
				return a, a.list.Refresh()
			}
		case "enter":
			if a.mode == modeList {
				if sel := a.list.SelectedTask(); sel != nil {
					a.mode = modeDetail
					a.detail.SetTask(sel.Address)
					return a, a.detail.Refresh()
				}
			}
		case "r":
			return a, a.refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		body := max(msg.Height-chromeHeight, 3)
		a.list.SetSize(msg.Width, body)
		a.detail.SetSize(msg.Width, body)
		return a, nil

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		if msg.platform != nil {
			a.platform = msg.platform
		}
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.checkDaemon(), a.refresh(), tick())

	case cmdResultMsg:
		a.cmdbar, _ = a.cmdbar.Update(msg)
		if msg.changed {
			return a, a.refresh()
		}
		return a, nil

	case tasksLoadedMsg:
		a.message = ""
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd

	case taskDetailLoadedMsg:
		a.message = ""
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd

	case errMsg:
		if a.mode == modeDetail && isNotFound(msg.err) {
			// Settled, cancelled and expired tasks are closed.
			a.mode = modeList
			a.message = "Task " + a.detail.Address().Short() + " is closed"
			return a, a.list.Refresh()
		}
		a.message = "Error: " + msg.err.Error()
	}

	switch a.mode {
	case modeList:
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		cmds = append(cmds, cmd)
	case modeDetail:
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		cmds = append(cmds, cmd)
	}
	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.header() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	switch a.mode {
	case modeList:
		b.WriteString(a.list.View())
	case modeDetail:
		b.WriteString(a.detail.View())
	}
	b.WriteString("\n")

	if a.message != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(errorColor).Render(a.message))
	}
	b.WriteString("\n")
	b.WriteString(a.cmdbar.View() + "\n")

	var status string
	switch a.mode {
	case modeList:
		status = " ↑↓:nav | Enter:open | Tab:filter | ::command | r:refresh | q:quit"
	case modeDetail:
		status = " ↑↓:scroll | Esc:back | ::command | r:refresh | q:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

func (a *App) header() string {
	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}

	who := mutedStyle.Render("○ read-only")
	if id := a.client.Identity(); id != nil {
		who = lipgloss.NewStyle().Foreground(successColor).Render("● " + id.Address().Short())
	}

	header := titleStyle.Render("escrowd") + "  " + daemon + "  " + who
	if p := a.platform; p != nil {
		info := fmt.Sprintf("[fee %d bps • min %d • settled %d]", p.FeeBps, p.MinBounty, p.TotalSettled)
		if p.Paused {
			info += " PAUSED"
		}
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(info)
	}
	return header
}

// selected is the task commands act on: the open detail view, else the
// highlighted row.
func (a *App) selected() *escrow.TaskEntry {
	if a.mode == modeDetail {
		if t := a.detail.Task(); t != nil {
			return t
		}
	}
	return a.list.SelectedTask()
}

func (a *App) refresh() tea.Cmd {
	if a.mode == modeDetail {
		return a.detail.Refresh()
	}
	return a.list.Refresh()
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := a.client.Health(ctx); err != nil {
			return daemonStatusMsg{online: false}
		}
		p, _ := a.client.Platform(ctx)
		return daemonStatusMsg{online: true, platform: p}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type errMsg struct {
	err error
}

type daemonStatusMsg struct {
	online   bool
	platform *models.Platform
}

type tickMsg time.Time
