package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/escrowd/internal/client"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusOpen      = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusClaimed   = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // Blue
	statusSubmitted = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusDone      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusRejected  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	statusDisputed  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")) // Magenta
)

// TaskItem implements list.Item for the task board.
type TaskItem struct {
	Entry escrow.TaskEntry
}

func (i TaskItem) FilterValue() string { return i.Entry.Task.Title }
func (i TaskItem) Title() string {
	if i.Entry.Task.Title == "" {
		return i.Entry.Address.Short()
	}
	return i.Entry.Task.Title
}
func (i TaskItem) Description() string {
	t := i.Entry.Task
	desc := fmt.Sprintf("%s • %d escrowed", formatStatus(t.Status), i.Entry.Balance)
	if t.HasAgent() {
		desc += " • agent " + t.Agent.Short()
	}
	return desc
}

func formatStatus(status models.TaskStatus) string {
	label := "● " + string(status)
	switch status {
	case models.TaskStatusOpen:
		return statusOpen.Render(label)
	case models.TaskStatusClaimed:
		return statusClaimed.Render(label)
	case models.TaskStatusSubmitted:
		return statusSubmitted.Render(label)
	case models.TaskStatusApproved:
		return statusDone.Render(label)
	case models.TaskStatusRejected, models.TaskStatusExpired, models.TaskStatusCancelled:
		return statusRejected.Render(label)
	case models.TaskStatusDisputed:
		return statusDisputed.Render(label)
	default:
		return string(status)
	}
}

// TaskListModel manages the task board screen
type TaskListModel struct {
	client      *client.Client
	list        list.Model
	tasks       []escrow.TaskEntry
	filterIndex int
	loading     bool
}

var filters = []models.TaskStatus{
	"",
	models.TaskStatusOpen,
	models.TaskStatusClaimed,
	models.TaskStatusSubmitted,
	models.TaskStatusRejected,
	models.TaskStatusDisputed,
}

// NewTaskListModel creates a new task list model
func NewTaskListModel(c *client.Client) *TaskListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Tasks [all]"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(false)
	l.Styles.Title = listTitleStyle

	return &TaskListModel{
		client: c,
		list:   l,
	}
}

// SetSize sets the list dimensions
func (m *TaskListModel) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// Filter returns the active status filter; empty means all.
func (m *TaskListModel) Filter() models.TaskStatus {
	return filters[m.filterIndex]
}

// SelectedTask returns the highlighted task, if any.
func (m *TaskListModel) SelectedTask() *escrow.TaskEntry {
	if item, ok := m.list.SelectedItem().(TaskItem); ok {
		entry := item.Entry
		return &entry
	}
	return nil
}

// CycleFilter cycles through status filters
func (m *TaskListModel) CycleFilter() {
	m.filterIndex = (m.filterIndex + 1) % len(filters)
	label := string(m.Filter())
	if label == "" {
		label = "all"
	}
	m.list.Title = fmt.Sprintf("Tasks [%s]", label)
}

// Refresh fetches tasks from the API
func (m *TaskListModel) Refresh() tea.Cmd {
	m.loading = true
	filter := escrow.TaskFilter{Status: m.Filter()}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()
		tasks, err := m.client.ListTasks(ctx, filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

// Update handles messages
func (m *TaskListModel) Update(msg tea.Msg) (*TaskListModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tasksLoadedMsg:
		m.loading = false
		m.tasks = msg.tasks
		items := make([]list.Item, len(m.tasks))
		for i, t := range m.tasks {
			items[i] = TaskItem{Entry: t}
		}
		return m, m.list.SetItems(items)
	case errMsg:
		m.loading = false
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list
func (m *TaskListModel) View() string {
	if m.loading && len(m.tasks) == 0 {
		return "Loading tasks..."
	}
	return m.list.View()
}

type tasksLoadedMsg struct {
	tasks []escrow.TaskEntry
}
