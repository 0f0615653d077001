package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/escrowd/internal/client"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

const historyShown = 8

// TaskDetailModel shows one task, its dispute and its recent events.
type TaskDetailModel struct {
	client   *client.Client
	addr     models.Address
	task     *escrow.TaskEntry
	dispute  *escrow.DisputeEntry
	history  []events.Envelope
	viewport viewport.Model
	loading  bool
}

// NewTaskDetailModel creates a new task detail model
func NewTaskDetailModel(c *client.Client) *TaskDetailModel {
	return &TaskDetailModel{
		client:   c,
		viewport: viewport.New(80, 20),
	}
}

// SetTask sets the task to display
func (m *TaskDetailModel) SetTask(addr models.Address) {
	m.addr = addr
	m.task = nil
	m.dispute = nil
	m.history = nil
	m.viewport.SetContent("")
	m.viewport.GotoTop()
}

// Task returns the loaded task, if any.
func (m *TaskDetailModel) Task() *escrow.TaskEntry { return m.task }

// Address returns the address of the displayed task.
func (m *TaskDetailModel) Address() models.Address { return m.addr }

// SetSize sets the dimensions
func (m *TaskDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
}

// Refresh fetches task details
func (m *TaskDetailModel) Refresh() tea.Cmd {
	m.loading = true
	addr := m.addr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		task, err := m.client.Task(ctx, addr)
		if err != nil {
			return errMsg{err}
		}
		msg := taskDetailLoadedMsg{addr: addr, task: task}

		// Resolved disputes are closed, so a missing record is not an error.
		disputeAddr := models.DisputeAddress(addr)
		if d, err := m.client.Dispute(ctx, disputeAddr); err == nil {
			msg.dispute = d
		} else if !isNotFound(err) {
			return errMsg{err}
		}

		history, err := m.client.Events(ctx, events.Query{Subject: addr})
		if err != nil {
			return errMsg{err}
		}
		msg.history = history
		return msg
	}
}

func isNotFound(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

// Update handles messages
func (m *TaskDetailModel) Update(msg tea.Msg) (*TaskDetailModel, tea.Cmd) {
	switch msg := msg.(type) {
	case taskDetailLoadedMsg:
		if msg.addr != m.addr {
			return m, nil
		}
		m.loading = false
		m.task = msg.task
		m.dispute = msg.dispute
		m.history = msg.history
		m.viewport.SetContent(m.render())
		return m, nil
	case errMsg:
		m.loading = false
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the task detail
func (m *TaskDetailModel) View() string {
	if m.task == nil {
		return "Loading task details..."
	}
	return m.viewport.View()
}

func (m *TaskDetailModel) render() string {
	var b strings.Builder
	t := m.task.Task

	title := t.Title
	if title == "" {
		title = m.task.Address.Short()
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(renderField("Address", m.task.Address.String()))
	b.WriteString(renderField("Status", formatStatus(t.Status)))
	b.WriteString(renderField("Creator", t.Creator.String()))
	if t.HasAgent() {
		b.WriteString(renderField("Agent", t.Agent.String()))
	}
	b.WriteString(renderField("Bounty", fmt.Sprintf("%d (escrowed %d)", t.Bounty, m.task.Balance)))
	b.WriteString(renderField("Deadline", formatUnix(t.Deadline)))
	b.WriteString(renderField("Reputation", fmt.Sprintf("%d", t.ReputationReward)))
	if t.TemplateIndex > 0 {
		b.WriteString(renderField("Template", fmt.Sprintf("#%d", t.TemplateIndex-1)))
	}
	if !t.DeliverableHash.IsZero() {
		b.WriteString(renderField("Deliverable", t.DeliverableHash.String()))
	}
	if t.RejectionCount > 0 {
		b.WriteString(renderField("Rejections", fmt.Sprintf("%d of 3", t.RejectionCount)))
	}

	if d := m.dispute; d != nil {
		b.WriteString(sectionStyle.Render("Dispute"))
		b.WriteString("\n")
		b.WriteString(renderField("Reason", string(d.Dispute.Reason)))
		b.WriteString(renderField("Opened", formatUnix(d.Dispute.OpenedAt)))
		b.WriteString(renderField("Votes", fmt.Sprintf("creator %d • agent %d • split %d",
			d.Dispute.VotesForCreator, d.Dispute.VotesForAgent, d.Dispute.VotesForSplit)))
		for _, v := range d.Votes {
			b.WriteString(fmt.Sprintf("  • %s → %s\n", v.Arbitrator.Short(), v.Ruling))
		}
	}

	if len(m.history) > 0 {
		b.WriteString(sectionStyle.Render("History"))
		b.WriteString("\n")
		shown := m.history
		if len(shown) > historyShown {
			shown = shown[len(shown)-historyShown:]
		}
		for _, env := range shown {
			b.WriteString(fmt.Sprintf("  #%d %s %s\n", env.Seq, formatUnix(env.At), env.Name))
		}
	}

	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
}

type taskDetailLoadedMsg struct {
	addr    models.Address
	task    *escrow.TaskEntry
	dispute *escrow.DisputeEntry
	history []events.Envelope
}
