package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/escrowd/internal/client"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
)

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

const cmdHint = "Press : to enter command (claim, submit, approve, reject, cancel, expire, dispute, vote, resolve, faucet, register)"

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input   textinput.Model
	focused bool
	message string
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "Enter command..."
	ti.CharLimit = 256
	return &CmdBarModel{
		input: ti,
	}
}

// Focused reports whether the bar is taking input.
func (m *CmdBarModel) Focused() bool { return m.focused }

// Focus focuses the command bar
func (m *CmdBarModel) Focus() tea.Cmd {
	m.focused = true
	m.message = ""
	return m.input.Focus()
}

// Blur unfocuses the command bar
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Submit returns the current input and blurs
func (m *CmdBarModel) Submit() string {
	val := m.input.Value()
	m.Blur()
	return val
}

// Update handles messages
func (m *CmdBarModel) Update(msg tea.Msg) (*CmdBarModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "esc" {
			m.Blur()
			return m, nil
		}
	case cmdResultMsg:
		m.message = msg.message
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command bar
func (m *CmdBarModel) View() string {
	if m.focused {
		prompt := promptStyle.Render(": ")
		return cmdBarStyle.Render(prompt + m.input.View())
	}
	if m.message != "" {
		return cmdBarStyle.Render(m.message)
	}
	return cmdBarStyle.Render(cmdHint)
}

// Execute runs input against the selected task.
func (m *CmdBarModel) Execute(c *client.Client, input string, selected *escrow.TaskEntry) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()
		result, err := runCommand(ctx, c, parts[0], parts[1:], selected)
		if err != nil {
			return cmdResultMsg{message: fmt.Sprintf("Error: %v", err)}
		}
		return cmdResultMsg{message: result, changed: true}
	}
}

func runCommand(ctx context.Context, c *client.Client, name string, args []string, selected *escrow.TaskEntry) (string, error) {
	// Commands that do not act on a task.
	switch name {
	case "faucet":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: faucet <amount>")
		}
		amount, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid amount %q", args[0])
		}
		resp, err := c.Faucet(ctx, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Minted %d, balance %d", resp.Minted, resp.Balance), nil
	case "register":
		var skills uint64
		if len(args) > 0 {
			var err error
			if skills, err = strconv.ParseUint(args[0], 0, 8); err != nil {
				return "", fmt.Errorf("invalid skill bitmap %q", args[0])
			}
		}
		addr, err := c.RegisterAgent(ctx, uint8(skills))
		if err != nil {
			return "", err
		}
		return "Registered agent profile " + addr.Short(), nil
	}

	if selected == nil {
		return "", fmt.Errorf("no task selected")
	}
	task := selected.Address
	dispute := models.DisputeAddress(task)

	switch name {
	case "claim":
		return "Task claimed", c.ClaimTask(ctx, task)
	case "submit":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: submit <deliverable text or hash>")
		}
		return "Deliverable submitted", c.SubmitDeliverable(ctx, task, hashArg(args))
	case "approve":
		st, err := c.ApproveAndSettle(ctx, task)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Settled: %d to agent, %d fee", st.Payout, st.Fee), nil
	case "reject":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: reject <reason>")
		}
		return "Submission rejected", c.RejectSubmission(ctx, task, hashArg(args))
	case "cancel":
		refund, err := c.CancelTask(ctx, task)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cancelled, %d refunded", refund), nil
	case "expire":
		refund, err := c.ExpireTask(ctx, task)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Expired, %d refunded", refund), nil
	case "dispute":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: dispute <quality_issue|deadline_missed|plagiarism|other> [evidence]")
		}
		params := escrow.OpenDisputeParams{Task: task, Reason: models.DisputeReason(args[0])}
		if len(args) > 1 {
			params.EvidenceHash = hashArg(args[1:])
		}
		if _, err := c.OpenDispute(ctx, params); err != nil {
			return "", err
		}
		return "Dispute opened", nil
	case "vote":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: vote <creator|agent|split>")
		}
		return "Vote cast", c.CastVote(ctx, dispute, parseRuling(args[0]))
	case "resolve":
		res, err := c.ResolveDispute(ctx, dispute)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Resolved %s with %d votes", res.Ruling, res.TotalVotes), nil
	}
	return "", fmt.Errorf("unknown command: %s", name)
}

// hashArg reads a hex hash, or hashes the joined words.
func hashArg(args []string) models.Hash {
	joined := strings.Join(args, " ")
	if h, err := models.ParseHash(joined); err == nil {
		return h
	}
	return models.ContentHash([]byte(joined))
}

func parseRuling(s string) models.Ruling {
	switch s {
	case "creator":
		return models.RulingCreatorWins
	case "agent":
		return models.RulingAgentWins
	}
	return models.Ruling(s)
}

type cmdResultMsg struct {
	message string
	changed bool
}
