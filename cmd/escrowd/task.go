package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage escrowed tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task and escrow its bounty",
	RunE:  runTaskCreate,
}

var taskFromTemplateCmd = &cobra.Command{
	Use:   "from-template [template]",
	Short: "Create a task from a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskFromTemplate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim [task]",
	Short: "Claim an open task as an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit [task]",
	Short: "Submit a deliverable for a claimed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSubmit,
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve [task]",
	Short: "Approve the deliverable and pay the agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskApprove,
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject [task]",
	Short: "Reject the deliverable",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReject,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task]",
	Short: "Cancel an unclaimed task and refund the bounty",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskRefund(cmd, args[0], false)
	},
}

var taskExpireCmd = &cobra.Command{
	Use:   "expire [task]",
	Short: "Expire an overdue task and refund the creator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskRefund(cmd, args[0], true)
	},
}

var (
	taskTitle      string
	taskBounty     uint64
	taskIndex      int64
	taskDeadline   time.Duration
	taskReputation int64
	taskStatus     string
	taskCreator    string
	taskAgent      string
	taskMinBounty  uint64
	taskLimit      int
	hashHex        string
	hashFile       string
	hashText       string
)

func init() {
	taskCmd.AddCommand(taskCreateCmd, taskFromTemplateCmd, taskListCmd, taskShowCmd, taskClaimCmd,
		taskSubmitCmd, taskApproveCmd, taskRejectCmd, taskCancelCmd, taskExpireCmd)

	for _, c := range []*cobra.Command{taskCreateCmd, taskFromTemplateCmd} {
		c.Flags().Uint64Var(&taskBounty, "bounty", 0, "Bounty to escrow")
		c.Flags().Int64Var(&taskIndex, "index", -1, "Creator task index (default: next free index)")
		c.Flags().DurationVar(&taskDeadline, "deadline", 24*time.Hour, "Time from now until the deadline")
		c.Flags().Int64Var(&taskReputation, "reputation", 10, "Reputation awarded on approval")
	}
	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskCreateCmd.Flags().StringVar(&hashText, "desc", "", "Task description, stored as its hash")
	taskCreateCmd.Flags().StringVar(&hashFile, "desc-file", "", "File whose hash describes the task")
	taskCreateCmd.MarkFlagRequired("title")
	taskCreateCmd.MarkFlagRequired("bounty")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (open, claimed, submitted, rejected, disputed)")
	taskListCmd.Flags().StringVar(&taskCreator, "creator", "", "Filter by creator (address or me)")
	taskListCmd.Flags().StringVar(&taskAgent, "agent", "", "Filter by agent (address or me)")
	taskListCmd.Flags().Uint64Var(&taskMinBounty, "min-bounty", 0, "Only tasks with at least this bounty")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 0, "Maximum tasks to list")

	for _, c := range []*cobra.Command{taskSubmitCmd, taskRejectCmd} {
		c.Flags().StringVar(&hashHex, "hash", "", "Hex content hash")
		c.Flags().StringVar(&hashFile, "file", "", "File to hash")
		c.Flags().StringVar(&hashText, "text", "", "Text to hash")
	}
}

// nextTaskIndex returns --index, or the creator's counter as stored on the
// ledger. The engine refuses an index that does not match it.
func nextTaskIndex(cmd *cobra.Command, creator models.Address) (uint64, error) {
	if taskIndex >= 0 {
		return uint64(taskIndex), nil
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()

	counter, err := readClient().CreatorCounter(ctx, creator)
	if err != nil {
		return 0, err
	}
	return counter.TaskCount, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	c, err := signingClient()
	if err != nil {
		return err
	}
	desc, err := contentHash("", hashFile, hashText)
	if err != nil {
		return err
	}
	index, err := nextTaskIndex(cmd, c.Identity().Address())
	if err != nil {
		return err
	}

	ctx, cancel := apiContext(cmd)
	defer cancel()
	addr, err := c.CreateTask(ctx, escrow.CreateTaskParams{
		Title:            taskTitle,
		DescriptionHash:  desc,
		Bounty:           taskBounty,
		TaskIndex:        index,
		Deadline:         time.Now().Add(taskDeadline).Unix(),
		ReputationReward: taskReputation,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created task: %s\n", addr)
	return nil
}

func runTaskFromTemplate(cmd *cobra.Command, args []string) error {
	tmpl, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	index, err := nextTaskIndex(cmd, c.Identity().Address())
	if err != nil {
		return err
	}

	ctx, cancel := apiContext(cmd)
	defer cancel()
	addr, err := c.CreateTaskFromTemplate(ctx, escrow.TemplateTaskParams{
		Template:         tmpl,
		Bounty:           taskBounty,
		TaskIndex:        index,
		Deadline:         time.Now().Add(taskDeadline).Unix(),
		ReputationReward: taskReputation,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created task: %s\n", addr)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	filter := escrow.TaskFilter{
		Status:    models.TaskStatus(taskStatus),
		MinBounty: taskMinBounty,
		Limit:     taskLimit,
	}
	var err error
	if taskCreator != "" {
		if filter.Creator, err = parseAddr(taskCreator); err != nil {
			return err
		}
	}
	if taskAgent != "" {
		if filter.Agent, err = parseAddr(taskAgent); err != nil {
			return err
		}
	}

	ctx, cancel := apiContext(cmd)
	defer cancel()
	tasks, err := readClient().ListTasks(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTITLE\tSTATUS\tBOUNTY\tDEADLINE\tAGENT")
	for _, t := range tasks {
		agent := "-"
		if t.Task.HasAgent() {
			agent = t.Task.Agent.Short()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.Address.Short(), truncate(t.Task.Title, 40), t.Task.Status, t.Task.Bounty, formatUnix(t.Task.Deadline), agent)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	entry, err := readClient().Task(ctx, addr)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(entry)
	}

	t := entry.Task
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Address:\t%s\n", entry.Address)
	fmt.Fprintf(w, "Title:\t%s\n", t.Title)
	fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	fmt.Fprintf(w, "Creator:\t%s\n", t.Creator)
	if t.HasAgent() {
		fmt.Fprintf(w, "Agent:\t%s\n", t.Agent)
	}
	fmt.Fprintf(w, "Bounty:\t%d (escrowed %d)\n", t.Bounty, entry.Balance)
	fmt.Fprintf(w, "Deadline:\t%s\n", formatUnix(t.Deadline))
	fmt.Fprintf(w, "Created:\t%s\n", formatUnix(t.CreatedAt))
	fmt.Fprintf(w, "Reputation reward:\t%d\n", t.ReputationReward)
	if !t.DescriptionHash.IsZero() {
		fmt.Fprintf(w, "Description hash:\t%s\n", t.DescriptionHash)
	}
	if !t.DeliverableHash.IsZero() {
		fmt.Fprintf(w, "Deliverable hash:\t%s\n", t.DeliverableHash)
	}
	if t.RejectionCount > 0 {
		fmt.Fprintf(w, "Rejections:\t%d\n", t.RejectionCount)
	}
	return w.Flush()
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.ClaimTask(ctx, addr); err != nil {
		return err
	}
	fmt.Printf("Claimed task %s\n", addr.Short())
	return nil
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	h, err := contentHash(hashHex, hashFile, hashText)
	if err != nil {
		return err
	}
	if h.IsZero() {
		return fmt.Errorf("one of --hash, --file or --text is required")
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.SubmitDeliverable(ctx, addr, h); err != nil {
		return err
	}
	fmt.Printf("Submitted deliverable %s\n", h)
	return nil
}

func runTaskApprove(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	st, err := c.ApproveAndSettle(ctx, addr)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(st)
	}
	fmt.Printf("Settled: %d to %s, %d fee\n", st.Payout, st.Agent.Short(), st.Fee)
	return nil
}

func runTaskReject(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	h, err := contentHash(hashHex, hashFile, hashText)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.RejectSubmission(ctx, addr, h); err != nil {
		return err
	}
	fmt.Println("Submission rejected")
	return nil
}

func runTaskRefund(cmd *cobra.Command, arg string, expire bool) error {
	addr, err := parseAddr(arg)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()

	var refund uint64
	verb := "Cancelled"
	if expire {
		verb = "Expired"
		refund, err = c.ExpireTask(ctx, addr)
	} else {
		refund, err = c.CancelTask(ctx, addr)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s task %s, %d refunded\n", verb, addr.Short(), refund)
	return nil
}
