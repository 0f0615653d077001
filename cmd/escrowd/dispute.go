package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/spf13/cobra"
)

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Open, vote on and resolve disputes",
	Long: `Disputes are addressed by their task. Every subcommand takes the task
address and derives the dispute from it.`,
}

var disputeOpenCmd = &cobra.Command{
	Use:   "open [task]",
	Short: "Open a dispute on a submitted or rejected task",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisputeOpen,
}

var disputeShowCmd = &cobra.Command{
	Use:   "show [task]",
	Short: "Show a dispute and its votes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisputeShow,
}

var disputeVoteCmd = &cobra.Command{
	Use:   "vote [task] [creator|agent|split]",
	Short: "Vote on a dispute as an arbitrator",
	Args:  cobra.ExactArgs(2),
	RunE:  runDisputeVote,
}

var disputeResolveCmd = &cobra.Command{
	Use:   "resolve [task]",
	Short: "Resolve a dispute after voting closes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisputeResolve,
}

var disputeReason string

func init() {
	disputeCmd.AddCommand(disputeOpenCmd, disputeShowCmd, disputeVoteCmd, disputeResolveCmd)

	disputeOpenCmd.Flags().StringVar(&disputeReason, "reason", string(models.ReasonQualityIssue), "Reason (quality_issue, deadline_missed, plagiarism, other)")
	disputeOpenCmd.Flags().StringVar(&hashHex, "evidence", "", "Hex hash of the evidence")
	disputeOpenCmd.Flags().StringVar(&hashFile, "evidence-file", "", "File to hash as evidence")
	disputeOpenCmd.Flags().StringVar(&hashText, "evidence-text", "", "Text to hash as evidence")
}

// disputeOf maps a task argument to its dispute address.
func disputeOf(arg string) (models.Address, models.Address, error) {
	task, err := parseAddr(arg)
	if err != nil {
		return models.Address{}, models.Address{}, err
	}
	return task, models.DisputeAddress(task), nil
}

func parseRuling(s string) (models.Ruling, error) {
	switch s {
	case "creator", string(models.RulingCreatorWins):
		return models.RulingCreatorWins, nil
	case "agent", string(models.RulingAgentWins):
		return models.RulingAgentWins, nil
	case string(models.RulingSplit):
		return models.RulingSplit, nil
	}
	return "", fmt.Errorf("invalid ruling %q (want creator, agent or split)", s)
}

func runDisputeOpen(cmd *cobra.Command, args []string) error {
	task, _, err := disputeOf(args[0])
	if err != nil {
		return err
	}
	evidence, err := contentHash(hashHex, hashFile, hashText)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	addr, err := c.OpenDispute(ctx, escrow.OpenDisputeParams{
		Task:         task,
		Reason:       models.DisputeReason(disputeReason),
		EvidenceHash: evidence,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Opened dispute %s\n", addr)
	return nil
}

func runDisputeShow(cmd *cobra.Command, args []string) error {
	_, addr, err := disputeOf(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	entry, err := readClient().Dispute(ctx, addr)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(entry)
	}

	d := entry.Dispute
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Address:\t%s\n", entry.Address)
	fmt.Fprintf(w, "Task:\t%s\n", d.Task)
	fmt.Fprintf(w, "Initiator:\t%s\n", d.Initiator)
	fmt.Fprintf(w, "Reason:\t%s\n", d.Reason)
	fmt.Fprintf(w, "Opened:\t%s\n", formatUnix(d.OpenedAt))
	fmt.Fprintf(w, "Status:\t%s\n", d.Status)
	fmt.Fprintf(w, "Votes:\tcreator %d, agent %d, split %d\n", d.VotesForCreator, d.VotesForAgent, d.VotesForSplit)
	for _, v := range entry.Votes {
		fmt.Fprintf(w, "  %s\t%s at %s\n", v.Arbitrator.Short(), v.Ruling, formatUnix(v.VotedAt))
	}
	return w.Flush()
}

func runDisputeVote(cmd *cobra.Command, args []string) error {
	_, addr, err := disputeOf(args[0])
	if err != nil {
		return err
	}
	ruling, err := parseRuling(args[1])
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.CastVote(ctx, addr, ruling); err != nil {
		return err
	}
	fmt.Printf("Voted %s\n", ruling)
	return nil
}

func runDisputeResolve(cmd *cobra.Command, args []string) error {
	_, addr, err := disputeOf(args[0])
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	res, err := c.ResolveDispute(ctx, addr)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("Resolved %s with %d votes: creator %d, agent %d, fee %d\n",
		res.Ruling, res.TotalVotes, res.Distribution.Creator, res.Distribution.Agent, res.Distribution.Fee)
	return nil
}
