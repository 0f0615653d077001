package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/spf13/cobra"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Manage the platform singleton",
}

var platformInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the platform; the signer becomes its authority",
	RunE:  runPlatformInit,
}

var platformShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show platform parameters and totals",
	RunE:  runPlatformShow,
}

var platformPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause task creation and claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		return platformToggle(cmd, true)
	},
}

var platformResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		return platformToggle(cmd, false)
	},
}

var platformUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Replace the platform parameters",
	Long: `Replaces every platform parameter. Flags that are not set keep their
current value.`,
	RunE: runPlatformUpdate,
}

var (
	pFeeBps      uint16
	pMinBounty   uint64
	pVoting      int64
	pMinVotes    uint8
	pVoterRep    int64
	pGrace       int64
	pTreasuryArg string
)

func init() {
	platformCmd.AddCommand(platformInitCmd, platformShowCmd, platformPauseCmd, platformResumeCmd, platformUpdateCmd)

	for _, c := range []*cobra.Command{platformInitCmd, platformUpdateCmd} {
		c.Flags().Uint16Var(&pFeeBps, "fee-bps", 250, "Platform fee in basis points (max 1000)")
		c.Flags().Uint64Var(&pMinBounty, "min-bounty", 1000, "Smallest accepted bounty")
		c.Flags().Int64Var(&pVoting, "voting-period", 3*24*3600, "Dispute voting period in seconds")
		c.Flags().Uint8Var(&pMinVotes, "min-votes", 3, "Votes needed to resolve a dispute")
		c.Flags().Int64Var(&pVoterRep, "min-voter-reputation", 0, "Reputation needed to arbitrate")
		c.Flags().Int64Var(&pGrace, "claim-grace", 3600, "Seconds before the deadline after which claims are refused")
		c.Flags().StringVar(&pTreasuryArg, "treasury", "me", "Treasury address receiving fees")
	}
}

func platformParams() (escrow.PlatformParams, error) {
	treasury, err := parseAddr(pTreasuryArg)
	if err != nil {
		return escrow.PlatformParams{}, err
	}
	return escrow.PlatformParams{
		FeeBps:              pFeeBps,
		MinBounty:           pMinBounty,
		DisputeVotingPeriod: pVoting,
		DisputeMinVotes:     pMinVotes,
		MinVoterReputation:  pVoterRep,
		ClaimGracePeriod:    pGrace,
		Treasury:            treasury,
	}, nil
}

func runPlatformInit(cmd *cobra.Command, args []string) error {
	c, err := signingClient()
	if err != nil {
		return err
	}
	params, err := platformParams()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.InitializePlatform(ctx, params); err != nil {
		return err
	}
	fmt.Printf("Platform initialized, authority %s\n", c.Identity().Address())
	return nil
}

func runPlatformShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := apiContext(cmd)
	defer cancel()
	p, err := readClient().Platform(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(p)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Authority:\t%s\n", p.Authority)
	fmt.Fprintf(w, "Treasury:\t%s\n", p.Treasury)
	fmt.Fprintf(w, "Fee:\t%d bps\n", p.FeeBps)
	fmt.Fprintf(w, "Min bounty:\t%d\n", p.MinBounty)
	fmt.Fprintf(w, "Voting period:\t%ds\n", p.DisputeVotingPeriod)
	fmt.Fprintf(w, "Min votes:\t%d\n", p.DisputeMinVotes)
	fmt.Fprintf(w, "Min voter reputation:\t%d\n", p.MinVoterReputation)
	fmt.Fprintf(w, "Claim grace:\t%ds\n", p.ClaimGracePeriod)
	fmt.Fprintf(w, "Tasks:\t%d\n", p.TaskCount)
	fmt.Fprintf(w, "Templates:\t%d\n", p.TemplateCount)
	fmt.Fprintf(w, "Total settled:\t%d\n", p.TotalSettled)
	fmt.Fprintf(w, "Paused:\t%v\n", p.Paused)
	return w.Flush()
}

func platformToggle(cmd *cobra.Command, pause bool) error {
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if pause {
		if err := c.PausePlatform(ctx); err != nil {
			return err
		}
		fmt.Println("Platform paused")
		return nil
	}
	if err := c.ResumePlatform(ctx); err != nil {
		return err
	}
	fmt.Println("Platform resumed")
	return nil
}

func runPlatformUpdate(cmd *cobra.Command, args []string) error {
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()

	current, err := c.Platform(ctx)
	if err != nil {
		return err
	}
	params, err := platformParams()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("fee-bps") {
		params.FeeBps = current.FeeBps
	}
	if !flags.Changed("min-bounty") {
		params.MinBounty = current.MinBounty
	}
	if !flags.Changed("voting-period") {
		params.DisputeVotingPeriod = current.DisputeVotingPeriod
	}
	if !flags.Changed("min-votes") {
		params.DisputeMinVotes = current.DisputeMinVotes
	}
	if !flags.Changed("min-voter-reputation") {
		params.MinVoterReputation = current.MinVoterReputation
	}
	if !flags.Changed("claim-grace") {
		params.ClaimGracePeriod = current.ClaimGracePeriod
	}
	if !flags.Changed("treasury") {
		params.Treasury = current.Treasury
	}

	if err := c.UpdatePlatform(ctx, params); err != nil {
		return err
	}
	fmt.Println("Platform updated")
	return nil
}
