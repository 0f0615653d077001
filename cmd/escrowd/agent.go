package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent profiles",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the signer as an agent",
	RunE:  runAgentRegister,
}

var agentShowCmd = &cobra.Command{
	Use:   "show [owner|me]",
	Short: "Show an agent profile",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAgentShow,
}

var agentSkillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Replace the signer's skill tags",
	RunE:  runAgentSkills,
}

var agentSkills []string

// skillNames orders the skill bitmap, bit 0 first.
var skillNames = []string{
	"data_labeling",
	"literature_review",
	"code_review",
	"translation",
	"analysis",
	"research",
	"other",
}

func init() {
	agentCmd.AddCommand(agentRegisterCmd, agentShowCmd, agentSkillsCmd)

	agentRegisterCmd.Flags().StringSliceVar(&agentSkills, "skill", nil, "Skill tag name or raw bitmap (repeatable)")
	agentSkillsCmd.Flags().StringSliceVar(&agentSkills, "skill", nil, "Skill tag name or raw bitmap (repeatable)")
}

// parseSkills folds skill names and numeric bitmaps into one bitmap.
func parseSkills(values []string) (uint8, error) {
	var bits uint8
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		found := false
		for i, name := range skillNames {
			if v == name {
				bits |= 1 << i
				found = true
				break
			}
		}
		if found {
			continue
		}
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return 0, fmt.Errorf("unknown skill %q (want one of %s)", v, strings.Join(skillNames, ", "))
		}
		bits |= uint8(n)
	}
	return bits, nil
}

func formatSkills(bits uint8) string {
	var names []string
	for i, name := range skillNames {
		if bits&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func runAgentRegister(cmd *cobra.Command, args []string) error {
	skills, err := parseSkills(agentSkills)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	addr, err := c.RegisterAgent(ctx, skills)
	if err != nil {
		return err
	}
	fmt.Printf("Registered agent profile %s\n", addr)
	return nil
}

func runAgentSkills(cmd *cobra.Command, args []string) error {
	skills, err := parseSkills(agentSkills)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	if err := c.UpdateAgentSkills(ctx, skills); err != nil {
		return err
	}
	fmt.Printf("Skills set to %s\n", formatSkills(skills))
	return nil
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	who := "me"
	if len(args) == 1 {
		who = args[0]
	}
	owner, err := parseAddr(who)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	p, err := readClient().Agent(ctx, owner)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(p)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Owner:\t%s\n", p.Authority)
	fmt.Fprintf(w, "Reputation:\t%d\n", p.ReputationScore)
	fmt.Fprintf(w, "Completed:\t%d\n", p.TasksCompleted)
	fmt.Fprintf(w, "Disputed:\t%d\n", p.TasksDisputed)
	fmt.Fprintf(w, "Disputes won/lost:\t%d/%d\n", p.DisputesWon, p.DisputesLost)
	fmt.Fprintf(w, "Total earned:\t%d\n", p.TotalEarned)
	fmt.Fprintf(w, "Skills:\t%s\n", formatSkills(p.SkillTags))
	fmt.Fprintf(w, "Registered:\t%s\n", formatUnix(p.RegisteredAt))
	return w.Flush()
}
