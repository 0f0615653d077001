package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage task templates",
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a reusable task template",
	RunE:  runTemplateCreate,
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE:  runTemplateList,
}

var templateDeactivateCmd = &cobra.Command{
	Use:   "deactivate [template]",
	Short: "Stop new tasks from using a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDeactivate,
}

var (
	tmplTitle    string
	tmplBounty   uint64
	tmplCategory string
	tmplCreator  string
	tmplAll      bool
)

func init() {
	templateCmd.AddCommand(templateCreateCmd, templateListCmd, templateDeactivateCmd)

	templateCreateCmd.Flags().StringVar(&tmplTitle, "title", "", "Template title (required)")
	templateCreateCmd.Flags().Uint64Var(&tmplBounty, "bounty", 0, "Default bounty (required)")
	templateCreateCmd.Flags().StringVar(&tmplCategory, "category", string(models.CategoryOther), "Category (data_labeling, literature_review, code_review, translation, analysis, research, other)")
	templateCreateCmd.Flags().StringVar(&hashText, "desc", "", "Template description, stored as its hash")
	templateCreateCmd.Flags().StringVar(&hashFile, "desc-file", "", "File whose hash describes the template")
	templateCreateCmd.MarkFlagRequired("title")
	templateCreateCmd.MarkFlagRequired("bounty")

	templateListCmd.Flags().StringVar(&tmplCreator, "creator", "", "Filter by creator (address or me)")
	templateListCmd.Flags().BoolVar(&tmplAll, "all", false, "Include deactivated templates")
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	desc, err := contentHash("", hashFile, hashText)
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	addr, err := c.CreateTemplate(ctx, escrow.TemplateParams{
		Title:           tmplTitle,
		DescriptionHash: desc,
		DefaultBounty:   tmplBounty,
		Category:        models.TaskCategory(tmplCategory),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created template: %s\n", addr)
	return nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	var creator models.Address
	if tmplCreator != "" {
		var err error
		if creator, err = parseAddr(tmplCreator); err != nil {
			return err
		}
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	templates, err := readClient().Templates(ctx, creator, !tmplAll)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(templates)
	}
	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTITLE\tCATEGORY\tBOUNTY\tUSED\tACTIVE")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%v\n",
			t.Address.Short(), truncate(t.Template.Title, 40), t.Template.Category,
			t.Template.DefaultBounty, t.Template.TimesUsed, t.Template.Active)
	}
	return w.Flush()
}

func runTemplateDeactivate(cmd *cobra.Command, args []string) error {
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
	if err := c.DeactivateTemplate(ctx, addr); err != nil {
		return err
	}
	fmt.Printf("Deactivated template %s\n", addr.Short())
	return nil
}
