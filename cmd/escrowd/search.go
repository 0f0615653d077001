package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/escrowd/internal/search"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [words...]",
	Short: "Search live task and template titles",
	RunE:  runSearch,
}

var (
	searchKind     string
	searchStatus   string
	searchCategory string
	searchCreator  string
	searchLimit    int
)

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "Only task or template")
	searchCmd.Flags().StringVar(&searchStatus, "status", "", "Task status, or active/inactive for templates")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "Template category")
	searchCmd.Flags().StringVar(&searchCreator, "creator", "", "Filter by creator (address or me)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := search.Query{
		Text:     strings.Join(args, " "),
		Kind:     searchKind,
		Status:   searchStatus,
		Category: searchCategory,
		Limit:    searchLimit,
	}
	if searchCreator != "" {
		creator, err := parseAddr(searchCreator)
		if err != nil {
			return err
		}
		q.Creator = creator
	}

	ctx, cancel := apiContext(cmd)
	defer cancel()
	hits, err := readClient().Search(ctx, q)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No matches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tKIND\tTITLE\tSTATUS\tSCORE")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n", h.Address.Short(), h.Kind, truncate(h.Title, 40), h.Status, h.Score)
	}
	return w.Flush()
}
