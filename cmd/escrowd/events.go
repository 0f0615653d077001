package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List committed ledger events",
	RunE:  runEvents,
}

var (
	eventName    string
	eventSubject string
	eventAfter   int64
	eventLimit   int
)

func init() {
	eventsCmd.Flags().StringVar(&eventName, "name", "", "Only events with this name (e.g. TaskSettled)")
	eventsCmd.Flags().StringVar(&eventSubject, "subject", "", "Only events about this address")
	eventsCmd.Flags().Int64Var(&eventAfter, "after", 0, "Only events after this sequence number")
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 50, "Maximum events to list")
}

func runEvents(cmd *cobra.Command, args []string) error {
	q := events.Query{Name: eventName, AfterSeq: eventAfter, Limit: eventLimit}
	if eventSubject != "" {
		subject, err := parseAddr(eventSubject)
		if err != nil {
			return err
		}
		q.Subject = subject
	}

	ctx, cancel := apiContext(cmd)
	defer cancel()
	list, err := readClient().Events(ctx, q)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tEVENT\tSUBJECT\tPAYLOAD")
	for _, env := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			env.Seq, time.Unix(env.At, 0).Format("15:04:05"), env.Name, env.Subject.Short(), truncate(string(env.Payload), 60))
	}
	return w.Flush()
}
