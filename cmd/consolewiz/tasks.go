package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/consolewiz/internal/app"
	"github.com/spf13/cobra"
)

var tasksFlags struct {
	json bool
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks recorded in the event log",
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksFlags.json, "json", false, "Print as JSON")
}

func runTasks(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		state, err := a.Tasks(ctx)
		if err != nil {
			return err
		}
		records := state.Sorted()

		if tasksFlags.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATUS\tWIZARD\tPATH\tSUBMITTED")
		for _, r := range records {
			submitted := "-"
			if !r.SubmittedAt.IsZero() {
				submitted = r.SubmittedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, dash(r.Wizard), dash(r.Path), submitted)
		}
		return w.Flush()
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
