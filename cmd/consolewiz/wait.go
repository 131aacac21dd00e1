package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/consolewiz/internal/app"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var waitCmd = &cobra.Command{
	Use:   "wait <task-id>...",
	Short: "Wait for backend tasks to finish",
	Long: `Wait for one or more backend tasks to finish and print their results.

Outcomes already in the event log are reported immediately. The command fails
if any task fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWait,
}

func runWait(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var mu sync.Mutex
		out := cmd.OutOrStdout()

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range args {
			g.Go(func() error {
				result, err := a.Await(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					fmt.Fprintf(out, "%s: failed: %v\n", id, err)
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", id, string(result))
				return nil
			})
		}
		return g.Wait()
	})
}
