package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/consolewiz/internal/app"
	"github.com/mark3labs/consolewiz/internal/form"
	"github.com/mark3labs/consolewiz/internal/wizard"
	"github.com/spf13/cobra"
)

var runFlags struct {
	set    []string
	follow bool
}

var runCmd = &cobra.Command{
	Use:   "run <wizard.yml>",
	Short: "Run a wizard definition headlessly",
	Long: `Run a wizard definition without a UI.

Field values come from --set name=value. Each page is validated before moving
on; the first page that does not validate stops the run with its reasons.
The last page submits the collected values and, unless the definition sets
submit.await to false, waits for the backend task to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runFlags.set, "set", nil, "Field value as name=value (repeatable)")
	runCmd.Flags().BoolVar(&runFlags.follow, "follow", false, "For wizards that do not await, keep running until the task settles")
}

func runRun(cmd *cobra.Command, args []string) error {
	def, err := form.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	values, err := parseSet(runFlags.set)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		settled := make(chan error, 1)

		c, pages, err := a.Wizard(def, form.NewData(values), func(taskID string, _ json.RawMessage, err error) {
			settled <- err
		})
		if err != nil {
			return err
		}

		if err := walk(out, c, pages); err != nil {
			_ = c.Close()
			return err
		}

		f, err := c.Finish(ctx)
		if err != nil {
			return err
		}
		outcome, err := f.Await(ctx)
		if err != nil {
			return err
		}
		if !outcome.Success {
			return fmt.Errorf("wizard %s failed: %w", def.Name, outcome.Err)
		}

		sub := outcome.Data.(form.Submission)
		if def.Submit.Awaits() {
			fmt.Fprintf(out, "Task %s succeeded\n", sub.TaskID)
			if len(sub.Result) > 0 {
				fmt.Fprintln(out, string(sub.Result))
			}
			return nil
		}

		fmt.Fprintf(out, "Task %s submitted\n", sub.TaskID)
		if !runFlags.follow {
			return nil
		}
		select {
		case err := <-settled:
			if err != nil {
				return fmt.Errorf("task %s: %w", sub.TaskID, err)
			}
			fmt.Fprintf(out, "Task %s succeeded\n", sub.TaskID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// walk advances through every page, stopping at the first one that does not
// validate.
func walk(out io.Writer, c *wizard.Controller, pages []*form.Page) error {
	for {
		page := pages[c.Index()]
		v := c.Validation()
		if !v.OK {
			return fmt.Errorf("page %q is not valid:\n  %s", page.Name(), strings.Join(v.Reasons, "\n  "))
		}
		fmt.Fprintf(out, "Page %d/%d %s: ok\n", c.Index()+1, c.Len(), page.Name())
		if !c.Next() {
			return nil
		}
	}
}

func parseSet(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, expected name=value", p)
		}
		values[name] = value
	}
	return values, nil
}
