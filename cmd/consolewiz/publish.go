package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/consolewiz/internal/app"
	"github.com/mark3labs/consolewiz/internal/events"
	"github.com/mark3labs/consolewiz/internal/task"
	"github.com/spf13/cobra"
)

var publishFlags struct {
	failed bool
	result string
	idOnly bool
}

var publishCmd = &cobra.Command{
	Use:   "publish [task-id]",
	Short: "Publish a task-complete event",
	Long: `Publish a task-complete event, as the backend does when a task finishes.

With --id-only the event carries only the task id and listeners fetch the
status from the backend. Without a task id a new one is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishFlags.failed, "failed", false, "Report the task as failed")
	publishCmd.Flags().StringVar(&publishFlags.result, "result", "", "Result payload as JSON (plain text is sent as a JSON string)")
	publishCmd.Flags().BoolVar(&publishFlags.idOnly, "id-only", false, "Publish only the task id")
}

func runPublish(cmd *cobra.Command, args []string) error {
	taskID := events.NewTaskID()
	if len(args) == 1 {
		taskID = args[0]
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if publishFlags.idOnly {
			if err := a.Notify(taskID); err != nil {
				return err
			}
		} else {
			o := task.Outcome{
				TaskID:     taskID,
				Successful: !publishFlags.failed,
				Result:     resultPayload(publishFlags.result),
			}
			if err := a.Publish(ctx, o); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), taskID)
		return nil
	})
}

func resultPayload(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}
