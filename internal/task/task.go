// Package task bridges fire-and-forget backend job submission to awaitable
// results. A job submission returns a task id; the Waiter registers the id and
// settles its future when the task's outcome is delivered on the messaging
// channel, fetched from the backend, or found by the fallback poller.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the terminal result of a backend task.
type Outcome struct {
	TaskID     string          `json:"task_id"`
	Successful bool            `json:"successful"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Notification is the payload of a task-complete event. Publishers either send
// the complete outcome or only the task id, in which case Successful is nil and
// the status must be fetched.
type Notification struct {
	TaskID     string          `json:"task_id"`
	Successful *bool           `json:"successful,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Complete reports whether the notification carries the outcome itself.
func (n Notification) Complete() bool {
	return n.Successful != nil
}

// Outcome converts a complete notification.
func (n Notification) Outcome() Outcome {
	o := Outcome{TaskID: n.TaskID, Result: n.Result}
	if n.Successful != nil {
		o.Successful = *n.Successful
	}
	return o
}

// NotificationFor builds the complete notification for o.
func NotificationFor(o Outcome) Notification {
	successful := o.Successful
	return Notification{TaskID: o.TaskID, Successful: &successful, Result: o.Result}
}

// DecodeNotification parses an event payload. Besides the canonical
// snake_case form it accepts "taskId"/"id" keys and a bare JSON string holding
// only the task id.
func DecodeNotification(data []byte) (Notification, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return Notification{}, fmt.Errorf("decoding task id: %w", err)
		}
		if id == "" {
			return Notification{}, fmt.Errorf("notification has no task id")
		}
		return Notification{TaskID: id}, nil
	}

	var raw struct {
		Notification
		CamelID string `json:"taskId"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Notification{}, fmt.Errorf("decoding notification: %w", err)
	}

	n := raw.Notification
	switch {
	case n.TaskID != "":
	case raw.CamelID != "":
		n.TaskID = raw.CamelID
	case raw.ID != "":
		n.TaskID = raw.ID
	default:
		return Notification{}, fmt.Errorf("notification has no task id")
	}
	return n, nil
}

// Fetcher looks up a task's status. done is false while the task is still running.
type Fetcher interface {
	FetchOutcome(ctx context.Context, taskID string) (o Outcome, done bool, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, taskID string) (Outcome, bool, error)

// FetchOutcome calls f.
func (f FetcherFunc) FetchOutcome(ctx context.Context, taskID string) (Outcome, bool, error) {
	return f(ctx, taskID)
}

// Bus is the messaging channel that delivers task-complete events.
type Bus interface {
	// Subscribe registers handler for event and returns a function that removes it.
	Subscribe(event string, handler func(payload []byte)) (unsubscribe func() error, err error)
}
