package nats

import (
	"context"
	"time"

	"github.com/gosimple/slug"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream and subject constants
const (
	// StreamName is the JetStream stream holding the task event log.
	StreamName = "consolewiz_events"

	subjectRoot = "consolewiz"
)

// Event names published by consolewiz itself.
const (
	EventTaskSubmitted = "task_submitted"
	EventTaskComplete  = "task_complete"
)

// Subject returns the subject for an event name. The name is slugged so any
// configured event name yields a single valid subject token.
// Example: "Task Complete" -> "consolewiz.task-complete"
func Subject(event string) string {
	return subjectRoot + "." + EventToken(event)
}

// EventToken returns the subject token for an event name.
func EventToken(event string) string {
	return slug.Make(event)
}

// SubjectAll matches every consolewiz event.
// Example: "consolewiz.>"
func SubjectAll() string {
	return subjectRoot + ".>"
}

// SetupStream creates or updates the JetStream stream for task events.
// The stream keeps 7 days of history so `tasks` can report recent work and
// status lookups can fall back to the log.
func SetupStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	return js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectAll()}, // Match all consolewiz events
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour, // 7 day retention
	})
}
