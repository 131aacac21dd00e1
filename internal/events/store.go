// Package events keeps the task event log in JetStream. Submissions and
// outcomes are appended as events and the current view is built by
// reducing the stream, so any process sharing the NATS server sees the same
// task history. Each store reduces an event once and keeps the result.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/nats"
	"github.com/mark3labs/consolewiz/internal/task"
	"github.com/nats-io/nats.go/jetstream"
)

// Task statuses in the reduced view.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Submission is the payload of a task_submitted event.
type Submission struct {
	TaskID    string    `json:"task_id"`
	Path      string    `json:"path"`             // Backend endpoint the job was posted to
	Wizard    string    `json:"wizard,omitempty"` // Wizard that submitted it, if any
	Timestamp time.Time `json:"timestamp"`
}

// TaskRecord is the reduced state of one task.
type TaskRecord struct {
	ID          string          `json:"id"`
	Path        string          `json:"path,omitempty"`
	Wizard      string          `json:"wizard,omitempty"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// State is the task log reduced to one record per task id.
type State struct {
	Tasks map[string]*TaskRecord `json:"tasks"`
}

// Sorted returns the records ordered by submission time, then id.
func (st *State) Sorted() []*TaskRecord {
	out := make([]*TaskRecord, 0, len(st.Tasks))
	for _, r := range st.Tasks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Store appends task events to JetStream and reduces them into State.
type Store struct {
	js            jetstream.JetStream
	stream        jetstream.Stream
	completeEvent string

	mu       sync.Mutex
	state    *State // Reduced through lastSeq
	firstSeq uint64
	lastSeq  uint64
}

// NewStore creates a store. completeEvent is the event name task outcomes are
// published under; it must match what waiters listen on.
func NewStore(js jetstream.JetStream, stream jetstream.Stream, completeEvent string) *Store {
	if completeEvent == "" {
		completeEvent = nats.EventTaskComplete
	}
	return &Store{js: js, stream: stream, completeEvent: completeEvent}
}

// RecordSubmitted appends a task_submitted event.
func (s *Store) RecordSubmitted(ctx context.Context, sub Submission) error {
	if sub.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now()
	}
	return s.publish(ctx, nats.EventTaskSubmitted, sub)
}

// RecordOutcome appends a task outcome. The event is published on the
// task-complete subject, so it also reaches every live waiter.
func (s *Store) RecordOutcome(ctx context.Context, o task.Outcome) error {
	if o.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	return s.publish(ctx, s.completeEvent, task.NotificationFor(o))
}

// NewTaskID returns a fresh id for tasks created outside the backend.
func NewTaskID() string {
	return uuid.NewString()
}

func (s *Store) publish(ctx context.Context, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	subject := nats.Subject(event)
	logger.Debug("Publishing event: subject=%s", subject)

	ack, err := s.js.Publish(ctx, subject, data)
	if err != nil {
		logger.Error("Failed to publish event to subject %s: %v", subject, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug("Event published: seq=%d", ack.Sequence)
	return nil
}

// LoadState returns the current task view. The returned State is a copy the
// caller may keep or modify.
func (s *Store) LoadState(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.state.clone(), nil
}

// refresh folds the events appended since the last call into the cached
// state. The caller must hold s.mu.
func (s *Store) refresh(ctx context.Context) error {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream info: %w", err)
	}
	last := info.State.LastSeq

	// First load, or events we reduced have since been removed
	if s.state == nil || last < s.lastSeq || info.State.FirstSeq > s.firstSeq {
		s.state = &State{Tasks: make(map[string]*TaskRecord)}
		s.lastSeq = 0
		s.firstSeq = info.State.FirstSeq
	}
	if info.State.Msgs == 0 || last <= s.lastSeq {
		s.lastSeq = last
		return nil
	}

	// Only read what we have not reduced yet
	if info.State.FirstSeq > s.lastSeq+1 {
		s.lastSeq = info.State.FirstSeq - 1
	}
	consumer, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   s.lastSeq + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	const batchSize = 500
	malformed := 0
	applied := 0
	for s.lastSeq < last {
		batch := batchSize
		if pending := last - s.lastSeq; pending < uint64(batchSize) {
			batch = int(pending)
		}
		msgs, err := consumer.Fetch(batch, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}

		got := 0
		for msg := range msgs.Messages() {
			got++
			// Stamp with the time the stream stored the event
			ts := time.Now()
			if meta, err := msg.Metadata(); err == nil {
				ts = meta.Timestamp
				s.lastSeq = meta.Sequence.Stream
			}
			if err := s.state.apply(msg.Subject(), msg.Data(), s.completeEvent, ts); err != nil {
				malformed++
				logger.Warn("Skipping malformed event on %s: %v", msg.Subject(), err)
				continue
			}
			applied++
		}
		if err := msgs.Error(); err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
		// The remaining sequences were deleted from the stream
		if got == 0 {
			s.lastSeq = last
			break
		}
	}

	if malformed > 0 {
		logger.Warn("Skipped %d malformed events while loading state", malformed)
	}
	logger.Debug("Task state refreshed: %d new events, %d tasks", applied, len(s.state.Tasks))
	return nil
}

// apply folds one event into the state.
// ts is the time the event was stored.
func (st *State) apply(subject string, data []byte, completeEvent string, ts time.Time) error {
	token := subject[strings.LastIndex(subject, ".")+1:]

	switch token {
	case nats.EventToken(nats.EventTaskSubmitted):
		var sub Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			return err
		}
		r := st.record(sub.TaskID)
		r.Path = sub.Path
		r.Wizard = sub.Wizard
		r.SubmittedAt = sub.Timestamp

	case nats.EventToken(completeEvent):
		n, err := task.DecodeNotification(data)
		if err != nil {
			return err
		}
		if !n.Complete() {
			// id-only notifications carry no status
			st.record(n.TaskID)
			return nil
		}
		r := st.record(n.TaskID)
		r.Result = n.Result
		r.CompletedAt = ts
		if *n.Successful {
			r.Status = StatusSucceeded
		} else {
			r.Status = StatusFailed
		}
	}
	return nil
}

func (st *State) clone() *State {
	out := &State{Tasks: make(map[string]*TaskRecord, len(st.Tasks))}
	for id, r := range st.Tasks {
		c := *r
		c.Result = append(json.RawMessage(nil), r.Result...)
		out.Tasks[id] = &c
	}
	return out
}

func (st *State) record(id string) *TaskRecord {
	r, ok := st.Tasks[id]
	if !ok {
		r = &TaskRecord{ID: id, Status: StatusPending}
		st.Tasks[id] = r
	}
	return r
}

// FetchOutcome implements task.Fetcher from the event log.
func (s *Store) FetchOutcome(ctx context.Context, taskID string) (task.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return task.Outcome{}, false, err
	}
	r, ok := s.state.Tasks[taskID]
	if !ok || r.Status == StatusPending {
		return task.Outcome{}, false, nil
	}
	return task.Outcome{
		TaskID:     taskID,
		Successful: r.Status == StatusSucceeded,
		Result:     append(json.RawMessage(nil), r.Result...),
	}, true, nil
}
