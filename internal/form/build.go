package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/events"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/task"
	"github.com/mark3labs/consolewiz/internal/wizard"
)

// Submitter posts a job to the backend and returns its task id.
type Submitter interface {
	Submit(ctx context.Context, path string, body any) (string, error)
}

// Recorder appends submissions to the task event log.
type Recorder interface {
	RecordSubmitted(ctx context.Context, sub events.Submission) error
}

// SettledFunc receives the outcome of every task a wizard submitted. For
// wizards that do not await, it is the only place a task failure shows up.
type SettledFunc func(taskID string, result json.RawMessage, err error)

// Backend is what the last page needs to submit and track the job.
type Backend struct {
	Submitter Submitter
	Waiter    *task.Waiter
	Recorder  Recorder    // Optional
	OnSettled SettledFunc // Optional

	// Fetcher, when set, is asked for the task's outcome right after the
	// wait is registered, so a completion that arrived while Submit was
	// still returning is not lost.
	Fetcher task.Fetcher
}

// Submission is the Data of a successful wizard Outcome.
type Submission struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"` // Empty when not awaited
}

// Build creates the pages of def over data and a controller driving them.
func Build(def *Definition, data *Data, backend Backend, opts ...wizard.Option) (*wizard.Controller, []*Page, error) {
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	if backend.Submitter == nil || backend.Waiter == nil {
		return nil, nil, fmt.Errorf("wizard %s: submitter and waiter are required: %w", def.Name, ierr.ErrConfiguration)
	}
	if data == nil {
		data = NewData(nil)
	}

	pages := make([]*Page, len(def.Pages))
	steps := make([]wizard.Step, len(def.Pages))
	for i, cfg := range def.Pages {
		pages[i] = NewPage(cfg, data)
		steps[i] = pages[i]
	}
	s := &submitter{def: def, data: data, backend: backend, log: logger.Default.Named(def.Name)}
	pages[len(pages)-1].finish = s.finish

	opts = append([]wizard.Option{wizard.WithName(def.Name)}, opts...)
	c, err := wizard.New(steps, opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, pages, nil
}

type submitter struct {
	def     *Definition
	data    *Data
	backend Backend
	log     *logger.Logger
}

func (s *submitter) finish(ctx context.Context) (any, error) {
	body, err := s.data.Payload(s.def.Fields())
	if err != nil {
		return nil, err
	}

	path := s.def.Submit.Path
	taskID, err := s.backend.Submitter.Submit(ctx, path, body)
	if err != nil {
		return nil, fmt.Errorf("submitting %s: %w", path, err)
	}

	f, err := s.backend.Waiter.Wait(taskID)
	if err != nil {
		return nil, err
	}
	s.log.Info("submitted %s, task %s", path, taskID)

	if s.backend.Fetcher != nil {
		if o, done, err := s.backend.Fetcher.FetchOutcome(ctx, taskID); err != nil {
			s.log.Debug("outcome lookup for task %s failed: %v", taskID, err)
		} else if done {
			o.TaskID = taskID
			s.backend.Waiter.OnOutcome(o)
		}
	}

	if s.backend.Recorder != nil {
		sub := events.Submission{TaskID: taskID, Path: path, Wizard: s.def.Name}
		if err := s.backend.Recorder.RecordSubmitted(ctx, sub); err != nil {
			s.log.Warn("failed to record submission of task %s: %v", taskID, err)
		}
	}

	if !s.def.Submit.Awaits() {
		go func() {
			result, err := f.Await(context.Background())
			if err != nil {
				s.log.Warn("task %s failed after wizard closed: %v", taskID, err)
			}
			if s.backend.OnSettled != nil {
				s.backend.OnSettled(taskID, result, err)
			}
		}()
		return Submission{TaskID: taskID}, nil
	}

	result, err := f.Await(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		// Nobody is left to receive the outcome; free the slot.
		s.backend.Waiter.Fail(taskID, err)
		return Submission{TaskID: taskID}, err
	}
	if s.backend.OnSettled != nil {
		s.backend.OnSettled(taskID, result, err)
	}
	if err != nil {
		return Submission{TaskID: taskID}, err
	}
	return Submission{TaskID: taskID, Result: result}, nil
}
