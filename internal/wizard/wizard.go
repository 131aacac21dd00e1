// Package wizard drives a linear sequence of steps: forward navigation is gated
// on the current step's validation, and the last step's Finish produces the
// wizard's single Outcome.
package wizard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/future"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the controller's lifecycle state.
type State int

const (
	Editing   State = iota // Navigating between steps
	Finishing              // Last step's Finish is in flight
	Closed                 // Finished successfully or cancelled
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Finishing:
		return "finishing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a Finish call.
type Outcome struct {
	Success bool
	Data    any   // Value returned by the step's Finish
	Err     error // Set when Success is false
}

// Option configures a Controller.
type Option func(*Controller)

// WithName labels the wizard in logs, metrics and spans.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// WithMetrics records finish outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// Controller is safe for concurrent use. Step methods are never called while
// the controller's lock is held.
type Controller struct {
	name    string
	steps   []Step
	actions []func() // activate per step, no-op when the step has none
	metrics *metrics.Metrics
	tracer  trace.Tracer
	log     *logger.Logger

	mu      sync.Mutex
	index   int
	running bool
	closed  bool
}

// New creates a controller positioned on the first step and activates it.
func New(steps []Step, opts ...Option) (*Controller, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("wizard needs at least one step: %w", ierr.ErrConfiguration)
	}
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("step %d is nil: %w", i, ierr.ErrConfiguration)
		}
	}

	c := &Controller{
		name:    "wizard",
		steps:   append([]Step(nil), steps...),
		actions: make([]func(), len(steps)),
		tracer:  otel.Tracer("github.com/mark3labs/consolewiz/internal/wizard"),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i, s := range c.steps {
		c.actions[i] = activation(s)
	}
	c.log = logger.Default.Named(c.name)

	c.actions[0]()
	return c, nil
}

// Len returns the number of steps.
func (c *Controller) Len() int {
	return len(c.steps)
}

// Index returns the current step index.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Current returns the current step.
func (c *Controller) Current() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps[c.index]
}

// Running reports whether a Finish is in flight.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Validation returns the current step's validation result.
func (c *Controller) Validation() ValidationResult {
	return c.Current().Validate()
}

// CanGoNext reports whether Next would move forward.
func (c *Controller) CanGoNext() bool {
	_, ok := c.check(func(i int) bool { return i < len(c.steps)-1 })
	return ok
}

// CanFinish reports whether Finish would be accepted.
func (c *Controller) CanFinish() bool {
	_, ok := c.check(func(i int) bool { return i == len(c.steps)-1 })
	return ok
}

// check validates the current step if the controller is idle and at reports
// true for its index. It returns the index that was checked.
func (c *Controller) check(at func(int) bool) (int, bool) {
	c.mu.Lock()
	if c.running || c.closed || !at(c.index) {
		c.mu.Unlock()
		return 0, false
	}
	i, step := c.index, c.steps[c.index]
	c.mu.Unlock()

	return i, step.Validate().OK
}

// Next moves to the following step when CanGoNext holds and activates it.
// It reports whether the controller moved.
func (c *Controller) Next() bool {
	i, ok := c.check(func(i int) bool { return i < len(c.steps)-1 })
	if !ok {
		return false
	}
	return c.move(i, i+1)
}

// Previous moves back one step unless on the first step or finishing.
// Validation is not required to go back.
func (c *Controller) Previous() bool {
	c.mu.Lock()
	i := c.index
	blocked := c.running || c.closed || i == 0
	c.mu.Unlock()
	if blocked {
		return false
	}
	return c.move(i, i-1)
}

// move switches from step `from` to `to` if nothing else moved the controller
// in between, then activates the new step.
func (c *Controller) move(from, to int) bool {
	c.mu.Lock()
	if c.index != from || c.running || c.closed {
		c.mu.Unlock()
		return false
	}
	c.index = to
	c.mu.Unlock()

	c.log.Debug("step %d -> %d", from, to)
	c.actions[to]()
	return true
}

// Finish runs the last step's Finish in the background. It fails with
// ErrInvalidState, leaving the controller untouched, unless CanFinish holds.
//
// The returned future always resolves with exactly one Outcome. On success the
// controller is Closed. On failure it returns to Editing on the last step so
// the caller can show the error and retry or cancel.
func (c *Controller) Finish(ctx context.Context) (*future.Future[Outcome], error) {
	last := len(c.steps) - 1

	c.mu.Lock()
	if c.running || c.closed || c.index != last {
		state, index := c.stateLocked(), c.index
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot finish %s on step %d of %d (%s): %w", c.name, index+1, len(c.steps), state, ierr.ErrInvalidState)
	}
	step := c.steps[last]
	c.mu.Unlock()

	if v := step.Validate(); !v.OK {
		return nil, fmt.Errorf("cannot finish %s: %s: %w", c.name, strings.Join(v.Reasons, "; "), ierr.ErrInvalidState)
	}

	c.mu.Lock()
	if c.running || c.closed || c.index != last {
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot finish %s: state changed during validation: %w", c.name, ierr.ErrInvalidState)
	}
	c.running = true
	c.mu.Unlock()

	c.log.Debug("finishing")
	f := future.New[Outcome]()
	go c.runFinish(ctx, step, f)
	return f, nil
}

func (c *Controller) runFinish(ctx context.Context, step Step, f *future.Future[Outcome]) {
	ctx, span := c.tracer.Start(ctx, "wizard.finish", trace.WithAttributes(
		attribute.String("wizard.name", c.name),
		attribute.Int("wizard.steps", len(c.steps)),
	))
	start := time.Now()

	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("step finish panicked: %v", r)}
		}

		c.mu.Lock()
		c.running = false
		if out.Success {
			c.closed = true
		}
		c.mu.Unlock()

		if out.Success {
			span.SetStatus(codes.Ok, "")
			c.log.Info("finished in %s", time.Since(start).Round(time.Millisecond))
		} else {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
			c.log.Warn("finish failed: %v", out.Err)
		}
		span.End()
		c.metrics.WizardFinished(c.name, out.Success)
		f.Resolve(out)
	}()

	data, err := step.Finish(ctx)
	if err != nil {
		out = Outcome{Data: data, Err: err}
		return
	}
	out = Outcome{Success: true, Data: data}
}

// Close ends the wizard without finishing (cancel), or records that the
// caller has disposed of it. It is refused while Finish is in flight and is a
// no-op once closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("cannot close %s while finishing: %w", c.name, ierr.ErrInvalidState)
	}
	if !c.closed {
		c.closed = true
		c.log.Debug("closed on step %d", c.index+1)
	}
	return nil
}

func (c *Controller) stateLocked() State {
	switch {
	case c.closed:
		return Closed
	case c.running:
		return Finishing
	default:
		return Editing
	}
}
