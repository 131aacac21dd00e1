package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/future"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/metrics"
)

// WaiterConfig holds configuration for a Waiter.
type WaiterConfig struct {
	Fetcher      Fetcher          // Resolves id-only notifications (optional)
	Timeout      time.Duration    // Rejects entries left pending this long; 0 disables
	FetchTimeout time.Duration    // Bounds each status fetch; 0 uses 30s
	Metrics      *metrics.Metrics // Optional
}

// Waiter maps pending task ids to their futures. Each id has at most one
// pending entry; the entry is removed before its future settles, so every
// future settles exactly once and nothing leaks after settlement.
type Waiter struct {
	cfg WaiterConfig
	log *logger.Logger

	mu      sync.Mutex
	pending map[string]*entry
}

type entry struct {
	future *future.Future[json.RawMessage]
	since  time.Time
	timer  *time.Timer
}

// NewWaiter creates an empty waiter.
func NewWaiter(cfg WaiterConfig) *Waiter {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Waiter{
		cfg:     cfg,
		log:     logger.Default.Named("waiter"),
		pending: make(map[string]*entry),
	}
}

// Wait registers taskID and returns a future settled by its outcome: resolved
// with the result payload on success, rejected with *errors.TaskFailure when
// the backend reports failure, or with *errors.TransportError when the status
// lookup fails. Registering an id that is already pending fails with
// ErrDuplicateTask and leaves the existing entry alone.
func (w *Waiter) Wait(taskID string) (*future.Future[json.RawMessage], error) {
	if taskID == "" {
		return nil, ierr.ErrInvalidTaskID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.pending[taskID]; exists {
		return nil, fmt.Errorf("task %s: %w", taskID, ierr.ErrDuplicateTask)
	}

	e := &entry{future: future.New[json.RawMessage](), since: time.Now()}
	if w.cfg.Timeout > 0 {
		e.timer = time.AfterFunc(w.cfg.Timeout, func() {
			w.settle(taskID, e, func(f *future.Future[json.RawMessage]) {
				f.Reject(fmt.Errorf("task %s after %s: %w", taskID, w.cfg.Timeout, ierr.ErrTaskTimeout))
			}, metrics.ResultTimeout)
		})
	}
	w.pending[taskID] = e
	w.cfg.Metrics.TaskAwaited()
	w.log.Debug("awaiting task %s (%d pending)", taskID, len(w.pending))

	return e.future, nil
}

// OnOutcome settles the entry for o.TaskID. Outcomes for ids that are not
// pending, including repeats of an outcome already delivered, are ignored.
func (w *Waiter) OnOutcome(o Outcome) {
	e := w.lookup(o.TaskID)
	if e == nil {
		w.log.Debug("ignoring outcome for task %s: not awaited", o.TaskID)
		return
	}

	if o.Successful {
		w.settle(o.TaskID, e, func(f *future.Future[json.RawMessage]) {
			f.Resolve(o.Result)
		}, metrics.ResultResolved)
		return
	}
	w.settle(o.TaskID, e, func(f *future.Future[json.RawMessage]) {
		f.Reject(&ierr.TaskFailure{TaskID: o.TaskID, Result: o.Result})
	}, metrics.ResultFailed)
}

// OnNotification handles a task-complete event. Complete notifications are
// applied directly; id-only notifications trigger a status fetch. A fetch
// error rejects the entry with a *errors.TransportError. A fetch reporting the
// task as still running leaves the entry pending.
func (w *Waiter) OnNotification(ctx context.Context, n Notification) {
	if n.Complete() {
		w.OnOutcome(n.Outcome())
		return
	}
	if w.lookup(n.TaskID) == nil {
		return
	}
	if w.cfg.Fetcher == nil {
		w.log.Warn("task %s: id-only notification but no fetcher configured", n.TaskID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	o, done, err := w.cfg.Fetcher.FetchOutcome(ctx, n.TaskID)
	if err != nil {
		w.Fail(n.TaskID, transportError(n.TaskID, err))
		return
	}
	if !done {
		w.log.Debug("task %s notified but still running", n.TaskID)
		return
	}
	o.TaskID = n.TaskID
	w.OnOutcome(o)
}

// Fail rejects the pending entry for taskID with err. It reports whether an
// entry was pending.
func (w *Waiter) Fail(taskID string, err error) bool {
	e := w.lookup(taskID)
	if e == nil {
		return false
	}

	result := metrics.ResultAbandoned
	var te *ierr.TransportError
	if errors.As(err, &te) {
		result = metrics.ResultTransport
	}
	return w.settle(taskID, e, func(f *future.Future[json.RawMessage]) {
		f.Reject(err)
	}, result)
}

// Listen subscribes the waiter to event on bus. Malformed payloads are logged
// and dropped. The returned function unsubscribes.
func (w *Waiter) Listen(ctx context.Context, bus Bus, event string) (func() error, error) {
	unsubscribe, err := bus.Subscribe(event, func(payload []byte) {
		n, err := DecodeNotification(payload)
		if err != nil {
			w.log.Warn("dropping malformed %s event: %v", event, err)
			return
		}
		w.OnNotification(ctx, n)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", event, err)
	}
	w.log.Debug("listening for %s events", event)
	return unsubscribe, nil
}

// Pending returns the ids awaiting an outcome, sorted.
func (w *Waiter) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of pending entries.
func (w *Waiter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close rejects every pending entry with err.
func (w *Waiter) Close(err error) {
	for _, id := range w.Pending() {
		w.Fail(id, err)
	}
}

func (w *Waiter) lookup(taskID string) *entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending[taskID]
}

// settle removes e if it is still the pending entry for taskID and then runs
// apply on its future. Only the caller that removes the entry settles it.
func (w *Waiter) settle(taskID string, e *entry, apply func(*future.Future[json.RawMessage]), result string) bool {
	w.mu.Lock()
	if w.pending[taskID] != e {
		w.mu.Unlock()
		return false
	}
	delete(w.pending, taskID)
	w.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	apply(e.future)

	waited := time.Since(e.since)
	w.cfg.Metrics.TaskSettled(result, waited)
	w.log.Debug("task %s settled: %s after %s", taskID, result, waited.Round(time.Millisecond))
	return true
}

func transportError(taskID string, err error) error {
	var te *ierr.TransportError
	if errors.As(err, &te) {
		return err
	}
	return ierr.NewTransportError("fetch status of task "+taskID, err)
}
