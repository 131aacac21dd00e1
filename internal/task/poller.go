package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/logger"
)

// PollerConfig holds configuration for a Poller.
type PollerConfig struct {
	Interval   time.Duration // Time between sweeps over pending ids
	MaxRetries int           // Retries per fetch before the entry is failed
	// NewBackOff overrides the retry policy (tests use a zero-delay policy).
	NewBackOff func() backoff.BackOff
}

// Poller is the fallback for lost notifications: it periodically fetches the
// status of every pending task and feeds finished ones to the waiter.
type Poller struct {
	waiter  *Waiter
	fetcher Fetcher
	cfg     PollerConfig
	log     *logger.Logger
}

// NewPoller creates a poller over waiter's pending ids.
func NewPoller(waiter *Waiter, fetcher Fetcher, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = cfg.Interval
			return b
		}
	}
	return &Poller{
		waiter:  waiter,
		fetcher: fetcher,
		cfg:     cfg,
		log:     logger.Default.Named("poller"),
	}
}

// Run sweeps until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Debug("polling every %s", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep checks every pending id once.
func (p *Poller) Sweep(ctx context.Context) {
	for _, id := range p.waiter.Pending() {
		if ctx.Err() != nil {
			return
		}
		p.check(ctx, id)
	}
}

func (p *Poller) check(ctx context.Context, taskID string) {
	var (
		outcome Outcome
		done    bool
	)
	b := backoff.WithContext(backoff.WithMaxRetries(p.cfg.NewBackOff(), uint64(p.cfg.MaxRetries)), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		outcome, done, err = p.fetcher.FetchOutcome(ctx, taskID)
		var te *ierr.TransportError
		if errors.As(err, &te) && !te.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		p.log.Debug("task %s: status fetch failed, retrying in %s: %v", taskID, wait, err)
	})

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("task %s: giving up on status: %v", taskID, err)
		p.waiter.Fail(taskID, transportError(taskID, err))
		return
	}
	if !done {
		return
	}
	outcome.TaskID = taskID
	p.waiter.OnOutcome(outcome)
}
