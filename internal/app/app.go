// Package app wires configuration, messaging, the task event log, the backend
// client and the task waiter into one running instance.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mark3labs/consolewiz/internal/api"
	"github.com/mark3labs/consolewiz/internal/config"
	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/events"
	"github.com/mark3labs/consolewiz/internal/form"
	"github.com/mark3labs/consolewiz/internal/hooks"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/metrics"
	"github.com/mark3labs/consolewiz/internal/nats"
	"github.com/mark3labs/consolewiz/internal/task"
	"github.com/mark3labs/consolewiz/internal/wizard"
	"github.com/nats-io/nats-server/v2/server"
	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App owns the long-lived components.
type App struct {
	cfg     *config.Config
	workDir string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	ns       *server.Server // nil when connected to a remote server
	nc       *gonats.Conn
	bus      *nats.Bus
	store    *events.Store
	client   *api.Client
	waiter   *task.Waiter
	poller   *task.Poller
	hooks    *hooks.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	httpSrv  *http.Server

	unlisten func() error

	mu      sync.Mutex
	started bool
	stopped bool
}

// New validates cfg and creates an app. workDir is where hooks run and the
// hooks file is looked up.
func New(cfg *config.Config, workDir string) (*App, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ierr.ErrConfiguration, err)
	}
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	registry := prometheus.NewRegistry()
	return &App{
		cfg:      cfg,
		workDir:  workDir,
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

// Start connects to NATS and brings up the store, client, waiter, poller
// and metrics endpoint. Call Stop even when Start fails to release what was
// already started.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started: %w", ierr.ErrInvalidState)
	}
	a.started = true

	logger.Info("Starting consolewiz (api: %s)", a.cfg.APIURL)
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 1. Connect to the configured NATS server or start an embedded one
	if err := a.ensureNATS(); err != nil {
		logger.Error("Failed to ensure NATS: %v", err)
		return fmt.Errorf("failed to ensure NATS: %w", err)
	}
	a.bus = nats.NewBus(a.nc)

	// 2. Event log
	if err := a.setupJetStream(); err != nil {
		logger.Error("Failed to setup JetStream: %v", err)
		return fmt.Errorf("failed to setup JetStream: %w", err)
	}

	// 3. Backend client
	client, err := api.NewClient(api.Config{
		BaseURL:     a.cfg.APIURL,
		Token:       a.cfg.APIToken,
		CSRFToken:   a.cfg.CSRFToken,
		RequestRate: a.cfg.RequestRate,
		MaxRetries:  uint64(a.cfg.MaxRetries),
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.client = client

	// 4. Waiter listening for task outcomes
	fetcher := a.fetcher()
	a.waiter = task.NewWaiter(task.WaiterConfig{
		Fetcher: fetcher,
		Timeout: a.cfg.TaskTimeout,
		Metrics: a.metrics,
	})
	unlisten, err := a.waiter.Listen(a.ctx, a.bus, a.cfg.TaskEvent)
	if err != nil {
		return fmt.Errorf("failed to listen for %s: %w", a.cfg.TaskEvent, err)
	}
	a.unlisten = unlisten

	// 5. Hooks are optional
	hooksCfg, err := hooks.LoadConfig(a.workDir)
	if err != nil {
		logger.Warn("Ignoring hooks: %v", err)
	}
	a.hooks = hooksCfg

	// 6. Background workers
	g, gctx := errgroup.WithContext(a.ctx)
	a.group = g
	if a.cfg.PollInterval > 0 {
		a.poller = task.NewPoller(a.waiter, fetcher, task.PollerConfig{
			Interval:   a.cfg.PollInterval,
			MaxRetries: a.cfg.MaxRetries,
		})
		g.Go(func() error {
			if err := a.poller.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.registry))
		a.httpSrv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("Serving metrics on %s", a.cfg.MetricsAddr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	logger.Info("consolewiz started (listening for %s)", nats.Subject(a.cfg.TaskEvent))
	return nil
}

// fetcher checks the event log first and the backend second.
func (a *App) fetcher() task.Fetcher {
	return task.FetcherFunc(func(ctx context.Context, taskID string) (task.Outcome, bool, error) {
		o, done, err := a.store.FetchOutcome(ctx, taskID)
		if err != nil {
			logger.Debug("Event log lookup for %s failed: %v", taskID, err)
		} else if done {
			return o, true, nil
		}
		return a.client.FetchOutcome(ctx, taskID)
	})
}

func (a *App) ensureNATS() error {
	if a.cfg.NATSURL != "" {
		logger.Info("Connecting to NATS at %s", a.cfg.NATSURL)
		nc, err := nats.Connect(a.cfg.NATSURL)
		if err != nil {
			return err
		}
		a.nc = nc
		return nil
	}

	// No server configured, run one in-process with file storage
	dataDir := filepath.Join(a.cfg.DataDir, "nats")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create NATS data directory: %w", err)
	}

	logger.Info("Starting embedded NATS server")
	ns, err := nats.StartEmbeddedNATS(dataDir)
	if err != nil {
		return fmt.Errorf("failed to start NATS server: %w", err)
	}
	nc, err := nats.ConnectInProcess(ns)
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.ns, a.nc = ns, nc
	return nil
}

func (a *App) setupJetStream() error {
	js, err := jetstream.New(a.nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	stream, err := nats.SetupStream(a.ctx, js)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	a.store = events.NewStore(js, stream, a.cfg.TaskEvent)
	return nil
}

// Waiter returns the task waiter.
func (a *App) Waiter() *task.Waiter {
	return a.waiter
}

// Store returns the task event log.
func (a *App) Store() *events.Store {
	return a.store
}

// Client returns the backend client.
func (a *App) Client() *api.Client {
	return a.client
}

// Metrics returns the app's collectors.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Registry returns the registry the collectors are registered on.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Await waits for taskID to settle and runs the matching hooks. Outcomes
// recorded before the call are picked up from the event log.
func (a *App) Await(ctx context.Context, taskID string) (json.RawMessage, error) {
	f, err := a.waiter.Wait(taskID)
	if err != nil {
		return nil, err
	}

	// The outcome may have been recorded before we registered
	if o, done, err := a.store.FetchOutcome(ctx, taskID); err != nil {
		logger.Debug("Event log lookup for %s failed: %v", taskID, err)
	} else if done {
		a.waiter.OnOutcome(o)
	}

	result, err := f.Await(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Caller gave up; free the slot so a later Await can register again
		a.waiter.Fail(taskID, err)
		return nil, err
	}
	a.runHooks(taskID, result, err)
	return result, err
}

// Wizard builds a wizard from def whose last page submits through the
// backend client and tracks the task with the app's waiter.
func (a *App) Wizard(def *form.Definition, data *form.Data, onSettled form.SettledFunc) (*wizard.Controller, []*form.Page, error) {
	backend := form.Backend{
		Submitter: a.client,
		Waiter:    a.waiter,
		Recorder:  a.store,
		Fetcher:   a.store,
		OnSettled: func(taskID string, result json.RawMessage, err error) {
			a.runHooks(taskID, result, err)
			if onSettled != nil {
				onSettled(taskID, result, err)
			}
		},
	}
	return form.Build(def, data, backend, wizard.WithMetrics(a.metrics))
}

// Publish records a task outcome. The event also settles any waiter
// listening on the task-complete subject, in this or another process.
func (a *App) Publish(ctx context.Context, o task.Outcome) error {
	return a.store.RecordOutcome(ctx, o)
}

// Notify publishes an id-only task-complete notification; listeners fetch
// the status themselves.
func (a *App) Notify(taskID string) error {
	if taskID == "" {
		return ierr.ErrInvalidTaskID
	}
	return a.bus.PublishJSON(a.cfg.TaskEvent, taskID)
}

// Tasks returns the reduced task log.
func (a *App) Tasks(ctx context.Context) (*events.State, error) {
	return a.store.LoadState(ctx)
}

func (a *App) runHooks(taskID string, result json.RawMessage, err error) {
	if a.hooks == nil {
		return
	}
	out, herr := hooks.RunTaskSettled(a.ctx, a.hooks, a.workDir, taskID, result, err)
	if herr != nil {
		logger.Warn("Hooks for task %s interrupted: %v", taskID, herr)
		return
	}
	if out != "" {
		logger.Info("Hooks for task %s:\n%s", taskID, out)
	}
}

// Stop shuts everything down. Pending waits are rejected. Safe to call
// more than once.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || !a.started {
		return nil
	}
	a.stopped = true

	logger.Info("Stopping consolewiz")
	multiErr := &ierr.MultiError{}

	// 1. Stop taking notifications, then reject whoever is still waiting
	if a.unlisten != nil {
		if err := a.unlisten(); err != nil && !errors.Is(err, gonats.ErrConnectionClosed) {
			multiErr.Append(fmt.Errorf("unsubscribe failed: %w", err))
		}
	}
	if a.waiter != nil {
		a.waiter.Close(fmt.Errorf("shutting down: %w", context.Canceled))
	}

	// 2. Cancel background workers and wait for them
	if a.cancel != nil {
		a.cancel()
	}
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			multiErr.Append(fmt.Errorf("metrics server shutdown failed: %w", err))
		}
		cancel()
	}
	if a.group != nil {
		multiErr.Append(a.group.Wait())
	}

	// 3. Close the connection last, the workers above may still publish
	if a.ns != nil {
		logger.Debug("Shutting down embedded NATS server")
		if err := nats.Shutdown(a.nc, a.ns); err != nil {
			logger.Error("NATS shutdown failed: %v", err)
			multiErr.Append(fmt.Errorf("NATS shutdown failed: %w", err))
		}
	} else if a.nc != nil {
		a.nc.Close()
	}
	a.nc, a.ns = nil, nil

	logger.Info("consolewiz stopped")
	return multiErr.ErrorOrNil()
}
