package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/consolewiz/internal/config"
	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/events"
	"github.com/mark3labs/consolewiz/internal/form"
	"github.com/mark3labs/consolewiz/internal/hooks"
	"github.com/mark3labs/consolewiz/internal/task"
	"github.com/mark3labs/consolewiz/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers job submissions with task ids and serves task status.
func fakeBackend(t *testing.T, status map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`"t-submitted"`))
		case strings.HasPrefix(r.URL.Path, "/api/tasks/"):
			id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
			body, ok := status[id]
			if !ok {
				body = `{"ready":false}`
			}
			_, _ = w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startApp(t *testing.T, apiURL string, mutate ...func(*config.Config)) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.APIURL = apiURL
	cfg.DataDir = t.TempDir()
	cfg.MaxRetries = 0
	for _, m := range mutate {
		m(cfg)
	}

	a, err := New(cfg, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIURL = "not a url"
	_, err := New(cfg, t.TempDir())
	assert.ErrorIs(t, err, ierr.ErrConfiguration)
}

func TestStartStop(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)

	assert.ErrorIs(t, a.Start(context.Background()), ierr.ErrInvalidState)

	f, err := a.Waiter().Wait("pending")
	require.NoError(t, err)

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop(), "second stop is a no-op")

	_, err = f.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled, "pending waits are rejected on stop")
}

func TestAwait_PublishedAfterWait(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)
	ctx := awaitCtx(t)

	go func() {
		assert.Eventually(t, func() bool { return a.Waiter().Len() == 1 }, 2*time.Second, time.Millisecond)
		_ = a.Publish(context.Background(), task.Outcome{TaskID: "t1", Successful: true, Result: json.RawMessage(`"ok"`)})
	}()

	result, err := a.Await(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
}

func TestAwait_PublishedBeforeWait(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)
	ctx := awaitCtx(t)

	require.NoError(t, a.Publish(ctx, task.Outcome{TaskID: "t1", Successful: false, Result: json.RawMessage(`"disk full"`)}))

	_, err := a.Await(ctx, "t1")
	var failure *ierr.TaskFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "disk full", failure.Message())
	assert.Zero(t, a.Waiter().Len())
}

func TestAwait_IDOnlyNotificationFetchesStatus(t *testing.T) {
	srv := fakeBackend(t, map[string]string{
		"t2": `{"ready":true,"successful":true,"result":{"guid":"g2"}}`,
	})
	a := startApp(t, srv.URL)
	ctx := awaitCtx(t)

	go func() {
		assert.Eventually(t, func() bool { return a.Waiter().Len() == 1 }, 2*time.Second, time.Millisecond)
		_ = a.Notify("t2")
	}()

	result, err := a.Await(ctx, "t2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"guid":"g2"}`, string(result))
}

func TestAwait_PollerFallback(t *testing.T) {
	srv := fakeBackend(t, map[string]string{
		"t3": `{"ready":true,"successful":true,"result":3}`,
	})
	a := startApp(t, srv.URL, func(cfg *config.Config) {
		cfg.PollInterval = 20 * time.Millisecond
	})

	result, err := a.Await(awaitCtx(t), "t3")
	require.NoError(t, err)
	assert.JSONEq(t, `3`, string(result))
}

func TestAwait_CancelFreesEntry(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Await(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, a.Waiter().Len())
}

func TestAwait_RunsHooks(t *testing.T) {
	srv := fakeBackend(t, nil)
	cfg := config.Defaults()
	cfg.APIURL = srv.URL
	cfg.DataDir = t.TempDir()

	workDir := t.TempDir()
	hooksYAML := "version: 1\nhooks:\n  on_task_complete:\n    - command: \"echo {{task_id}} > done.txt\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(workDir, hooks.ConfigFileName), []byte(hooksYAML), 0o644))

	a, err := New(cfg, workDir)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop() }()

	ctx := awaitCtx(t)
	require.NoError(t, a.Publish(ctx, task.Outcome{TaskID: "t4", Successful: true}))
	_, err = a.Await(ctx, "t4")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workDir, "done.txt"))
	require.NoError(t, err)
	assert.Equal(t, "t4\n", string(data))
}

func TestWizard_SubmitsAndRecords(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)
	ctx := awaitCtx(t)

	def, err := form.ParseDefinition([]byte(`
name: add-backend
submit:
  path: /api/backends/
pages:
  - name: general
    fields:
      - name: name
        required: true
`))
	require.NoError(t, err)

	data := form.NewData(map[string]string{"name": "b1"})
	c, _, err := a.Wizard(def, data, nil)
	require.NoError(t, err)
	require.True(t, c.CanFinish())

	f, err := c.Finish(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Waiter().Len() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, a.Publish(ctx, task.Outcome{TaskID: "t-submitted", Successful: true, Result: json.RawMessage(`{"id":1}`)}))

	out, err := f.Await(ctx)
	require.NoError(t, err)
	require.True(t, out.Success, "outcome error: %v", out.Err)
	assert.Equal(t, "t-submitted", out.Data.(form.Submission).TaskID)
	assert.Equal(t, wizard.Closed, c.State())

	state, err := a.Tasks(ctx)
	require.NoError(t, err)
	rec := state.Tasks["t-submitted"]
	require.NotNil(t, rec)
	assert.Equal(t, events.StatusSucceeded, rec.Status)
	assert.Equal(t, "/api/backends/", rec.Path)
	assert.Equal(t, "add-backend", rec.Wizard)
}

func TestWizard_OutcomeRecordedBeforeWait(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)
	ctx := awaitCtx(t)

	def, err := form.ParseDefinition([]byte(`
name: add-backend
submit:
  path: /api/backends/
pages:
  - name: general
`))
	require.NoError(t, err)

	// Nobody is waiting yet, so only the event log keeps this
	require.NoError(t, a.Publish(ctx, task.Outcome{TaskID: "t-submitted", Successful: true, Result: json.RawMessage(`{"id":2}`)}))

	c, _, err := a.Wizard(def, form.NewData(nil), nil)
	require.NoError(t, err)
	f, err := c.Finish(ctx)
	require.NoError(t, err)

	out, err := f.Await(ctx)
	require.NoError(t, err)
	require.True(t, out.Success, "outcome error: %v", out.Err)
	assert.JSONEq(t, `{"id":2}`, string(out.Data.(form.Submission).Result))
	assert.Zero(t, a.Waiter().Len())
}

func TestNotify_RequiresID(t *testing.T) {
	srv := fakeBackend(t, nil)
	a := startApp(t, srv.URL)
	assert.ErrorIs(t, a.Notify(""), ierr.ErrInvalidTaskID)
}
