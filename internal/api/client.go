// Package api is the HTTP collaborator for the storage backend's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/mark3labs/consolewiz/internal/metrics"
	"github.com/mark3labs/consolewiz/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Config holds configuration for a Client.
type Config struct {
	BaseURL     string        // e.g. http://localhost:8080
	Token       string        // Bearer token, optional
	CSRFToken   string        // Sent as X-CSRFToken when set
	RequestRate float64       // Requests per second; 0 disables pacing
	MaxRetries  uint64        // Retries for GET requests
	Timeout     time.Duration // Per request; 0 uses 30s
	HTTPClient  *http.Client  // Optional, overrides Timeout
	Metrics     *metrics.Metrics
	NewBackOff  func() backoff.BackOff // Optional, for tests
}

// Client talks JSON to the backend.
type Client struct {
	base       *url.URL
	cfg        Config
	http       *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: %w", cfg.BaseURL, ierr.ErrConfiguration)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestRate > 0 {
		burst := int(cfg.RequestRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), burst)
	}

	newBackOff := cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		}
	}

	return &Client{
		base:       base,
		cfg:        cfg,
		http:       httpClient,
		limiter:    limiter,
		tracer:     otel.Tracer("github.com/mark3labs/consolewiz/internal/api"),
		log:        logger.Default.Named("api"),
		newBackOff: newBackOff,
	}, nil
}

// Get fetches path. Network errors and 5xx responses are retried.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	op := func() (json.RawMessage, error) {
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			return body, nil
		}
		var te *ierr.TransportError
		if errors.As(err, &te) && te.Temporary() && ctx.Err() == nil {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.MaxRetries), ctx)
	return backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		c.log.Debug("GET %s failed, retrying in %s: %v", path, wait, err)
	})
}

// Post sends body as JSON. Posts are not retried since the backend may have
// accepted the job before the failure.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Submit posts body to path and returns the task id the backend answers with.
// The response is a JSON string, or an object with a task_id field.
func (c *Client) Submit(ctx context.Context, path string, body any) (string, error) {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return "", err
	}
	id, err := decodeTaskID(resp)
	if err != nil {
		return "", ierr.NewTransportError("POST "+path, err)
	}
	c.log.Debug("submitted %s: task %s", path, id)
	return id, nil
}

func decodeTaskID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			return "", fmt.Errorf("empty task id in response")
		}
		return id, nil
	}
	var obj struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || obj.TaskID == "" {
		return "", fmt.Errorf("response is not a task id: %.80s", string(data))
	}
	return obj.TaskID, nil
}

// taskStatus is the body of GET /api/tasks/<id>/.
type taskStatus struct {
	Ready      bool            `json:"ready"`
	Successful bool            `json:"successful"`
	Result     json.RawMessage `json:"result"`
}

// FetchOutcome implements task.Fetcher against the backend's task endpoint.
func (c *Client) FetchOutcome(ctx context.Context, taskID string) (task.Outcome, bool, error) {
	path := "/api/tasks/" + url.PathEscape(taskID) + "/"
	body, err := c.Get(ctx, path)
	if err != nil {
		return task.Outcome{}, false, err
	}

	var st taskStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return task.Outcome{}, false, ierr.NewTransportError("GET "+path, fmt.Errorf("decoding task status: %w", err))
	}
	if !st.Ready {
		return task.Outcome{}, false, nil
	}
	return task.Outcome{TaskID: taskID, Successful: st.Successful, Result: st.Result}, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	op := method + " " + path

	ctx, span := c.tracer.Start(ctx, "api.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()

	fail := func(te *ierr.TransportError) (json.RawMessage, error) {
		span.RecordError(te)
		span.SetStatus(codes.Error, te.Error())
		status := "error"
		if te.StatusCode != 0 {
			status = strconv.Itoa(te.StatusCode)
		}
		c.cfg.Metrics.APIRequest(method, status)
		return nil, te
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(ierr.NewTransportError(op, err))
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRFToken", c.cfg.CSRFToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(ierr.NewTransportError(op, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(&ierr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err})
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody] + "..."
		}
		return fail(&ierr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(excerpt)})
	}

	c.cfg.Metrics.APIRequest(method, strconv.Itoa(resp.StatusCode))
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.base.String(), "/") + path
	}
	return c.base.ResolveReference(ref).String()
}
