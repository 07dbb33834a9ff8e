package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cocowallet-sync/internal/models"
)

// Outcome is the terminal result of one poll session.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Renderer displays a status snapshot. Render must be idempotent: rendering
// the same snapshot twice must produce identical observable output.
type Renderer interface {
	Render(snap models.SyncSnapshot)
}

// Control is the affordance that starts a sync (a button, a CLI invocation).
// It is disabled for the full duration of a session and re-enabled exactly
// once when the session reaches any terminal outcome.
type Control interface {
	Disable()
	Enable()
}

// Options tune a poll session.
type Options struct {
	// Interval between status fetches. Defaults to 1500ms.
	Interval time.Duration
	// MaxAttempts bounds the number of status fetches. 0 means unbounded.
	MaxAttempts int
	// OverallTimeout bounds the whole session wall-clock. 0 means unbounded.
	OverallTimeout time.Duration
	// CSRFHeader/CSRFToken are attached unmodified to the trigger request.
	CSRFHeader string
	CSRFToken  string
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Result describes how a session ended.
type Result struct {
	Outcome  Outcome
	Attempts int
	Last     models.SyncSnapshot
}

// Client triggers a named sync job and polls its status until terminal.
// One Client may run many sessions, but never concurrently: Run issues
// fetches strictly sequentially within a session.
type Client struct {
	startURL  string
	statusURL string
	renderer  Renderer
	control   Control
	opts      Options
	http      *http.Client
}

// New builds a client for one endpoint pair. renderer is required; control
// may be nil when no affordance needs guarding.
func New(startURL, statusURL string, renderer Renderer, control Control, opts Options) *Client {
	if opts.Interval <= 0 {
		opts.Interval = 1500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		startURL:  startURL,
		statusURL: statusURL,
		renderer:  renderer,
		control:   control,
		opts:      opts,
		http:      httpClient,
	}
}

// Run triggers the job and polls until a terminal outcome.
//
// The returned error is non-nil for client-side failures (trigger failure,
// poll transport failure, malformed payload, context cancellation). A job
// that itself reports "error" ends the session with OutcomeError and a nil
// error; the job's message is in Result.Last.
func (c *Client) Run(ctx context.Context) (Result, error) {
	c.disable()
	defer c.enable()

	if err := c.trigger(ctx); err != nil {
		snap := models.SyncSnapshot{Status: models.SyncError, Message: err.Error()}
		c.renderer.Render(snap)
		return Result{Outcome: OutcomeError, Last: snap}, err
	}

	return c.poll(ctx)
}

// trigger issues the one-shot start request. Any non-2xx response or
// transport failure is fatal; no poll session starts.
func (c *Client) trigger(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.startURL, nil)
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	if c.opts.CSRFHeader != "" && c.opts.CSRFToken != "" {
		req.Header.Set(c.opts.CSRFHeader, c.opts.CSRFToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trigger sync: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) poll(ctx context.Context) (Result, error) {
	var deadline time.Time
	if c.opts.OverallTimeout > 0 {
		deadline = time.Now().Add(c.opts.OverallTimeout)
	}

	timer := time.NewTimer(c.opts.Interval)
	defer timer.Stop()

	res := Result{}
	for {
		select {
		case <-ctx.Done():
			snap := models.SyncSnapshot{Status: models.SyncError, Message: ctx.Err().Error()}
			c.renderer.Render(snap)
			res.Outcome = OutcomeError
			res.Last = snap
			return res, ctx.Err()
		case <-timer.C:
		}

		res.Attempts++
		snap, err := c.fetchStatus(ctx)
		if err != nil {
			// A single failed fetch ends the session; the user retries
			// by re-triggering.
			snap = models.SyncSnapshot{Status: models.SyncError, Message: err.Error()}
			c.renderer.Render(snap)
			res.Outcome = OutcomeError
			res.Last = snap
			return res, err
		}

		switch snap.Status {
		case models.SyncSuccess:
			snap.Progress = 100
			c.renderer.Render(snap)
			res.Outcome = OutcomeSuccess
			res.Last = snap
			return res, nil
		case models.SyncError:
			c.renderer.Render(snap)
			res.Outcome = OutcomeError
			res.Last = snap
			return res, nil
		}

		// idle, running, or an unrecognized value: still in flight.
		c.renderer.Render(snap)
		res.Last = snap

		if c.opts.MaxAttempts > 0 && res.Attempts >= c.opts.MaxAttempts {
			return c.timeout(res, fmt.Sprintf("no terminal state after %d polls", res.Attempts)), nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return c.timeout(res, fmt.Sprintf("no terminal state after %s", c.opts.OverallTimeout)), nil
		}
		timer.Reset(c.opts.Interval)
	}
}

func (c *Client) timeout(res Result, message string) Result {
	snap := models.SyncSnapshot{
		Status:   string(OutcomeTimeout),
		Progress: res.Last.Progress,
		Message:  message,
	}
	c.renderer.Render(snap)
	res.Outcome = OutcomeTimeout
	res.Last = snap
	return res
}

// fetchStatus performs one status fetch. A 2xx body whose status field is
// missing or empty is treated as malformed and fails the session.
func (c *Client) fetchStatus(ctx context.Context) (models.SyncSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.SyncSnapshot{}, fmt.Errorf("fetch status: status %d", resp.StatusCode)
	}

	var snap models.SyncSnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&snap); err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("decode status payload: %w", err)
	}
	if snap.Status == "" {
		return models.SyncSnapshot{}, fmt.Errorf("malformed status payload: missing status field")
	}
	if snap.Progress < 0 {
		snap.Progress = 0
	} else if snap.Progress > 100 {
		snap.Progress = 100
	}
	return snap, nil
}

func (c *Client) disable() {
	if c.control != nil {
		c.control.Disable()
	}
}

func (c *Client) enable() {
	if c.control != nil {
		c.control.Enable()
	}
}
