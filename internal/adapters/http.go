package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/loadsmith/loadsmith/internal/resilience"
)

// HTTPAdapter executes StepHttpApi steps against a plain net/http client,
// one circuit breaker per endpoint so a failing target doesn't keep
// eating worker time for unrelated endpoints.
type HTTPAdapter struct {
	client  *http.Client
	logger  logging.Logger
	manager *resilience.Manager
}

// NewHTTPAdapter builds an adapter sharing one client and breaker manager
// across every HttpApi step in a run.
func NewHTTPAdapter(timeout time.Duration, logger logging.Logger) *HTTPAdapter {
	if logger == nil {
		logger = logging.NewDefault()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(logging.F.String("component", "http_adapter")),
		manager: resilience.NewManager(logger),
	}
}

// Execute issues the HTTP request described by step.Configuration
// (method, url, optional headers map and body string) and classifies the
// response.
func (a *HTTPAdapter) Execute(ctx context.Context, step domain.Step) StepResult {
	start := time.Now()

	method, _ := step.Configuration["method"].(string)
	url, _ := step.Configuration["url"].(string)
	body, _ := step.Configuration["body"].(string)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return transportFailure(start, fmt.Errorf("step %q: building request: %w", step.Name, err))
	}
	if headers, ok := step.Configuration["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	breaker := a.manager.GetOrCreate(url, resilience.Config{Name: url})

	var resp *http.Response
	execErr := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = a.client.Do(req)
		return doErr
	})

	latency := msSince(start)
	if execErr != nil {
		a.logger.Debug("http step transport failure",
			logging.F.String("step", step.Name), logging.F.Err(execErr))
		return StepResult{Outcome: domain.OutcomeFailTransport, LatencyMs: latency, Err: execErr}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StepResult{
			Outcome:   domain.OutcomeFailRequest,
			LatencyMs: latency,
			Err:       fmt.Errorf("step %q: non-2xx status %d", step.Name, resp.StatusCode),
		}
	}
	return StepResult{Outcome: domain.OutcomeOK, LatencyMs: latency}
}
