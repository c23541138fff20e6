package adapters

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdapterClassifiesSuccess(t *testing.T) {
	srv := httptest.NewServer(okHandler())
	defer srv.Close()

	a := NewHTTPAdapter(time.Second, nil)
	step := domain.Step{
		Name: "get-ok",
		Type: domain.StepHttpApi,
		Configuration: map[string]interface{}{
			"method": "GET",
			"url":    srv.URL,
		},
	}

	res := a.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeOK, res.Outcome)
	require.NoError(t, res.Err)
	require.GreaterOrEqual(t, res.LatencyMs, 0.0)
}

func TestHTTPAdapterClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(statusHandler(404))
	defer srv.Close()

	a := NewHTTPAdapter(time.Second, nil)
	step := domain.Step{
		Name:          "get-missing",
		Type:          domain.StepHttpApi,
		Configuration: map[string]interface{}{"method": "GET", "url": srv.URL},
	}

	res := a.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeFailRequest, res.Outcome)
}

func TestHTTPAdapterClassifiesServerErrorAsFailRequest(t *testing.T) {
	srv := httptest.NewServer(statusHandler(503))
	defer srv.Close()

	a := NewHTTPAdapter(time.Second, nil)
	step := domain.Step{
		Name:          "get-down",
		Type:          domain.StepHttpApi,
		Configuration: map[string]interface{}{"method": "GET", "url": srv.URL},
	}

	res := a.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeFailRequest, res.Outcome)
}

func TestHTTPAdapterUnreachableHostIsTransportFailure(t *testing.T) {
	a := NewHTTPAdapter(200*time.Millisecond, nil)
	step := domain.Step{
		Name:          "get-unreachable",
		Type:          domain.StepHttpApi,
		Configuration: map[string]interface{}{"method": "GET", "url": "http://127.0.0.1:1"},
	}

	res := a.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeFailTransport, res.Outcome)
	require.Error(t, res.Err)
}

func TestDispatcherRunsWaitStep(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := domain.Step{
		Name:          "pause",
		Type:          domain.StepWait,
		Configuration: map[string]interface{}{"durationMs": 5.0},
	}

	res := d.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeOK, res.Outcome)
	require.GreaterOrEqual(t, res.LatencyMs, 5.0)
}

func TestDispatcherRunsWaitStepWithIntConfig(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := domain.Step{
		Name:          "pause",
		Type:          domain.StepWait,
		Configuration: map[string]interface{}{"durationMs": 5},
	}

	res := d.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeOK, res.Outcome)
	require.GreaterOrEqual(t, res.LatencyMs, 5.0)
}

func TestDispatcherRejectsUnsupportedStepType(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	step := domain.Step{Name: "script", Type: domain.StepCustomScript}

	res := d.Execute(context.Background(), step)
	require.Equal(t, domain.OutcomeFailRequest, res.Outcome)
	require.Error(t, res.Err)
}
