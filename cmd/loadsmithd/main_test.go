package main

import (
	"testing"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	scenarioFile, scenarioName = "", ""
	durationSec, users = 0, 0
	endpoint, method, sqlConnection, sqlProcedure, testType = "", "GET", "", "", "Api"
}

func TestApplyOverridesPatchesDurationAndUsers(t *testing.T) {
	resetFlags()
	defer resetFlags()

	durationSec = 45
	users = 10

	sc := domain.Scenario{
		LoadProfile: domain.LoadProfile{DurationSeconds: 30, MaxConcurrentUsers: 5},
		Settings:    domain.Settings{DurationSeconds: 30, ConcurrentUsers: 5},
	}
	out := applyOverrides(sc)

	require.Equal(t, 45, out.LoadProfile.DurationSeconds)
	require.Equal(t, 45, out.Settings.DurationSeconds)
	require.Equal(t, 10, out.LoadProfile.MaxConcurrentUsers)
	require.Equal(t, 10, out.Settings.ConcurrentUsers)
}

func TestApplyOverridesLeavesScenarioUntouchedWhenFlagsUnset(t *testing.T) {
	resetFlags()
	defer resetFlags()

	sc := domain.Scenario{
		LoadProfile: domain.LoadProfile{DurationSeconds: 30, MaxConcurrentUsers: 5},
		Settings:    domain.Settings{DurationSeconds: 30, ConcurrentUsers: 5},
	}
	out := applyOverrides(sc)

	require.Equal(t, sc, out)
}

func TestAdHocScenarioRequiresEndpointOrConnection(t *testing.T) {
	resetFlags()
	defer resetFlags()

	_, ok := adHocScenario()
	require.False(t, ok)
}

func TestAdHocScenarioBuildsHTTPStep(t *testing.T) {
	resetFlags()
	defer resetFlags()

	endpoint = "http://example.test/health"
	method = "POST"
	durationSec = 10
	users = 3

	sc, ok := adHocScenario()
	require.True(t, ok)
	require.Len(t, sc.Steps, 1)
	require.Equal(t, domain.StepHttpApi, sc.Steps[0].Type)
	require.Equal(t, "POST", sc.Steps[0].Configuration["method"])
	require.Equal(t, 10, sc.LoadProfile.DurationSeconds)
	require.Equal(t, 3, sc.LoadProfile.MaxConcurrentUsers)
}

func TestAdHocScenarioCombinedBuildsBothSteps(t *testing.T) {
	resetFlags()
	defer resetFlags()

	endpoint = "http://example.test/health"
	sqlConnection = "postgres://localhost/test"
	sqlProcedure = "refresh_view"
	testType = "Combined"

	sc, ok := adHocScenario()
	require.True(t, ok)
	require.Len(t, sc.Steps, 2)
	require.Equal(t, domain.StepHttpApi, sc.Steps[0].Type)
	require.Equal(t, domain.StepSqlProcedure, sc.Steps[1].Type)
}

func TestAdHocScenarioSqlOnlyIgnoresEndpoint(t *testing.T) {
	resetFlags()
	defer resetFlags()

	endpoint = "http://example.test/health"
	sqlConnection = "postgres://localhost/test"
	sqlProcedure = "refresh_view"
	testType = "Sql"

	sc, ok := adHocScenario()
	require.True(t, ok)
	require.Len(t, sc.Steps, 1)
	require.Equal(t, domain.StepSqlProcedure, sc.Steps[0].Type)
}
