package scenario

import (
	"testing"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/stretchr/testify/require"
)

func baseScenario(name string) rawScenario {
	return rawScenario{
		Name:          name,
		ExecutionMode: "Parallel",
		LoadSimulation: rawLoadSimulation{
			Type:            "ConstantRate",
			Rate:            50,
			DurationSeconds: 10,
			RampUpSeconds:   2,
		},
		Steps: []rawStep{
			{
				Name: "get-ok",
				Type: "HttpApi",
				Configuration: map[string]interface{}{
					"method": "GET",
					"url":    "http://localhost:18080/ok",
				},
				Weight: 1,
			},
		},
	}
}

func TestLoadDocumentParsesScenario(t *testing.T) {
	l := NewLoader(nil)
	err := l.loadDocument(rawDocument{TestScenarios: []rawScenario{baseScenario("s1")}})
	require.NoError(t, err)

	sc, ok := l.Get("s1")
	require.True(t, ok)
	require.Equal(t, domain.ModeParallel, sc.ExecutionMode)
	require.Equal(t, domain.ProfileConstantRate, sc.LoadProfile.Type)
	require.Len(t, sc.Steps, 1)
}

func TestLoadDocumentTolerantSynonyms(t *testing.T) {
	l := NewLoader(nil)
	raw := baseScenario("s2")
	raw.LoadSimulation.Type = "Constant"
	raw.Steps[0].Type = "Http"
	err := l.loadDocument(rawDocument{TestScenarios: []rawScenario{raw}})
	require.NoError(t, err)

	sc, ok := l.Get("s2")
	require.True(t, ok)
	require.Equal(t, domain.ProfileConstantRate, sc.LoadProfile.Type)
	require.Equal(t, domain.StepHttpApi, sc.Steps[0].Type)
}

func TestLoadDocumentUnknownStepTypeFails(t *testing.T) {
	l := NewLoader(nil)
	raw := baseScenario("s3")
	raw.Steps[0].Type = "Teleport"
	err := l.loadDocument(rawDocument{TestScenarios: []rawScenario{raw}})
	require.Error(t, err)
	var invalid *InvalidSpecError
	require.ErrorAs(t, err, &invalid)
}

func TestLoadDocumentDuplicateNameLastWins(t *testing.T) {
	l := NewLoader(nil)
	first := baseScenario("dup")
	second := baseScenario("dup")
	second.Description = "second"

	require.NoError(t, l.loadDocument(rawDocument{TestScenarios: []rawScenario{first, second}}))

	sc, ok := l.Get("dup")
	require.True(t, ok)
	require.Equal(t, "second", sc.Description)
	require.Len(t, l.Names(), 1)
}

func TestLoadDocumentMissingHttpMethodFails(t *testing.T) {
	l := NewLoader(nil)
	raw := baseScenario("s4")
	raw.Steps[0].Configuration = map[string]interface{}{"url": "http://x"}
	err := l.loadDocument(rawDocument{TestScenarios: []rawScenario{raw}})
	require.Error(t, err)
}

func TestLoadDocumentThresholdsComeFromGlobalSettings(t *testing.T) {
	l := NewLoader(nil)
	doc := rawDocument{
		TestScenarios: []rawScenario{baseScenario("s5")},
		GlobalSettings: rawGlobal{
			PerformanceThresholds: map[string]interface{}{
				"maxErrorRatePercent": 1.0,
				"minRps":              30,
			},
		},
	}
	require.NoError(t, l.loadDocument(doc))

	sc, ok := l.Get("s5")
	require.True(t, ok)
	require.Equal(t, 1.0, sc.Thresholds.MaxErrorRatePercent)
	require.NotNil(t, sc.Thresholds.MinRps)
	require.Equal(t, 30.0, *sc.Thresholds.MinRps)
}
