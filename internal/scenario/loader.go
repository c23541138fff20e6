// Package scenario loads and validates the declarative scenario
// documents the driver runs (spec §4.1/§6.1): a textual, case-insensitive
// tree of test scenarios plus global settings.
package scenario

import (
	"fmt"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/spf13/viper"
)

// InvalidSpecError reports a malformed scenario document; it is always
// raised at load time, never at run time (spec §7).
type InvalidSpecError struct {
	Step   string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("invalid scenario spec: %s", e.Reason)
	}
	return fmt.Sprintf("invalid scenario spec (step %q): %s", e.Step, e.Reason)
}

// rawDocument mirrors the wire shape from spec §6.1. Viper's
// case-insensitive key matching plus these mapstructure tags handle the
// "keys are case-insensitive" requirement.
type rawDocument struct {
	TestScenarios []rawScenario `mapstructure:"testScenarios"`
	GlobalSettings rawGlobal    `mapstructure:"globalSettings"`
}

type rawGlobal struct {
	DefaultTimeout       int                    `mapstructure:"defaultTimeout"`
	DefaultRetryCount    int                    `mapstructure:"defaultRetryCount"`
	PerformanceThresholds map[string]interface{} `mapstructure:"performanceThresholds"`
}

type rawScenario struct {
	Name          string                 `mapstructure:"name"`
	Description   string                 `mapstructure:"description"`
	ExecutionMode string                 `mapstructure:"executionMode"`
	LoadSimulation rawLoadSimulation     `mapstructure:"loadSimulation"`
	Steps         []rawStep              `mapstructure:"steps"`
	Settings      map[string]interface{} `mapstructure:"settings"`
}

type rawLoadSimulation struct {
	Type               string                 `mapstructure:"type"`
	Rate               float64                `mapstructure:"rate"`
	DurationSeconds    int                    `mapstructure:"durationSeconds"`
	RampUpSeconds      int                    `mapstructure:"rampUpSeconds"`
	MaxConcurrentUsers int                    `mapstructure:"maxConcurrentUsers"`
	Parameters         map[string]interface{} `mapstructure:"parameters"`
}

type rawStep struct {
	Name                 string                 `mapstructure:"name"`
	Type                 string                 `mapstructure:"type"`
	Configuration        map[string]interface{} `mapstructure:"configuration"`
	Weight               int                    `mapstructure:"weight"`
	Enabled              *bool                  `mapstructure:"enabled"`
	CombinedWithPrevious bool                   `mapstructure:"combinedWithPrevious"`
}

// Loader parses scenario documents and keeps the most recently loaded
// set by name, matching the "last wins with a warning" duplicate-name
// rule from spec §4.1. It replaces the source's process-wide scenario
// registry with an explicit handle (spec §9 design note).
type Loader struct {
	logger    logging.Logger
	scenarios map[string]domain.Scenario
	order     []string
}

// NewLoader constructs an empty Loader.
func NewLoader(logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Loader{
		logger:    logger.With(logging.F.String("component", "scenario_loader")),
		scenarios: make(map[string]domain.Scenario),
	}
}

// LoadFile reads a scenario document from path via viper and merges its
// scenarios into the Loader.
func (l *Loader) LoadFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading scenario file %q: %w", path, err)
	}

	var doc rawDocument
	if err := v.Unmarshal(&doc); err != nil {
		return fmt.Errorf("parsing scenario file %q: %w", path, err)
	}

	return l.loadDocument(doc)
}

func (l *Loader) loadDocument(doc rawDocument) error {
	for _, raw := range doc.TestScenarios {
		sc, err := convertScenario(raw, doc.GlobalSettings.PerformanceThresholds)
		if err != nil {
			return err
		}
		if err := sc.Validate(); err != nil {
			return &InvalidSpecError{Step: "", Reason: err.Error()}
		}

		if _, exists := l.scenarios[sc.Name]; exists {
			l.logger.Warn("duplicate scenario name, replacing previous definition",
				logging.F.String("scenario", sc.Name))
		} else {
			l.order = append(l.order, sc.Name)
		}
		l.scenarios[sc.Name] = sc
	}
	return nil
}

// Get resolves a scenario by name.
func (l *Loader) Get(name string) (domain.Scenario, bool) {
	sc, ok := l.scenarios[name]
	return sc, ok
}

// Names returns every loaded scenario name, in load order.
func (l *Loader) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func convertScenario(raw rawScenario, globalThresholds map[string]interface{}) (domain.Scenario, error) {
	if raw.Name == "" {
		return domain.Scenario{}, &InvalidSpecError{Reason: "scenario name is required"}
	}

	mode, err := domain.ParseExecutionMode(raw.ExecutionMode)
	if err != nil {
		return domain.Scenario{}, &InvalidSpecError{Step: raw.Name, Reason: err.Error()}
	}

	profile, err := convertLoadProfile(raw.LoadSimulation)
	if err != nil {
		return domain.Scenario{}, &InvalidSpecError{Step: raw.Name, Reason: err.Error()}
	}

	steps := make([]domain.Step, 0, len(raw.Steps))
	for _, rs := range raw.Steps {
		st, err := convertStep(rs)
		if err != nil {
			return domain.Scenario{}, err
		}
		steps = append(steps, st)
	}

	settings := convertSettings(raw.Settings, profile)
	thresholds := convertThresholds(globalThresholds, settings)

	return domain.Scenario{
		Name:          raw.Name,
		Description:   raw.Description,
		Steps:         steps,
		ExecutionMode: mode,
		LoadProfile:   profile,
		Settings:      settings,
		Thresholds:    thresholds,
	}, nil
}

func convertLoadProfile(raw rawLoadSimulation) (domain.LoadProfile, error) {
	ptype, err := domain.ParseLoadProfileType(raw.Type)
	if err != nil {
		return domain.LoadProfile{}, err
	}

	p := domain.LoadProfile{
		Type:               ptype,
		RatePerSec:         raw.Rate,
		DurationSeconds:    raw.DurationSeconds,
		RampUpSeconds:      raw.RampUpSeconds,
		MaxConcurrentUsers: raw.MaxConcurrentUsers,
	}

	params := raw.Parameters
	p.StartRatePerSec = floatParam(params, "startRps", raw.Rate)
	p.EndRatePerSec = floatParam(params, "endRps", raw.Rate)
	p.BaseRatePerSec = floatParam(params, "baseRps", raw.Rate)
	p.SpikeRatePerSec = floatParam(params, "spikeRps", raw.Rate)
	p.SpikeDuration = time.Duration(floatParam(params, "spikeDurationSeconds", 0) * float64(time.Second))
	p.SpikeStartSeconds = intParam(params, "spikeStartSeconds", 0)
	p.MaxConcurrency = intParam(params, "maxConcurrency", raw.MaxConcurrentUsers)

	if err := p.Validate(); err != nil {
		return domain.LoadProfile{}, err
	}
	return p, nil
}

func convertStep(raw rawStep) (domain.Step, error) {
	if raw.Name == "" {
		return domain.Step{}, &InvalidSpecError{Reason: "step name is required"}
	}
	stype, err := domain.ParseStepType(raw.Type)
	if err != nil {
		return domain.Step{}, &InvalidSpecError{Step: raw.Name, Reason: err.Error()}
	}

	weight := raw.Weight
	if weight <= 0 {
		weight = 1
	}
	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}

	st := domain.Step{
		Name:                 raw.Name,
		Type:                 stype,
		Configuration:        raw.Configuration,
		Weight:               weight,
		Enabled:              enabled,
		CombinedWithPrevious: raw.CombinedWithPrevious,
	}
	if err := st.Validate(); err != nil {
		return domain.Step{}, &InvalidSpecError{Step: raw.Name, Reason: err.Error()}
	}
	return st, nil
}

func convertSettings(raw map[string]interface{}, profile domain.LoadProfile) domain.Settings {
	s := domain.Settings{
		DurationSeconds:        profile.DurationSeconds,
		RampUpSeconds:          profile.RampUpSeconds,
		ConcurrentUsers:        profile.MaxConcurrentUsers,
		MaxErrorRatePercent:    5.0,
		ExpectedResponseTimeMs: 200.0,
	}
	if raw == nil {
		return s
	}
	if v := floatParam(raw, "concurrentUsers", float64(s.ConcurrentUsers)); v > 0 {
		s.ConcurrentUsers = int(v)
	}
	if v := floatParam(raw, "maxErrorRatePercent", s.MaxErrorRatePercent); v >= 0 {
		s.MaxErrorRatePercent = v
	}
	if v := floatParam(raw, "expectedResponseTimeMs", s.ExpectedResponseTimeMs); v >= 0 {
		s.ExpectedResponseTimeMs = v
	}
	return s
}

// convertThresholds resolves a scenario's ThresholdSet: the scenario's
// own settings-derived defaults, overridden by globalSettings'
// performanceThresholds (spec §6.1 places thresholds there, not under a
// scenario's own settings).
func convertThresholds(raw map[string]interface{}, settings domain.Settings) domain.ThresholdSet {
	t := domain.ThresholdSet{
		MaxErrorRatePercent: settings.MaxErrorRatePercent,
		MaxAverageMs:        settings.ExpectedResponseTimeMs,
		MaxP95Ms:            1.5 * settings.ExpectedResponseTimeMs,
		MaxP99Ms:            2.0 * settings.ExpectedResponseTimeMs,
	}
	if raw == nil {
		return t
	}
	if v, ok := raw["maxErrorRatePercent"]; ok {
		t.MaxErrorRatePercent = toFloat(v, t.MaxErrorRatePercent)
	}
	if v, ok := raw["maxAverageMs"]; ok {
		t.MaxAverageMs = toFloat(v, t.MaxAverageMs)
	}
	if v, ok := raw["maxP95Ms"]; ok {
		t.MaxP95Ms = toFloat(v, t.MaxP95Ms)
	}
	if v, ok := raw["maxP99Ms"]; ok {
		t.MaxP99Ms = toFloat(v, t.MaxP99Ms)
	}
	if v, ok := raw["minRps"]; ok {
		f := toFloat(v, 0)
		t.MinRps = &f
	}
	return t
}

func floatParam(m map[string]interface{}, key string, fallback float64) float64 {
	if m == nil {
		return fallback
	}
	v, ok := m[key]
	if !ok {
		return fallback
	}
	return toFloat(v, fallback)
}

func intParam(m map[string]interface{}, key string, fallback int) int {
	return int(floatParam(m, key, float64(fallback)))
}

func toFloat(v interface{}, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}
