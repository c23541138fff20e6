// Command loadsmithd is the orchestrator wrapper described in spec
// §6.3/§6.4: it loads a scenario document, runs one or every scenario it
// contains, persists each RunResult to history, computes a deviation
// report against the historical baseline when one exists, and emits a
// CI-friendly summary on stdout. CLI parsing, config-file loading, and
// CI emission are explicitly out-of-scope "collaborator" concerns per
// spec §1, so this package owns them the way the teacher's cmd/stormdb
// owns its own flag surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loadsmith/loadsmith/internal/adapters"
	"github.com/loadsmith/loadsmith/internal/analyzer"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/history"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/loadsmith/loadsmith/internal/orchestrator"
	"github.com/loadsmith/loadsmith/internal/scenario"
	"github.com/loadsmith/loadsmith/internal/script"
	"github.com/spf13/cobra"
)

var (
	scenarioFile  string
	scenarioName  string
	durationSec   int
	users         int
	endpoint      string
	method        string
	sqlConnection string
	sqlProcedure  string
	testType      string
	listScenarios bool

	scriptDir     string
	historyDSN    string
	retentionDays int
	logLevel      string
	showVersion   bool
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "loadsmithd",
		Short: "Run declarative load-test scenarios and report against their historical baseline",
		RunE: func(_ *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Printf("loadsmithd %s\n", version)
				return nil
			}
			return run()
		},
	}

	rootCmd.Flags().StringVar(&scenarioFile, "scenario-file", "scenarios.yaml", "Path to the scenario document")
	rootCmd.Flags().StringVar(&scenarioName, "scenario", "", "Run only the named scenario (default: run every loaded scenario)")
	rootCmd.Flags().IntVar(&durationSec, "duration", 0, "Override scenario duration in seconds")
	rootCmd.Flags().IntVar(&users, "users", 0, "Override concurrent user count")
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "", "HTTP endpoint for an ad hoc scenario (used when --scenario-file has no matching scenario)")
	rootCmd.Flags().StringVar(&method, "method", "GET", "HTTP method for an ad hoc scenario")
	rootCmd.Flags().StringVar(&sqlConnection, "sql-connection", "", "SQL connection string for an ad hoc scenario")
	rootCmd.Flags().StringVar(&sqlProcedure, "sql-procedure", "", "SQL procedure name for an ad hoc scenario")
	rootCmd.Flags().StringVar(&testType, "test-type", "Api", "Ad hoc scenario step mix: Api, Sql, or Combined")
	rootCmd.Flags().BoolVar(&listScenarios, "list-scenarios", false, "List the scenarios loaded from --scenario-file and exit")

	rootCmd.Flags().StringVar(&scriptDir, "script-dir", "", "Directory of CustomScript .so plugins (default: CustomScript steps are unsupported)")
	rootCmd.Flags().StringVar(&historyDSN, "history-dsn", "", "Postgres DSN for the history store (default: in-memory)")
	rootCmd.Flags().IntVar(&retentionDays, "retention-days", 90, "History retention window in days")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "Show version information and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	loader := scenario.NewLoader(logger)
	if err := loader.LoadFile(scenarioFile); err != nil {
		if scenarioFile != "" && (endpoint != "" || sqlConnection != "") {
			logger.Warn("scenario file unavailable, falling back to an ad hoc scenario from flags",
				logging.F.String("path", scenarioFile), logging.F.Err(err))
		} else {
			logger.Error("failed to load scenario file", err, logging.F.String("path", scenarioFile))
			return err
		}
	}

	if listScenarios {
		for _, name := range loader.Names() {
			fmt.Println(name)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildHistoryStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := buildDispatcher(logger)
	orch := orchestrator.New(loader, dispatcher, logger)
	analyze := analyzer.New(store)

	scenarios, err := resolveScenarios(loader)
	if err != nil {
		return err
	}

	failures := 0
	for _, sc := range scenarios {
		result, err := orch.Execute(ctx, sc)
		if err != nil {
			logger.Error("scenario run failed", err, logging.F.String("scenario", sc.Name))
			failures++
			continue
		}

		if _, histErr := store.Append(ctx, result); histErr != nil {
			logger.Warn("failed to persist run to history", logging.F.String("scenario", sc.Name), logging.F.Err(histErr))
		}

		report, ok, analyzeErr := analyze.Analyze(ctx, result)
		if analyzeErr != nil {
			logger.Warn("deviation analysis failed", logging.F.String("scenario", sc.Name), logging.F.Err(analyzeErr))
		}

		emitCIResult(result, report, ok)
		if !result.JudgedPassed {
			failures++
		}
	}

	if failures > 0 {
		logger.Warn("one or more scenarios did not pass", logging.F.Int("failures", failures))
	}
	return nil
}

// resolveScenarios decides what to run: the named scenario if one was
// requested and loaded, every loaded scenario if none was named, or a
// synthetic scenario built straight from flags when no scenario document
// could supply one.
func resolveScenarios(loader *scenario.Loader) ([]domain.Scenario, error) {
	if scenarioName != "" {
		sc, ok := loader.Get(scenarioName)
		if !ok {
			if adhoc, ok := adHocScenario(); ok {
				return []domain.Scenario{adhoc}, nil
			}
			return nil, &orchestrator.ConfigurationNotFoundError{Name: scenarioName}
		}
		return []domain.Scenario{applyOverrides(sc)}, nil
	}

	names := loader.Names()
	if len(names) == 0 {
		if adhoc, ok := adHocScenario(); ok {
			return []domain.Scenario{adhoc}, nil
		}
		return nil, fmt.Errorf("no scenarios loaded from %q and no --endpoint/--sql-connection given", scenarioFile)
	}

	out := make([]domain.Scenario, 0, len(names))
	for _, name := range names {
		sc, _ := loader.Get(name)
		out = append(out, applyOverrides(sc))
	}
	return out, nil
}

// applyOverrides patches the global knobs spec §6.3 allows the CLI to
// override; step-level configuration always comes from the scenario
// document.
func applyOverrides(sc domain.Scenario) domain.Scenario {
	if durationSec > 0 {
		sc.LoadProfile.DurationSeconds = durationSec
		sc.Settings.DurationSeconds = durationSec
	}
	if users > 0 {
		sc.LoadProfile.MaxConcurrentUsers = users
		sc.Settings.ConcurrentUsers = users
	}
	return sc
}

// adHocScenario builds a scenario from --endpoint/--sql-connection flags
// for invocations with no scenario file, matching the teacher's support
// for pure flag-driven runs: one HTTP step, one SQL procedure step, or
// both when --test-type is Combined.
func adHocScenario() (domain.Scenario, bool) {
	if endpoint == "" && sqlConnection == "" {
		return domain.Scenario{}, false
	}

	duration := durationSec
	if duration <= 0 {
		duration = 30
	}
	concurrency := users
	if concurrency <= 0 {
		concurrency = 1
	}

	var steps []domain.Step
	wantAPI := testType == "Api" || testType == "Combined"
	wantSQL := testType == "Sql" || testType == "Combined"

	if wantAPI && endpoint != "" {
		steps = append(steps, domain.Step{
			Name:    "adhoc-http",
			Type:    domain.StepHttpApi,
			Enabled: true,
			Configuration: map[string]interface{}{
				"method": method,
				"url":    endpoint,
			},
		})
	}
	if wantSQL && sqlConnection != "" {
		steps = append(steps, domain.Step{
			Name:    "adhoc-sql",
			Type:    domain.StepSqlProcedure,
			Enabled: true,
			Configuration: map[string]interface{}{
				"connection": sqlConnection,
				"procedure":  sqlProcedure,
			},
		})
	}
	if len(steps) == 0 {
		return domain.Scenario{}, false
	}

	return domain.Scenario{
		Name:          "adhoc",
		Description:   "ad hoc scenario synthesized from CLI flags",
		Steps:         steps,
		ExecutionMode: domain.ModeParallel,
		LoadProfile: domain.LoadProfile{
			Type:               domain.ProfileConstantRate,
			RatePerSec:         float64(concurrency),
			DurationSeconds:    duration,
			MaxConcurrentUsers: concurrency,
		},
		Settings: domain.Settings{
			DurationSeconds: duration,
			ConcurrentUsers: concurrency,
		},
	}, true
}

func buildDispatcher(logger logging.Logger) *adapters.Dispatcher {
	httpAdapter := adapters.NewHTTPAdapter(30*time.Second, logger)
	sqlAdapter := adapters.NewSQLAdapter(logger)

	var scriptRegistry *script.Registry
	if scriptDir != "" {
		scriptRegistry = script.NewRegistry(nil, logger)
		if _, err := script.Discover(scriptDir); err != nil {
			logger.Warn("failed to discover script plugins", logging.F.String("dir", scriptDir), logging.F.Err(err))
		}
	}

	return adapters.NewDispatcher(httpAdapter, sqlAdapter, scriptRegistry)
}

func buildHistoryStore(ctx context.Context, logger logging.Logger) (history.Store, func(), error) {
	if historyDSN == "" {
		store := history.NewMemoryStore()
		sweeper := history.NewRetentionSweeper(store, retentionDays, 0, logger)
		sweeper.Start(ctx)
		return store, sweeper.Stop, nil
	}

	store, err := history.NewSQLStore(ctx, historyDSN, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting history store: %w", err)
	}
	sweeper := history.NewRetentionSweeper(store, retentionDays, 0, logger)
	sweeper.Start(ctx)
	return store, func() {
		sweeper.Stop()
		store.Close()
	}, nil
}

// emitCIResult writes the tagged, line-oriented summary spec §6.4
// leaves as a collaborator concern: a SUCCESS/FAILURE line per scenario
// followed by key=value statistic lines.
func emitCIResult(result domain.RunResult, report domain.DeviationReport, hasReport bool) {
	status := "SUCCESS"
	if !result.JudgedPassed {
		status = "FAILURE"
	}
	fmt.Printf("%s %s\n", result.TestName, status)
	fmt.Printf("TotalRequests=%d\n", result.TotalRequests)
	fmt.Printf("SuccessfulRequests=%d\n", result.SuccessfulRequests)
	fmt.Printf("FailedRequests=%d\n", result.FailedRequests)
	fmt.Printf("ErrorRatePercent=%.4f\n", result.ErrorRatePercent)
	fmt.Printf("AverageResponseTimeMs=%.4f\n", result.Latency.AverageMs)
	fmt.Printf("P95ResponseTimeMs=%.4f\n", result.Latency.P95Ms)
	fmt.Printf("P99ResponseTimeMs=%.4f\n", result.Latency.P99Ms)
	fmt.Printf("RequestsPerSecond=%.4f\n", result.Throughput)
	fmt.Printf("CpuUsagePercent=%.4f\n", result.CPUAvgPercent)
	fmt.Printf("MemoryUsagePercent=%.4f\n", result.MemAvgPercent)
	fmt.Printf("PerformanceImpact=%s\n", result.Impact)

	if hasReport {
		fmt.Printf("BaselineDeviationPercent=%.4f\n", report.OverallDeviationScore)
		fmt.Printf("Trend=%s\n", report.Trend)
		fmt.Printf("Confidence=%.0f\n", report.ConfidencePercent)
	}
}
