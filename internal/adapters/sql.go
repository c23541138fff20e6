package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/loadsmith/loadsmith/internal/resilience"
)

// SQLAdapter executes StepSqlProcedure, StepSqlQuery and
// StepDatabaseConnection steps against PostgreSQL via pgx, pooling one
// *pgxpool.Pool per distinct connection string and one circuit breaker
// per connection so a failing database only trips its own breaker.
type SQLAdapter struct {
	logger  logging.Logger
	manager *resilience.Manager

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewSQLAdapter builds an adapter with no pools yet open; pools are
// created lazily on first use of each connection string.
func NewSQLAdapter(logger logging.Logger) *SQLAdapter {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &SQLAdapter{
		logger:  logger.With(logging.F.String("component", "sql_adapter")),
		manager: resilience.NewManager(logger),
		pools:   make(map[string]*pgxpool.Pool),
	}
}

// Close shuts down every pool this adapter opened.
func (a *SQLAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for conn, pool := range a.pools {
		pool.Close()
		delete(a.pools, conn)
	}
}

func (a *SQLAdapter) pool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pool, ok := a.pools[connString]; ok {
		return pool, nil
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("opening connection pool: %w", err)
	}
	a.pools[connString] = pool
	a.logger.Info("opened sql connection pool", logging.F.String("connection", redact(connString)))
	return pool, nil
}

// Execute runs a SqlProcedure or SqlQuery step. Configuration carries
// "connection" (a pgx connection string), and either "procedure" plus
// "parameters" ([]interface{}) or "query" plus "parameters".
func (a *SQLAdapter) Execute(ctx context.Context, step domain.Step) StepResult {
	start := time.Now()

	connString, _ := step.Configuration["connection"].(string)
	pool, err := a.pool(ctx, connString)
	if err != nil {
		return transportFailure(start, fmt.Errorf("step %q: %w", step.Name, err))
	}

	params, _ := step.Configuration["parameters"].([]interface{})

	var stmt string
	if step.Type == domain.StepSqlProcedure {
		procedure, _ := step.Configuration["procedure"].(string)
		stmt = buildProcedureCall(procedure, len(params))
	} else {
		stmt, _ = step.Configuration["query"].(string)
	}

	// Only connectivity failures are returned to the breaker; an
	// application-level error is carried out separately so it never
	// counts toward tripping it.
	var appErr error
	breaker := a.manager.GetOrCreate(connString, resilience.Config{Name: connString})
	execErr := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		_, err := pool.Exec(ctx, stmt, params...)
		if err != nil && !isConnectivityError(err) {
			appErr = err
			return nil
		}
		return err
	})

	latency := msSince(start)
	if execErr != nil {
		if isConnectivityError(execErr) {
			return StepResult{Outcome: domain.OutcomeFailTransport, LatencyMs: latency, Err: execErr}
		}
		return StepResult{Outcome: domain.OutcomeFailRequest, LatencyMs: latency, Err: execErr}
	}
	if appErr != nil {
		return StepResult{Outcome: domain.OutcomeFailRequest, LatencyMs: latency, Err: appErr}
	}
	return StepResult{Outcome: domain.OutcomeOK, LatencyMs: latency}
}

// ExecuteConnectionProbe opens and immediately closes a fresh,
// unpooled connection, measuring pure connection-establishment latency
// for StepDatabaseConnection steps.
func (a *SQLAdapter) ExecuteConnectionProbe(ctx context.Context, step domain.Step) StepResult {
	start := time.Now()

	connString, _ := step.Configuration["connection"].(string)
	conn, err := pgx.Connect(ctx, connString)
	latency := msSince(start)
	if err != nil {
		return StepResult{Outcome: domain.OutcomeFailTransport, LatencyMs: latency, Err: fmt.Errorf("step %q: %w", step.Name, err)}
	}
	_ = conn.Close(ctx)
	return StepResult{Outcome: domain.OutcomeOK, LatencyMs: latency}
}

func buildProcedureCall(procedure string, paramCount int) string {
	placeholders := ""
	for i := 1; i <= paramCount; i++ {
		if i > 1 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i)
	}
	return fmt.Sprintf("CALL %s(%s)", procedure, placeholders)
}

// isConnectivityError distinguishes a transport-level failure (the
// database is unreachable) from an application-level one (the call was
// made but failed, e.g. a constraint violation). pgx network errors
// don't carry a stable sentinel, so this treats "could not connect"
// style messages as transport failures.
func isConnectivityError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connect") || strings.Contains(msg, "connection") || strings.Contains(msg, "timeout")
}

// redact strips credentials from a connection string before logging it.
func redact(connString string) string {
	at := strings.Index(connString, "@")
	scheme := strings.Index(connString, "://")
	if at < 0 || scheme < 0 {
		return connString
	}
	return connString[:scheme+3] + "***" + connString[at:]
}
