package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/logging"
)

// SQLStore is the relational Store backend (spec §4.6/§6.2), grounded on
// the teacher's results.Backend: a pgxpool-backed table with
// exactly-named columns, created on first use, and a single-row insert
// per Append so writes stay transactional as spec §5 requires.
type SQLStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewSQLStore opens dsn, creates the history table if absent, and
// returns a ready Store.
func NewSQLStore(ctx context.Context, dsn string, logger logging.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history connection pool: %w", err)
	}
	s := &SQLStore{pool: pool, logger: logger.With(logging.F.String("component", "history_sql_store"))}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *SQLStore) Close() {
	s.pool.Close()
}

// createSchema matches spec §6.2's column names exactly, so the table is
// portable to any consumer reading the raw rows.
func (s *SQLStore) createSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS run_history (
			"Id" UUID PRIMARY KEY,
			"TestName" TEXT NOT NULL,
			"ExecutionDate" TIMESTAMPTZ NOT NULL,
			"DurationSeconds" DOUBLE PRECISION,
			"TotalRequests" BIGINT,
			"SuccessfulRequests" BIGINT,
			"FailedRequests" BIGINT,
			"ErrorRatePercent" DOUBLE PRECISION,
			"AverageResponseTimeMs" DOUBLE PRECISION,
			"MinResponseTimeMs" DOUBLE PRECISION,
			"MaxResponseTimeMs" DOUBLE PRECISION,
			"P95ResponseTimeMs" DOUBLE PRECISION,
			"P99ResponseTimeMs" DOUBLE PRECISION,
			"RequestsPerSecond" DOUBLE PRECISION,
			"CpuUsagePercent" DOUBLE PRECISION,
			"MemoryUsagePercent" DOUBLE PRECISION,
			"PerformanceImpact" INTEGER,
			"Status" INTEGER,
			"TestConfigurationId" UUID,
			"TestResultId" UUID
		)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating run_history table: %w", err)
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_run_history_test_name_date ON run_history ("TestName", "ExecutionDate")`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_test_name ON run_history ("TestName")`,
	}
	for _, idx := range indexes {
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("creating run_history index: %w", err)
		}
	}
	return nil
}

// Append implements Store with a single transactional row insert.
func (s *SQLStore) Append(ctx context.Context, result domain.RunResult) (domain.HistoryRecord, error) {
	rec := domain.HistoryRecordFromRunResult(result)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	const stmt = `
		INSERT INTO run_history (
			"Id", "TestName", "ExecutionDate", "DurationSeconds", "TotalRequests",
			"SuccessfulRequests", "FailedRequests", "ErrorRatePercent",
			"AverageResponseTimeMs", "MinResponseTimeMs", "MaxResponseTimeMs",
			"P95ResponseTimeMs", "P99ResponseTimeMs", "RequestsPerSecond",
			"CpuUsagePercent", "MemoryUsagePercent", "PerformanceImpact", "Status"
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.pool.Exec(ctx, stmt,
		rec.ID, rec.TestName, rec.ExecutionDate, rec.DurationSeconds, rec.TotalRequests,
		rec.SuccessfulRequests, rec.FailedRequests, rec.ErrorRatePercent,
		rec.AverageResponseTimeMs, rec.MinResponseTimeMs, rec.MaxResponseTimeMs,
		rec.P95ResponseTimeMs, rec.P99ResponseTimeMs, rec.RequestsPerSecond,
		rec.CPUUsagePercent, rec.MemoryUsagePercent, int(rec.PerformanceImpact), int(rec.Status),
	)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("inserting run_history row: %w", err)
	}
	return rec, nil
}

const selectColumns = `
	"Id", "TestName", "ExecutionDate", "DurationSeconds", "TotalRequests",
	"SuccessfulRequests", "FailedRequests", "ErrorRatePercent",
	"AverageResponseTimeMs", "MinResponseTimeMs", "MaxResponseTimeMs",
	"P95ResponseTimeMs", "P99ResponseTimeMs", "RequestsPerSecond",
	"CpuUsagePercent", "MemoryUsagePercent", "PerformanceImpact", "Status"`

func scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (domain.HistoryRecord, error) {
	var r domain.HistoryRecord
	var impact, status int
	err := row.Scan(
		&r.ID, &r.TestName, &r.ExecutionDate, &r.DurationSeconds, &r.TotalRequests,
		&r.SuccessfulRequests, &r.FailedRequests, &r.ErrorRatePercent,
		&r.AverageResponseTimeMs, &r.MinResponseTimeMs, &r.MaxResponseTimeMs,
		&r.P95ResponseTimeMs, &r.P99ResponseTimeMs, &r.RequestsPerSecond,
		&r.CPUUsagePercent, &r.MemoryUsagePercent, &impact, &status,
	)
	r.PerformanceImpact = domain.ImpactLevel(impact)
	r.Status = domain.RunStatus(status)
	return r, err
}

// ListByTest implements Store, oldest first.
func (s *SQLStore) ListByTest(ctx context.Context, name string) ([]domain.HistoryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM run_history WHERE "TestName" = $1 ORDER BY "ExecutionDate" ASC`, selectColumns)
	return s.query(ctx, query, name)
}

// Recent implements Store: newest first, at most n (n <= 0 means "all").
func (s *SQLStore) Recent(ctx context.Context, name string, n int) ([]domain.HistoryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM run_history WHERE "TestName" = $1 ORDER BY "ExecutionDate" DESC`, selectColumns)
	args := []interface{}{name}
	if n > 0 {
		query += " LIMIT $2"
		args = append(args, n)
	}
	return s.query(ctx, query, args...)
}

// ByRange implements Store.
func (s *SQLStore) ByRange(ctx context.Context, name string, from, to time.Time) ([]domain.HistoryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM run_history WHERE "TestName" = $1 AND "ExecutionDate" BETWEEN $2 AND $3 ORDER BY "ExecutionDate" ASC`, selectColumns)
	return s.query(ctx, query, name, from, to)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run_history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run_history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Baseline implements Store per spec §4.6: fetches the top-N recent rows
// with Status = Completed, ordered by execution date desc, and means
// them in the application tier, per the spec's explicit instruction for
// the relational backend.
func (s *SQLStore) Baseline(ctx context.Context, name string, sampleSize int) (domain.HistoryRecord, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM run_history WHERE "TestName" = $1 AND "Status" = $2 ORDER BY "ExecutionDate" DESC`, selectColumns)
	args := []interface{}{name, int(domain.StatusCompleted)}
	if sampleSize > 0 {
		query += " LIMIT $3"
		args = append(args, sampleSize)
	}

	completed, err := s.query(ctx, query, args...)
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	rec, ok := baselineFromRecent(name, completed)
	return rec, ok, nil
}

// Cleanup implements Store.
func (s *SQLStore) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tag, err := s.pool.Exec(ctx, `DELETE FROM run_history WHERE "ExecutionDate" < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up run_history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
