package service

import (
	"context"
	"fmt"
	"time"

	"askdb/internal/core"
	"askdb/internal/driver"
	"askdb/internal/metrics"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 30 * time.Second
	MaxTimeout          = 2 * time.Minute
	DefaultMaxRows      = 1000
	DefaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type QueryExecutorOptions struct {
	DefaultTimeout time.Duration
	DefaultMaxRows int
	Clock          clockwork.Clock
	Logger         zerolog.Logger
}

// QueryExecutor validates, bounds and runs SQL, and records one history
// entry per natural-language attempt.
type QueryExecutor struct {
	conns          *ConnectionManager
	generator      *QueryGenerator
	history        core.HistoryRepository
	guard          *core.SQLGuard
	defaultTimeout time.Duration
	defaultMaxRows int
	clock          clockwork.Clock
	log            zerolog.Logger
}

func NewQueryExecutor(conns *ConnectionManager, generator *QueryGenerator, history core.HistoryRepository, opts QueryExecutorOptions) *QueryExecutor {
	if opts.DefaultTimeout <= 0 || opts.DefaultTimeout > MaxTimeout {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.DefaultMaxRows <= 0 {
		opts.DefaultMaxRows = DefaultMaxRows
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &QueryExecutor{
		conns:          conns,
		generator:      generator,
		history:        history,
		guard:          core.NewSQLGuard(),
		defaultTimeout: opts.DefaultTimeout,
		defaultMaxRows: opts.DefaultMaxRows,
		clock:          opts.Clock,
		log:            opts.Logger.With().Str("component", "executor").Logger(),
	}
}

// ExecuteNaturalLanguage generates SQL for question and, unless DryRun is
// set, runs it. Generation and connection failures are returned as errors;
// unsafe SQL and execution failures come back as a result with
// Success=false.
func (e *QueryExecutor) ExecuteNaturalLanguage(ctx context.Context, userID, connectionID, question string, opts core.ExecuteOptions) (result *core.ExecutionResult, err error) {
	conn, err := e.conns.Resolve(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	startTime := e.clock.Now()
	generatedSQL := core.GenerationFailedSQL
	dryRun := false

	// One history entry per attempt, whatever the outcome
	defer func() {
		if dryRun {
			return
		}
		entry := &core.QueryHistoryEntry{
			UserID:          userID,
			ConnectionID:    connectionID,
			Question:        question,
			GeneratedSQL:    generatedSQL,
			ExecutionTimeMs: e.clock.Since(startTime).Milliseconds(),
			CreatedAt:       startTime.UTC(),
		}
		switch {
		case err != nil:
			entry.Error = err.Error()
		case result != nil:
			entry.Success = result.Success
			entry.RowCount = result.RowCount
			entry.Error = result.Error
		}
		e.recordHistory(ctx, entry)
	}()

	gen, err := e.generator.Generate(ctx, userID, connectionID, question, GenerateOptions{MaxRows: e.maxRows(opts.MaxRows)})
	if err != nil {
		var unsafe *core.UnsafeQueryError
		if errors.As(err, &unsafe) {
			generatedSQL = unsafe.SQL
			metrics.QueriesTotal.WithLabelValues(string(conn.Dialect), metrics.StatusUnsafe).Inc()
			return &core.ExecutionResult{
				Success:      false,
				GeneratedSQL: unsafe.SQL,
				Error:        err.Error(),
				ErrorKind:    core.ErrorKindUnsafe,
			}, nil
		}
		return nil, err
	}
	generatedSQL = gen.SQL

	if opts.DryRun {
		dryRun = true
		return &core.ExecutionResult{
			Success:      true,
			DryRun:       true,
			GeneratedSQL: gen.SQL,
			Explanation:  gen.Explanation,
			Confidence:   gen.Confidence,
			Warnings:     gen.Warnings,
		}, nil
	}

	res, err := e.ExecuteSQL(ctx, userID, connectionID, gen.SQL, opts)
	if err != nil {
		return nil, err
	}
	res.Explanation = gen.Explanation
	res.Confidence = gen.Confidence
	res.Warnings = append(append([]string{}, gen.Warnings...), res.Warnings...)
	return res, nil
}

// ExecuteSQL re-validates sqlText and runs it under the clamped limits.
func (e *QueryExecutor) ExecuteSQL(ctx context.Context, userID, connectionID, sqlText string, opts core.ExecuteOptions) (*core.ExecutionResult, error) {
	conn, err := e.conns.Resolve(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	dialect := string(conn.Dialect)

	// Never trust that the generator validated
	if err := e.guard.Validate(sqlText); err != nil {
		metrics.QueriesTotal.WithLabelValues(dialect, metrics.StatusUnsafe).Inc()
		return &core.ExecutionResult{
			Success:      false,
			GeneratedSQL: core.CleanSQL(sqlText),
			Error:        err.Error(),
			ErrorKind:    core.ErrorKindUnsafe,
		}, nil
	}

	pool, err := e.conns.GetOrCreatePool(ctx, userID, connectionID)
	if err != nil {
		if errors.Is(err, core.ErrConnectionNotFound) {
			return nil, err
		}
		metrics.QueriesTotal.WithLabelValues(dialect, metrics.StatusError).Inc()
		return &core.ExecutionResult{
			Success:      false,
			GeneratedSQL: core.CleanSQL(sqlText),
			Error:        err.Error(),
			ErrorKind:    core.ErrorKindDriver,
		}, nil
	}

	limits := driver.Limits{Timeout: e.timeout(opts.Timeout), MaxRows: e.maxRows(opts.MaxRows)}
	executed := pool.EnsureLimit(sqlText, limits.MaxRows)

	start := e.clock.Now()
	out, err := pool.Execute(ctx, sqlText, limits)
	elapsed := e.clock.Since(start)
	metrics.QueryDuration.WithLabelValues(dialect).Observe(elapsed.Seconds())

	if err != nil {
		kind := core.Classify(err)
		status := metrics.StatusError
		if kind == core.ErrorKindTimeout {
			status = metrics.StatusTimeout
		}
		metrics.QueriesTotal.WithLabelValues(dialect, status).Inc()
		e.log.Warn().Err(err).Str("connection_id", connectionID).Str("kind", string(kind)).Dur("elapsed", elapsed).Msg("query failed")
		return &core.ExecutionResult{
			Success:         false,
			GeneratedSQL:    executed,
			ExecutionTimeMs: elapsed.Milliseconds(),
			Error:           err.Error(),
			ErrorKind:       kind,
		}, nil
	}

	metrics.QueriesTotal.WithLabelValues(dialect, metrics.StatusSuccess).Inc()
	result := &core.ExecutionResult{
		Success:         true,
		GeneratedSQL:    executed,
		Columns:         out.Columns,
		Rows:            out.Rows,
		RowCount:        len(out.Rows),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if result.RowCount == limits.MaxRows {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Results truncated to %d rows.", limits.MaxRows))
	}
	return result, nil
}

func (e *QueryExecutor) GetHistory(ctx context.Context, userID, connectionID string, limit int) ([]core.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return e.history.ListByConnection(ctx, userID, connectionID, limit)
}

func (e *QueryExecutor) ClearHistory(ctx context.Context, userID, connectionID string) error {
	return e.history.ClearForConnection(ctx, userID, connectionID)
}

// recordHistory never fails the caller.
func (e *QueryExecutor) recordHistory(ctx context.Context, entry *core.QueryHistoryEntry) {
	if err := e.history.Append(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn().Err(errors.Wrap(core.ErrHistoryPersistence, err.Error())).
			Str("connection_id", entry.ConnectionID).Msg("failed to write query history")
	}
}

// timeout applies the default and the hard ceiling.
func (e *QueryExecutor) timeout(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return e.defaultTimeout
	case requested > MaxTimeout:
		return MaxTimeout
	default:
		return requested
	}
}

func (e *QueryExecutor) maxRows(requested int) int {
	if requested <= 0 {
		return e.defaultMaxRows
	}
	return requested
}
