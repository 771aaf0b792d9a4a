package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps a sqlx.DB with a circuit breaker
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	cb := NewCircuitBreaker("postgres", GetDatabaseConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgres", "unipost", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// PingContext wraps Ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	GlobalMetricsCollector.RecordRequest("postgres", "unipost", dw.cb.State(), err == nil)
	return err
}

// ExecContext wraps Exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var err2 error
		result, err2 = dw.db.ExecContext(ctx, query, args...)
		return err2
	})
	GlobalMetricsCollector.RecordRequest("postgres", "unipost", dw.cb.State(), err == nil)
	return result, err
}

// GetContext wraps sqlx Get with circuit breaker. sql.ErrNoRows is a miss,
// not a failure for breaker purposes.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var queryErr error
	err := dw.cb.Execute(ctx, func() error {
		queryErr = dw.db.GetContext(ctx, dest, query, args...)
		if queryErr == sql.ErrNoRows {
			return nil
		}
		return queryErr
	})
	success := err == nil
	GlobalMetricsCollector.RecordRequest("postgres", "unipost", dw.cb.State(), success)
	if err != nil {
		return err
	}
	return queryErr
}

// SelectContext wraps sqlx Select with circuit breaker
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
	GlobalMetricsCollector.RecordRequest("postgres", "unipost", dw.cb.State(), err == nil)
	return err
}

// QueryRowContext wraps QueryRow with circuit breaker. Row errors surface on Scan.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	var row *sql.Row
	_ = dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	return row
}

// Close closes the underlying database handle
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the underlying sqlx handle for operations not covered by the wrapper
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
