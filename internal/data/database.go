package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pizzapalace/internal/logger"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Database connection pool configuration
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
	openRetries     = 3
)

// TimeFormat is fixed width so stored UTC timestamps sort as text.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var ErrNotFound = errors.New("record not found")

// =============================================================================
// DATABASE CONNECTION AND SETUP
// =============================================================================

// DB wraps the pooled sqlite handle shared by the stores.
type DB struct {
	conn *sql.DB
	path string
}

// Open connects to the sqlite database with pooling, retries and pragmas.
func Open(dataSourceName string) (*DB, error) {
	conn, err := openWithRetry(dataSourceName, openRetries)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn, path: dataSourceName}, nil
}

func openWithRetry(dataSourceName string, maxRetries int) (*sql.DB, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := sql.Open("sqlite", dataSourceName)
		if err != nil {
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
		}

		// Configure connection pool
		conn.SetMaxOpenConns(maxOpenConns)
		conn.SetMaxIdleConns(maxIdleConns)
		conn.SetConnMaxLifetime(connMaxLifetime)
		conn.SetConnMaxIdleTime(connMaxIdleTime)

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = conn.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			conn.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		if err := enablePragmas(conn); err != nil {
			// Don't fail initialization for pragma errors
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
		}

		logger.LogInfo("Database connection established successfully (attempt %d)", attempt)
		return conn, nil
	}

	return nil, fmt.Errorf("failed to initialize database after %d attempts", maxRetries)
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()

	if err := d.conn.PingContext(ctx); err != nil {
		logger.LogError("Database health check failed: %v", err)
		return fmt.Errorf("database connection unhealthy: %w", err)
	}
	return nil
}

func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection gracefully
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// =============================================================================
// SCHEMA DEFINITIONS
// =============================================================================

const kvTableSchema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv_store(updated_at);`

const ordersTableSchema = `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		provider_order_id TEXT,
		capture_id TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		items_json TEXT DEFAULT '[]',
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		payment_method TEXT,
		status TEXT NOT NULL,
		failure_code TEXT,
		details TEXT,
		created_at TEXT NOT NULL,
		paid_at TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_provider_order_id ON orders(provider_order_id);
	CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);`

// =============================================================================
// TABLE CREATION
// =============================================================================

func (d *DB) CreateTables() error {
	tables := []struct {
		name   string
		schema string
	}{
		{"kv_store", kvTableSchema},
		{"orders", ordersTableSchema},
	}

	for _, table := range tables {
		if _, err := d.conn.Exec(table.schema); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}
	return nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(TimeFormat, timeStr)
}

func parseNullableTime(nullStr sql.NullString) (*time.Time, error) {
	if !nullStr.Valid || nullStr.String == "" {
		return nil, nil
	}

	parsedTime, err := time.Parse(TimeFormat, nullStr.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time: %w", err)
	}
	return &parsedTime, nil
}

// escapeLike makes s match literally inside a LIKE pattern using '\' as
// the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// GENERIC DATABASE OPERATIONS
// =============================================================================

// execDB executes a statement with the standard query timeout
func (d *DB) execDB(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database exec failed: query=%s, error=%v", compactQuery(query), err)
		return nil, fmt.Errorf("database execution failed: %w", err)
	}
	return result, nil
}

// queryDB runs fn over the rows of a query. The timeout covers iteration.
func (d *DB) queryDB(ctx context.Context, fn func(*sql.Rows) error, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database query failed: query=%s, error=%v", compactQuery(query), err)
		return fmt.Errorf("database query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// queryRowDB scans a single row, mapping sql.ErrNoRows to ErrNotFound.
func (d *DB) queryRowDB(ctx context.Context, dest []interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := d.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

func compactQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
