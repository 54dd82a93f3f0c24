package database

import (
	"context"
	"errors"
	"time"
)

// Standard errors for store operations. Every backend (SurrealDB, SQLite,
// memory) reports through these so callers can classify with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a unique constraint violation (active ticket, identifier).
	ErrDuplicate = errors.New("duplicate record")

	// ErrConflict indicates a compare-and-swap guard failed.
	ErrConflict = errors.New("write conflict")

	// ErrAborted indicates the engine cancelled a transaction because a
	// concurrent one touched the same keys. Re-running it may succeed.
	ErrAborted = errors.New("transaction aborted")

	// ErrConnection indicates the backend is unavailable or busy.
	ErrConnection = errors.New("database connection error")

	// ErrQuery indicates a query execution failure (syntax error, invalid reference, etc.).
	ErrQuery = errors.New("query error")
)

// IsTransient reports whether err is worth retrying unchanged
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrAborted) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Database defines the interface for SurrealDB-style query access
type Database interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Query executes a query and returns one wrapped result per statement
	Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error)

	// QueryOne executes a query and returns the first record of the first statement
	QueryOne(ctx context.Context, query string, vars map[string]interface{}) (interface{}, error)

	// Execute runs a query without returning results (for mutations)
	Execute(ctx context.Context, query string, vars map[string]interface{}) error
}

// Config holds database configuration
type Config struct {
	Host      string
	Port      string
	User      string
	Password  string
	Namespace string
	Database  string
	// ConnectTimeout bounds Connect when the caller context has no deadline
	ConnectTimeout time.Duration
}
