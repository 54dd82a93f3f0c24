package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// THROW messages raised by queuedesk SurrealQL scripts. The server reports
// them as "An error occurred: <message>".
const (
	ThrowNotFound  = "queuedesk:not_found"
	ThrowConflict  = "queuedesk:conflict"
	ThrowDuplicate = "queuedesk:duplicate"
)

// failedTxMessage is reported for every statement of a cancelled transaction
// except the one that caused it.
const failedTxMessage = "not executed due to a failed transaction"

// SurrealDB implements the Database interface for SurrealDB
type SurrealDB struct {
	db     *surrealdb.DB
	config Config
}

// NewSurrealDB creates a new SurrealDB instance
func NewSurrealDB(cfg Config) *SurrealDB {
	return &SurrealDB{
		config: cfg,
	}
}

// Connect establishes a connection to SurrealDB
func (s *SurrealDB) Connect(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("ws://%s:%s", s.config.Host, s.config.Port)

	db, err := surrealdb.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	_, err = db.SignIn(ctx, &surrealdb.Auth{
		Username: s.config.User,
		Password: s.config.Password,
	})
	if err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: signin failed: %v", ErrConnection, err)
	}

	if err := db.Use(ctx, s.config.Namespace, s.config.Database); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: use failed: %v", ErrConnection, err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SurrealDB) Close() error {
	if s.db != nil {
		return s.db.Close(context.Background())
	}
	return nil
}

// Ping checks the database connection
func (s *SurrealDB) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrConnection
	}
	if _, err := s.db.Version(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Query executes a query and returns one {status, result} map per statement.
// A failed statement turns the whole call into an error classified by
// classifyMessage.
func (s *SurrealDB) Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error) {
	if s.db == nil {
		return nil, ErrConnection
	}

	results, err := surrealdb.Query[interface{}](ctx, s.db, query, vars)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		}
		return nil, classifyMessage(err.Error())
	}
	if results == nil {
		return nil, nil
	}

	var cause string
	failed := false
	output := make([]interface{}, 0, len(*results))
	for _, r := range *results {
		if r.Status != "OK" {
			failed = true
			if r.Error != nil && (cause == "" || strings.Contains(cause, failedTxMessage)) {
				cause = r.Error.Message
			}
			continue
		}
		output = append(output, map[string]interface{}{
			"status": r.Status,
			"result": r.Result,
		})
	}
	if failed {
		return nil, classifyMessage(cause)
	}

	return output, nil
}

// classifyMessage maps a SurrealDB error message onto the store sentinels
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, ThrowNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case strings.Contains(msg, ThrowConflict):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case strings.Contains(lower, "read or write conflict"),
		strings.Contains(lower, "transaction conflict"),
		strings.Contains(lower, "can be retried"):
		return fmt.Errorf("%w: %s", ErrAborted, msg)
	case strings.Contains(msg, ThrowDuplicate),
		strings.Contains(lower, "already contains"),
		strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return fmt.Errorf("%w: %s", ErrConnection, msg)
	default:
		return fmt.Errorf("%w: %s", ErrQuery, msg)
	}
}

// QueryOne executes a query and returns a single result
func (s *SurrealDB) QueryOne(ctx context.Context, query string, vars map[string]interface{}) (interface{}, error) {
	results, err := s.Query(ctx, query, vars)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, ErrNotFound
	}

	return unwrapFirst(results[0])
}

// Execute runs a query without returning results
func (s *SurrealDB) Execute(ctx context.Context, query string, vars map[string]interface{}) error {
	_, err := s.Query(ctx, query, vars)
	return err
}

// unwrapFirst unwraps {status, result} and returns the first record
func unwrapFirst(wrapped interface{}) (interface{}, error) {
	resp, ok := wrapped.(map[string]interface{})
	if !ok {
		return wrapped, nil
	}
	result := resp["result"]
	if arr, ok := result.([]interface{}); ok {
		if len(arr) == 0 {
			return nil, ErrNotFound
		}
		return arr[0], nil
	}
	if result == nil {
		return nil, ErrNotFound
	}
	return result, nil
}

// LastResult returns the first record of the last statement that produced
// a value. Transaction scripts put their answer in the final statement.
func LastResult(results []interface{}) (interface{}, error) {
	for i := len(results) - 1; i >= 0; i-- {
		resp, ok := results[i].(map[string]interface{})
		if !ok || resp["result"] == nil {
			continue
		}
		return unwrapFirst(resp)
	}
	return nil, ErrNotFound
}
