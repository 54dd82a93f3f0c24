package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/forgo/queuedesk/internal/database"
)

// maxScriptAttempts bounds re-runs of a script the engine aborted on an
// optimistic read/write conflict
const maxScriptAttempts = 5

// runScript executes a transaction script, re-running it when the engine
// aborts it for a concurrent write. Guard failures are never re-run. An abort
// that outlasts every attempt is returned as database.ErrAborted, which the
// service layer treats as transient.
func runScript(ctx context.Context, db database.Database, tb *database.TxBuilder) ([]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < maxScriptAttempts; attempt++ {
		results, err := database.ExecuteTransaction(ctx, db, tb)
		if err == nil || !errors.Is(err, database.ErrAborted) {
			return results, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// datetime wraps t so the driver encodes it as a SurrealDB datetime
func datetime(t time.Time) models.CustomDateTime {
	return models.CustomDateTime{Time: t.UTC()}
}

// recordKey returns the key part of a record id, "ticket:abc" -> "abc"
func recordKey(id interface{}) string {
	switch v := id.(type) {
	case models.RecordID:
		return fmt.Sprint(v.ID)
	case *models.RecordID:
		if v != nil {
			return fmt.Sprint(v.ID)
		}
	case string:
		if _, key, ok := strings.Cut(v, ":"); ok {
			return strings.Trim(key, "⟨⟩`")
		}
		return v
	}
	return ""
}

// records flattens the rows of every statement result
func records(results []interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, res := range results {
		resp, ok := res.(map[string]interface{})
		if !ok {
			continue
		}
		rows, ok := resp["result"].([]interface{})
		if !ok {
			continue
		}
		for _, row := range rows {
			if data, ok := row.(map[string]interface{}); ok {
				out = append(out, data)
			}
		}
	}
	return out
}

// getString extracts a string value from a map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getStringPtr extracts an optional string value from a map
func getStringPtr(m map[string]interface{}, key string) *string {
	if v, ok := m[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

// getInt64 extracts an integer value from a map. CBOR decodes SurrealDB
// ints as uint64 or int64 depending on sign.
func getInt64(m map[string]interface{}, key string) (int64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// getBool extracts a bool value from a map
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// getTime extracts a time value from a map
func getTime(m map[string]interface{}, key string) *time.Time {
	var t time.Time
	switch v := m[key].(type) {
	case models.CustomDateTime:
		t = v.Time
	case *models.CustomDateTime:
		if v == nil {
			return nil
		}
		t = v.Time
	case time.Time:
		t = v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}
