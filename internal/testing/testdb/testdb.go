package testdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgo/queuedesk/internal/database"
)

var namespaceSeq atomic.Int64

// config reads the SurrealDB connection from the environment. ok is false
// when TEST_DB_HOST is unset.
func config() (cfg database.Config, ok bool) {
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		return database.Config{}, false
	}
	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	return database.Config{
		Host:           host,
		Port:           env("TEST_DB_PORT", "8000"),
		User:           env("TEST_DB_USER", "root"),
		Password:       env("TEST_DB_PASSWORD", "root"),
		Database:       "queuedesk",
		ConnectTimeout: 10 * time.Second,
	}, true
}

// New connects to SurrealDB in a fresh namespace with the schema applied.
// The namespace is removed when the test ends. Skips the test when no
// instance is configured.
func New(t *testing.T) database.Database {
	t.Helper()

	cfg, ok := config()
	if !ok {
		t.Skip("testdb: TEST_DB_HOST not set")
	}
	schema, err := Migrations()
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}
	cfg.Namespace = fmt.Sprintf("test_%d_%d", time.Now().UnixNano(), namespaceSeq.Add(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := database.NewSurrealDB(cfg)
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("testdb: failed to connect: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Execute(ctx, "REMOVE NAMESPACE "+cfg.Namespace, nil)
		_ = db.Close()
	})

	for _, m := range schema {
		if err := db.Execute(ctx, m.SQL, nil); err != nil {
			t.Fatalf("testdb: migration %s failed: %v", m.Name, err)
		}
	}
	return db
}

// Migration is one schema file
type Migration struct {
	Name string
	SQL  string
}

// Migrations reads migrations/*.surql from the module root in name order
func Migrations() ([]Migration, error) {
	dir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	names, err := filepath.Glob(filepath.Join(dir, "*.surql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		out = append(out, Migration{Name: filepath.Base(name), SQL: string(b)})
	}
	return out, nil
}

// migrationsDir walks up from the working directory to the module root
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("module root not found")
		}
		dir = parent
	}
}
