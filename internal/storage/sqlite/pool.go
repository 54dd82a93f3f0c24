package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PoolConfig holds the parameters for opening a connection pool
type PoolConfig struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 4. SQLite serializes writers regardless, so
	// extra connections only help concurrent reads.
	PoolSize int

	Logger *slog.Logger
}

// Pool is a fixed-size set of SQLite connections with the store's pragmas
// applied. Connections are not safe for concurrent use; each goroutine
// takes its own and puts it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenPool creates the pool and applies the schema once
func OpenPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	p := &Pool{inner: inner, logger: logger, path: cfg.Path}
	if err := p.migrate(); err != nil {
		inner.Close()
		return nil, err
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)
	return p, nil
}

func (p *Pool) migrate() error {
	conn, err := p.inner.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer p.inner.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return nil
}

// Take borrows a connection. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, waiting for borrowed ones to return
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlite: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// Ping checks that a connection can run a statement
func (p *Pool) Ping(ctx context.Context) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

// schema is idempotent. The partial unique index enforces one active
// ticket per requester; the identifier primary key enforces one use per
// identifier.
const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id             TEXT PRIMARY KEY,
	community_id   TEXT NOT NULL,
	number         INTEGER NOT NULL,
	channel_ref    TEXT NOT NULL,
	requester_id   TEXT NOT NULL,
	status         TEXT NOT NULL,
	transaction_id TEXT,
	queue_number   INTEGER,
	claimed_by     TEXT,
	close_reason   TEXT,
	version        INTEGER NOT NULL,
	created_on     INTEGER NOT NULL,
	updated_on     INTEGER NOT NULL,
	closed_on      INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_active_requester
	ON tickets(community_id, requester_id) WHERE status != 'closed';
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_queue_number
	ON tickets(community_id, queue_number) WHERE queue_number IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(community_id, channel_ref);
CREATE INDEX IF NOT EXISTS idx_tickets_idle ON tickets(status, updated_on);

CREATE TABLE IF NOT EXISTS transaction_identifiers (
	community_id TEXT NOT NULL,
	value        TEXT NOT NULL,
	ticket_id    TEXT NOT NULL DEFAULT '',
	created_on   INTEGER NOT NULL,
	PRIMARY KEY (community_id, value)
);

CREATE TABLE IF NOT EXISTS community_settings (
	community_id      TEXT PRIMARY KEY,
	queue_counter     INTEGER NOT NULL DEFAULT 0,
	ticket_counter    INTEGER NOT NULL DEFAULT 0,
	panel_channel_ref TEXT,
	created_on        INTEGER NOT NULL,
	updated_on        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS staff_duty (
	community_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	on_duty      INTEGER NOT NULL,
	updated_on   INTEGER NOT NULL,
	PRIMARY KEY (community_id, user_id)
);
`
