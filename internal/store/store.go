package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// DefaultWorkspace is created with every store.
const DefaultWorkspace = "default"

// RootNodeType is the primary type of every workspace root.
const RootNodeType = "nt:unstructured"

// migrations run in order against PRAGMA user_version; entry i brings a
// database from version i to i+1. Append only.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	seedDefaultWorkspace,
}

// pragmas are applied on open. Journaling is WAL so readers (the CLI, a
// second process) are not blocked by a save; foreign keys make subtree
// moves and deletes cascade.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
}

// Store is a SQLite-backed content repository holding any number of
// workspaces. Sessions reach it through a Conn.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it if needed, and brings its
// schema up to date. Opening the same file again is harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func setup(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return migrate(ctx, db)
}

// migrate applies every migration newer than the database's user_version,
// each in its own transaction together with the version bump.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateWorkspace adds a workspace with an empty root node.
// Fails with ItemExists if the workspace already exists.
func (s *Store) CreateWorkspace(ctx context.Context, name string) error {
	if name == "" {
		return repoerr.New(repoerr.CodeInvalidArgument, "workspace name must not be empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create workspace: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `INSERT INTO workspaces (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repoerr.At(repoerr.CodeItemExists, "createWorkspace", name, "workspace already exists")
	}
	if err := insertRoot(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Workspaces lists workspace names in order.
func (s *Store) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM workspaces ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func insertRoot(ctx context.Context, tx *sql.Tx, workspace string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (workspace, path, parent, name, local_name, depth, sort_order, node_type)
		VALUES (?, '/', '', '', '', 0, 0, ?)
	`, workspace, RootNodeType); err != nil {
		return fmt.Errorf("insert root node: %w", err)
	}
	for _, typ := range []string{RootNodeType, "nt:base"} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_types (workspace, path, type, is_mixin, direct) VALUES (?, '/', ?, 0, ?)
		`, workspace, typ, typ == RootNodeType); err != nil {
			return fmt.Errorf("insert root node type: %w", err)
		}
	}
	return writeProperty(ctx, tx, workspace, "/", transport.PropertyRecord{
		Name: propPrimaryType, Type: value.Name, Values: []string{RootNodeType},
	})
}

// seedDefaultWorkspace creates the default workspace with its root node.
func seedDefaultWorkspace(ctx context.Context, tx *sql.Tx) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO workspaces (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, DefaultWorkspace)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return insertRoot(ctx, tx, DefaultWorkspace)
}
