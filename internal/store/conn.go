package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// Conn is one session's connection to a Store. It implements
// transport.Transport and the capabilities listed in the package doc.
//
// A Conn is not safe for concurrent use.
type Conn struct {
	transport.Lifecycle

	store *Store
	types *nodetype.Registry

	fetchDepth       int
	autoLastModified bool
	readOnly         bool

	tx         *sql.Tx
	saveTx     bool // tx was opened by PrepareSave
	txTimeout  time.Duration
	txDeadline time.Time

	now   func() time.Time
	newID func() string
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithClock sets the time source used for journal entries and
// mix:lastModified / mix:created stamps.
func WithClock(now func() time.Time) ConnOption {
	return func(c *Conn) { c.now = now }
}

// WithIdentifiers sets the generator for node identifiers.
func WithIdentifiers(next func() string) ConnOption {
	return func(c *Conn) { c.newID = next }
}

// Connect creates a new, unauthenticated connection.
func (s *Store) Connect(opts ...ConnOption) *Conn {
	c := &Conn{
		store:            s,
		types:            nodetype.NewRegistry(nodetype.Builtin()),
		fetchDepth:       1,
		autoLastModified: true,
		now:              time.Now,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time capability checks.
var (
	_ transport.Writing            = (*Conn)(nil)
	_ transport.Transactional      = (*Conn)(nil)
	_ transport.Query              = (*Conn)(nil)
	_ transport.Observation        = (*Conn)(nil)
	_ transport.NodeTypeManagement = (*Conn)(nil)
	_ transport.NodeTypeFilter     = (*Conn)(nil)
	_ transport.Permission         = (*Conn)(nil)
)

// GetRepositoryDescriptors works before login.
func (c *Conn) GetRepositoryDescriptors(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{
		transport.DescSpecVersion:          {"2.0"},
		transport.DescSpecName:             {"Content Repository API"},
		transport.DescRepositoryVendor:     {"crepo"},
		transport.DescRepositoryName:       {"crepo SQLite store"},
		transport.DescRepositoryVersion:    {"1"},
		transport.DescOptionTransactions:   {"true"},
		transport.DescOptionLocking:        {"false"},
		transport.DescOptionVersioning:     {"false"},
		transport.DescOptionObservation:    {"true"},
		transport.DescOptionAccessControl:  {"false"},
		transport.DescOptionNodeTypeManage: {"true"},
		transport.DescQueryLanguages:       c.SupportedQueryLanguages(),
	}, nil
}

// GetAccessibleWorkspaceNames works before login.
func (c *Conn) GetAccessibleWorkspaceNames(ctx context.Context) ([]string, error) {
	return c.store.Workspaces(ctx)
}

// Login connects to workspace, or DefaultWorkspace when it is empty.
// Credentials are not verified; the attribute "readonly" set to "true"
// restricts the session to reading.
func (c *Conn) Login(ctx context.Context, creds transport.Credentials, workspace string) (string, error) {
	if err := c.BeginLogin(); err != nil {
		return "", err
	}
	if workspace == "" {
		workspace = DefaultWorkspace
	}

	var exists int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces WHERE name = ?`, workspace).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if exists == 0 {
		return "", repoerr.At(repoerr.CodeNoSuchWorkspace, "login", workspace, "no such workspace")
	}

	if err := c.loadNodeTypes(ctx); err != nil {
		return "", err
	}

	user := creds.UserID
	if user == "" {
		user = "anonymous"
	}
	c.readOnly = strings.EqualFold(creds.Attributes["readonly"], "true")
	c.CompleteLogin(workspace, user)

	slog.Debug("store login", "workspace", workspace, "user", user, "read_only", c.readOnly)
	return workspace, nil
}

// Logout ends the session. An open transaction is rolled back.
func (c *Conn) Logout(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
		c.saveTx = false
	}
	c.Lifecycle.Logout()
	return nil
}

// GetNamespaces returns prefix -> uri.
func (c *Conn) GetNamespaces(ctx context.Context) (map[string]string, error) {
	if err := c.Check("getNamespaces"); err != nil {
		return nil, err
	}
	rows, err := c.q().QueryContext(ctx, `SELECT prefix, uri FROM namespaces ORDER BY prefix COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var prefix, uri string
		if err := rows.Scan(&prefix, &uri); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out[prefix] = uri
	}
	return out, rows.Err()
}

// RegisterNamespace maps prefix to uri, replacing any mapping of either.
func (c *Conn) RegisterNamespace(ctx context.Context, prefix, uri string) error {
	if err := c.checkWrite("registerNamespace"); err != nil {
		return err
	}
	if prefix == "" || uri == "" {
		return repoerr.New(repoerr.CodeInvalidArgument, "namespace prefix and uri are required")
	}
	return c.write(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM namespaces WHERE prefix = ? OR uri = ?`, prefix, uri); err != nil {
			return fmt.Errorf("register namespace: %w", err)
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO namespaces (prefix, uri) VALUES (?, ?)`, prefix, uri); err != nil {
			return fmt.Errorf("register namespace: %w", err)
		}
		return nil
	})
}

// UnregisterNamespace removes a prefix mapping.
func (c *Conn) UnregisterNamespace(ctx context.Context, prefix string) error {
	if err := c.checkWrite("unregisterNamespace"); err != nil {
		return err
	}
	return c.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM namespaces WHERE prefix = ?`, prefix)
		if err != nil {
			return fmt.Errorf("unregister namespace: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repoerr.At(repoerr.CodeInvalidArgument, "unregisterNamespace", "", "prefix %q is not registered", prefix)
		}
		return nil
	})
}

// SetFetchDepth sets how many levels GetNode returns. Depth 1 is the node
// with its child names; deeper levels arrive as prefetched child records.
func (c *Conn) SetFetchDepth(depth int) {
	if depth < 1 {
		depth = 1
	}
	c.fetchDepth = depth
}

// FetchDepth returns the fetch depth.
func (c *Conn) FetchDepth() int { return c.fetchDepth }

// SetAutoLastModified toggles stamping of mix:lastModified properties.
func (c *Conn) SetAutoLastModified(enabled bool) { c.autoLastModified = enabled }

// AutoLastModified reports whether stamping is on.
func (c *Conn) AutoLastModified() bool { return c.autoLastModified }

// GetPermissions returns the actions allowed at path.
func (c *Conn) GetPermissions(ctx context.Context, path string) ([]string, error) {
	if err := c.Check("getPermissions"); err != nil {
		return nil, err
	}
	if c.readOnly {
		return []string{"read"}, nil
	}
	return []string{"read", "add_node", "set_property", "remove"}, nil
}

// BeginTransaction opens a transaction spanning every following write until
// commit or rollback.
func (c *Conn) BeginTransaction(ctx context.Context) error {
	if err := c.Check("beginTransaction"); err != nil {
		return err
	}
	if c.tx != nil {
		return repoerr.At(repoerr.CodeRepository, "beginTransaction", "", "transaction already active")
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	c.tx = tx
	c.saveTx = false
	c.txDeadline = time.Time{}
	if c.txTimeout > 0 {
		c.txDeadline = c.now().Add(c.txTimeout)
	}
	return nil
}

// CommitTransaction commits the open transaction. A transaction past its
// timeout is rolled back instead.
func (c *Conn) CommitTransaction(ctx context.Context) error {
	if err := c.Check("commitTransaction"); err != nil {
		return err
	}
	if c.tx == nil {
		return repoerr.At(repoerr.CodeRepository, "commitTransaction", "", "no active transaction")
	}
	if !c.txDeadline.IsZero() && c.now().After(c.txDeadline) {
		_ = c.finishTx(false)
		return repoerr.At(repoerr.CodeRepository, "commitTransaction", "", "transaction timed out after %s", c.txTimeout)
	}
	if err := c.appendEvent(ctx, c.tx, transport.Persist, "/", "", "", nil); err != nil {
		_ = c.finishTx(false)
		return err
	}
	return c.finishTx(true)
}

// RollbackTransaction discards the open transaction.
func (c *Conn) RollbackTransaction(ctx context.Context) error {
	if err := c.Check("rollbackTransaction"); err != nil {
		return err
	}
	if c.tx == nil {
		return repoerr.At(repoerr.CodeRepository, "rollbackTransaction", "", "no active transaction")
	}
	return c.finishTx(false)
}

// SetTransactionTimeout bounds transactions begun afterwards. Zero means
// no timeout.
func (c *Conn) SetTransactionTimeout(d time.Duration) { c.txTimeout = d }

// PrepareSave opens a transaction for one save unless one is already open.
func (c *Conn) PrepareSave(ctx context.Context) error {
	if err := c.checkWrite("save"); err != nil {
		return err
	}
	if c.tx != nil {
		return nil
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	c.tx = tx
	c.saveTx = true
	return nil
}

// FinishSave commits the transaction opened by PrepareSave.
func (c *Conn) FinishSave(ctx context.Context) error {
	if !c.saveTx {
		return nil
	}
	if err := c.appendEvent(ctx, c.tx, transport.Persist, "/", "", "", nil); err != nil {
		_ = c.finishTx(false)
		return err
	}
	return c.finishTx(true)
}

// RollbackSave discards the transaction opened by PrepareSave.
func (c *Conn) RollbackSave(ctx context.Context) error {
	if !c.saveTx {
		return nil
	}
	return c.finishTx(false)
}

func (c *Conn) finishTx(commit bool) error {
	tx := c.tx
	c.tx = nil
	c.saveTx = false
	if commit {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the open transaction, or the database.
func (c *Conn) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.store.db
}

// write runs fn inside the open transaction, or inside a transaction of
// its own so each write is atomic.
func (c *Conn) write(ctx context.Context, fn func(q querier) error) error {
	if c.tx != nil {
		return fn(c.tx)
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Conn) checkWrite(op string) error {
	if err := c.Check(op); err != nil {
		return err
	}
	if c.readOnly {
		return repoerr.At(repoerr.CodeUnsupportedOperation, op, "", "session is read-only")
	}
	return nil
}
