package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
)

func count(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestOpen_ReopenKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.db")

	s, err := Open(path)
	require.NoError(t, err)
	c := login(t, s)
	storeNode(t, c, "/kept", "nt:unstructured")
	require.NoError(t, c.Logout(context.Background()))
	require.NoError(t, s.Close())

	for range 3 {
		s, err = Open(path)
		require.NoError(t, err)
		assert.Equal(t, 2, count(t, s, `SELECT COUNT(*) FROM nodes`), "root and /kept")
		assert.Equal(t, 1, count(t, s, `SELECT COUNT(*) FROM workspaces`))
		require.NoError(t, s.Close())
	}
}

func TestOpen_UnwritableLocation(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "repo.db"))
	assert.Error(t, err)
}

func TestClose_Unopened(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	// SQLite reports enum pragmas by number.
	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, v := range want {
		var got string
		require.NoError(t, s.db.QueryRow("PRAGMA "+name).Scan(&got))
		assert.Equal(t, v, strings.ToLower(got), name)
	}
}

func TestSchema_Tables(t *testing.T) {
	s := createTestStore(t)

	for _, table := range []string{"workspaces", "nodes", "node_types", "properties", "property_values", "namespaces", "nodetypes", "journal"} {
		n := count(t, s, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		assert.Equal(t, 1, n, table)
	}
	for _, idx := range []string{"idx_nodes_parent", "idx_nodes_identifier"} {
		n := count(t, s, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, idx)
		assert.Equal(t, 1, n, idx)
	}
}

func TestSchema_Constraints(t *testing.T) {
	s := createTestStore(t)

	t.Run("identifiers are unique", func(t *testing.T) {
		insert := `INSERT INTO nodes (workspace, path, parent, name, local_name, depth, node_type, identifier)
			VALUES ('default', ?, '/', ?, ?, 1, 'nt:unstructured', 'same-id')`
		_, err := s.db.Exec(insert, "/a", "a", "a")
		require.NoError(t, err)
		_, err = s.db.Exec(insert, "/b", "b", "b")
		assert.Error(t, err)
	})

	t.Run("properties need their node", func(t *testing.T) {
		_, err := s.db.Exec(`INSERT INTO properties (workspace, node_path, name, type, multiple) VALUES ('default', '/missing', 'x', 1, 0)`)
		assert.Error(t, err)
	})
}

func TestMigrations(t *testing.T) {
	s := createTestStore(t)

	assert.Equal(t, len(migrations), count(t, s, `PRAGMA user_version`))

	names, err := s.Workspaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultWorkspace}, names)
	assert.Equal(t, 1, count(t, s, `SELECT COUNT(*) FROM nodes WHERE workspace = ? AND path = '/'`, DefaultWorkspace))
}

func TestCreateWorkspace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkspace(ctx, "staging"))
	names, err := s.Workspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "staging"}, names)

	assert.ErrorIs(t, s.CreateWorkspace(ctx, "staging"), repoerr.ErrItemExists)
	assert.Equal(t, repoerr.CodeInvalidArgument, repoerr.CodeOf(s.CreateWorkspace(ctx, "")))
}
