package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

func TestConn_Capabilities(t *testing.T) {
	s := createTestStore(t)
	caps := transport.Detect(s.Connect())

	assert.Equal(t, []string{
		"Writing", "Transactional", "Observation", "Permission", "Query", "NodeTypeManagement", "NodeTypeFilter",
	}, caps.Names())
}

func TestConn_DescriptorsBeforeLogin(t *testing.T) {
	s := createTestStore(t)
	c := s.Connect()
	ctx := context.Background()

	desc, err := c.GetRepositoryDescriptors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, desc[transport.DescOptionTransactions])
	assert.Equal(t, []string{"false"}, desc[transport.DescOptionLocking])
	assert.Equal(t, []string{transport.LanguageSQLite}, desc[transport.DescQueryLanguages])

	names, err := c.GetAccessibleWorkspaceNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultWorkspace}, names)

	_, err = c.GetNode(ctx, "/")
	assert.True(t, errors.Is(err, repoerr.ErrNotLoggedIn))
}

func TestConn_Login(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t.Run("default workspace", func(t *testing.T) {
		c := s.Connect()
		ws, err := c.Login(ctx, transport.Credentials{}, "")
		require.NoError(t, err)
		assert.Equal(t, DefaultWorkspace, ws)
		assert.Equal(t, "anonymous", c.UserID())
	})

	t.Run("unknown workspace", func(t *testing.T) {
		_, err := s.Connect().Login(ctx, transport.Credentials{}, "nope")
		assert.True(t, errors.Is(err, repoerr.ErrNoSuchWorkspace))
	})

	t.Run("second login fails", func(t *testing.T) {
		c := s.Connect()
		_, err := c.Login(ctx, transport.Credentials{}, "")
		require.NoError(t, err)
		require.NoError(t, c.Logout(ctx))

		_, err = c.Login(ctx, transport.Credentials{}, "")
		assert.True(t, errors.Is(err, repoerr.ErrLoginFailed))

		_, err = c.GetNode(ctx, "/")
		assert.True(t, errors.Is(err, repoerr.ErrNotLoggedIn))
	})
}

func TestConn_ReadOnlySession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := s.Connect()
	_, err := c.Login(ctx, transport.Credentials{UserID: "guest", Attributes: map[string]string{"readonly": "true"}}, "")
	require.NoError(t, err)

	perms, err := c.GetPermissions(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, perms)

	err = c.StoreNode(ctx, &transport.NodeRecord{Path: "/a"})
	assert.True(t, errors.Is(err, repoerr.ErrUnsupportedOperation))
}

func TestConn_Namespaces(t *testing.T) {
	c := login(t, createTestStore(t))
	ctx := context.Background()

	ns, err := c.GetNamespaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, ns)
	assert.NotNil(t, ns)

	require.NoError(t, c.RegisterNamespace(ctx, "app", "http://example.com/app"))
	require.NoError(t, c.RegisterNamespace(ctx, "web", "http://example.com/web"))
	// Remapping the uri to a new prefix drops the old prefix.
	require.NoError(t, c.RegisterNamespace(ctx, "application", "http://example.com/app"))

	ns, err = c.GetNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"application": "http://example.com/app",
		"web":         "http://example.com/web",
	}, ns)

	require.NoError(t, c.UnregisterNamespace(ctx, "web"))
	err = c.UnregisterNamespace(ctx, "web")
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
}

func TestConn_TransactionCommitAndRollback(t *testing.T) {
	s := createTestStore(t)
	c := login(t, s)
	ctx := context.Background()

	require.NoError(t, c.BeginTransaction(ctx))
	storeNode(t, c, "/kept", "nt:unstructured")
	require.NoError(t, c.CommitTransaction(ctx))

	require.NoError(t, c.BeginTransaction(ctx))
	storeNode(t, c, "/discarded", "nt:unstructured")

	// Visible inside the transaction.
	_, err := c.GetNode(ctx, "/discarded")
	require.NoError(t, err)

	require.NoError(t, c.RollbackTransaction(ctx))

	_, err = c.GetNode(ctx, "/kept")
	assert.NoError(t, err)
	_, err = c.GetNode(ctx, "/discarded")
	assert.True(t, errors.Is(err, repoerr.ErrItemNotFound))

	assert.Error(t, c.CommitTransaction(ctx), "no active transaction")
}

func TestConn_TransactionTimeout(t *testing.T) {
	s := createTestStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := login(t, s, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.SetTransactionTimeout(time.Minute)
	require.NoError(t, c.BeginTransaction(ctx))
	storeNode(t, c, "/late", "nt:unstructured")

	now = now.Add(2 * time.Minute)
	err := c.CommitTransaction(ctx)
	assert.True(t, errors.Is(err, repoerr.ErrRepository))

	_, err = c.GetNode(ctx, "/late")
	assert.True(t, errors.Is(err, repoerr.ErrItemNotFound), "timed out transaction is rolled back")
}

func TestConn_SaveHooks(t *testing.T) {
	s := createTestStore(t)
	c := login(t, s)
	ctx := context.Background()

	require.NoError(t, c.PrepareSave(ctx))
	storeNode(t, c, "/a", "nt:unstructured")
	require.NoError(t, c.RollbackSave(ctx))

	_, err := c.GetNode(ctx, "/a")
	assert.True(t, errors.Is(err, repoerr.ErrItemNotFound))

	require.NoError(t, c.PrepareSave(ctx))
	storeNode(t, c, "/a", "nt:unstructured")
	require.NoError(t, c.FinishSave(ctx))

	_, err = c.GetNode(ctx, "/a")
	assert.NoError(t, err)
}

func TestConn_SaveInsideTransactionDefersCommit(t *testing.T) {
	s := createTestStore(t)
	c := login(t, s)
	ctx := context.Background()

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.PrepareSave(ctx))
	storeNode(t, c, "/a", "nt:unstructured")
	require.NoError(t, c.FinishSave(ctx))
	require.NoError(t, c.RollbackTransaction(ctx))

	_, err := c.GetNode(ctx, "/a")
	assert.True(t, errors.Is(err, repoerr.ErrItemNotFound))
}

func TestConn_FetchDepthAndFlags(t *testing.T) {
	c := createTestStore(t).Connect()

	assert.Equal(t, 1, c.FetchDepth())
	c.SetFetchDepth(0)
	assert.Equal(t, 1, c.FetchDepth())
	c.SetFetchDepth(3)
	assert.Equal(t, 3, c.FetchDepth())

	assert.True(t, c.AutoLastModified())
	c.SetAutoLastModified(false)
	assert.False(t, c.AutoLastModified())
}
