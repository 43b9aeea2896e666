package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

func loggedIn(t *testing.T, f *Fake, p Profile) transport.Transport {
	t.Helper()
	tr := f.As(p)
	_, err := tr.Login(context.Background(), transport.Credentials{UserID: "admin"}, "")
	require.NoError(t, err)
	return tr
}

func TestFake_ProfilesExposeCapabilities(t *testing.T) {
	tests := []struct {
		profile Profile
		want    []string
	}{
		{ProfileReadOnly, nil},
		{ProfileWritable, []string{"Writing"}},
		{ProfileTransactional, []string{"Writing", "Transactional"}},
		{ProfileCND, []string{"Writing", "NodeTypeCndManagement"}},
		{ProfileFull, []string{
			"Writing", "Locking", "Versioning", "Transactional", "Observation",
			"AccessControl", "Permission", "Query", "NodeTypeManagement", "NodeTypeFilter",
		}},
	}

	for _, tt := range tests {
		caps := transport.Detect(NewFake().As(tt.profile))
		assert.Equal(t, tt.want, caps.Names())
	}
}

func TestFake_RecordsCalls(t *testing.T) {
	f := NewFake()
	f.Seed(transport.NodeRecord{Path: "/a", PrimaryType: "nt:folder"})
	tr := loggedIn(t, f, ProfileReadOnly)

	_, err := tr.GetNode(context.Background(), "/a")
	require.NoError(t, err)
	_, err = tr.GetNode(context.Background(), "/missing")
	assert.True(t, errors.Is(err, repoerr.ErrItemNotFound))

	assert.Equal(t, 2, f.CallCount("GetNode"))
	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "GetNode(/a)", calls[1].String())
}

func TestFake_NotLoggedIn(t *testing.T) {
	f := NewFake()
	_, err := f.As(ProfileReadOnly).GetNode(context.Background(), "/")
	assert.True(t, errors.Is(err, repoerr.ErrNotLoggedIn))
}

func TestFake_FailOn(t *testing.T) {
	f := NewFake()
	tr := loggedIn(t, f, ProfileWritable).(transport.Writing)
	boom := repoerr.New(repoerr.CodeRepository, "boom")

	f.FailOn("StoreNode", boom)
	err := tr.StoreNode(context.Background(), &transport.NodeRecord{Path: "/x", PrimaryType: "nt:unstructured"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.Has("/x"))

	f.FailOn("StoreNode", nil)
	require.NoError(t, tr.StoreNode(context.Background(), &transport.NodeRecord{Path: "/x", PrimaryType: "nt:unstructured"}))
	assert.True(t, f.Has("/x"))
	assert.Equal(t, []string{"x"}, f.Node("/").ChildNames())
}

func TestFake_MoveRebasesOnSegmentBoundary(t *testing.T) {
	f := NewFake()
	f.Seed(transport.NodeRecord{Path: "/a/b"})
	f.Seed(transport.NodeRecord{Path: "/ab"})
	tr := loggedIn(t, f, ProfileWritable).(transport.Writing)

	require.NoError(t, tr.MoveNode(context.Background(), "/a", "/z"))

	assert.True(t, f.Has("/z/b"))
	assert.True(t, f.Has("/ab"))
	assert.False(t, f.Has("/a"))
	assert.Equal(t, []string{"ab", "z"}, f.Node("/").ChildNames())
}

func TestFake_TransactionRollbackRestores(t *testing.T) {
	f := NewFake()
	tr := loggedIn(t, f, ProfileTransactional)
	tx := tr.(transport.Transactional)
	w := tr.(transport.Writing)
	ctx := context.Background()

	require.NoError(t, tx.BeginTransaction(ctx))
	require.NoError(t, w.StoreNode(ctx, &transport.NodeRecord{Path: "/tmp"}))
	require.NoError(t, tx.RollbackTransaction(ctx))

	assert.False(t, f.Has("/tmp"))
}

func TestFake_PrefetchFollowsFetchDepth(t *testing.T) {
	f := NewFake()
	f.Seed(transport.NodeRecord{Path: "/a/b/c"})
	tr := loggedIn(t, f, ProfileReadOnly)
	tr.SetFetchDepth(2)

	rec, err := tr.GetNode(context.Background(), "/a")
	require.NoError(t, err)
	require.Len(t, rec.Children, 1)
	require.NotNil(t, rec.Children[0].Prefetched)
	assert.Equal(t, "/a/b", rec.Children[0].Prefetched.Path)
	assert.Nil(t, rec.Children[0].Prefetched.Children[0].Prefetched)
}

func TestFake_FailOnNth(t *testing.T) {
	f := NewFake()
	tr := loggedIn(t, f, ProfileWritable).(transport.Writing)
	ctx := context.Background()
	f.FailOnNth("StoreNode", 2, repoerr.New(repoerr.CodeRepository, "disk full"))

	require.NoError(t, tr.StoreNode(ctx, &transport.NodeRecord{Path: "/a", PrimaryType: "nt:unstructured"}))
	err := tr.StoreNode(ctx, &transport.NodeRecord{Path: "/b", PrimaryType: "nt:unstructured"})
	assert.True(t, errors.Is(err, repoerr.ErrRepository))
	assert.NoError(t, tr.StoreNode(ctx, &transport.NodeRecord{Path: "/c", PrimaryType: "nt:unstructured"}))
	assert.False(t, f.Has("/b"))
}
