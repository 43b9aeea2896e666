package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/value"
)

func TestHasPermission_Fallback(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		profile testutil.Profile
		actions []string
		want    bool
	}{
		{testutil.ProfileReadOnly, []string{ActionRead}, true},
		{testutil.ProfileReadOnly, []string{ActionRead, ActionAddNode}, false},
		{testutil.ProfileReadOnly, []string{ActionRemove}, false},
		{testutil.ProfileWritable, []string{ActionRead, ActionAddNode, ActionSetProperty, ActionRemove}, true},
	}
	for _, tt := range tests {
		s, f := open(t, tt.profile, fixture()...)
		got, err := s.HasPermission(ctx, "/a", tt.actions...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.actions)
		assert.Zero(t, f.CallCount("GetPermissions"))
	}

	s, _ := open(t, testutil.ProfileWritable)
	_, err := s.HasPermission(ctx, "/a", "fly")
	assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)
}

func TestHasPermission_Transport(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileFull, fixture()...)
	f.SetPermissions(ActionRead)

	ok, err := s.HasPermission(ctx, "/a", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasPermission(ctx, "/a", ActionRead, ActionRemove)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unsaved items are checked at their nearest saved ancestor.
	_, err = s.AddNode(ctx, "/a", "draft", "")
	require.NoError(t, err)
	f.ResetCalls()
	_, err = s.HasPermission(ctx, "/a/draft/child", ActionAddNode)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/a"}}, argsOf(f, "GetPermissions"))
}

func TestLocking(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported", func(t *testing.T) {
		s, _ := open(t, testutil.ProfileWritable, fixture()...)
		_, err := s.Lock(ctx, "/a", false, true, 0)
		assert.ErrorIs(t, err, repoerr.ErrUnsupportedOperation)
		assert.ErrorIs(t, s.Unlock(ctx, "/a", "t"), repoerr.ErrUnsupportedOperation)
		_, err = s.GetLock(ctx, "/a")
		assert.ErrorIs(t, err, repoerr.ErrUnsupportedOperation)

		locked, err := s.IsLocked(ctx, "/a")
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("passthrough", func(t *testing.T) {
		s, f := open(t, testutil.ProfileFull, fixture()...)
		info, err := s.Lock(ctx, "/a", true, false, 0)
		require.NoError(t, err)
		assert.Equal(t, "admin", info.Owner)

		_, err = s.Move(ctx, "/a", "/moved")
		require.NoError(t, err)
		locked, err := s.IsLocked(ctx, "/moved")
		require.NoError(t, err)
		assert.True(t, locked)
		assert.Equal(t, [][]string{{"/a"}}, argsOf(f, "IsLocked"))

		got, err := s.GetLock(ctx, "/moved")
		require.NoError(t, err)
		require.NoError(t, s.Unlock(ctx, "/moved", got.Token))

		_, err = s.AddNode(ctx, "/c", "draft", "")
		require.NoError(t, err)
		_, err = s.Lock(ctx, "/c/draft", false, true, 0)
		assert.ErrorIs(t, err, repoerr.ErrItemNotFound)
	})
}

func TestVersioning(t *testing.T) {
	ctx := context.Background()

	s, _ := open(t, testutil.ProfileWritable, fixture()...)
	_, err := s.Checkin(ctx, "/a")
	assert.ErrorIs(t, err, repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.Checkout(ctx, "/a"), repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.Restore(ctx, "/v", "/a", false), repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.RemoveVersion(ctx, "/vh", "1.0"), repoerr.ErrUnsupportedOperation)

	s, f := open(t, testutil.ProfileFull, fixture()...)
	_, err = s.SetProperty(ctx, "/a", "title", value.NewString("changed"))
	require.NoError(t, err)
	_, err = s.Checkin(ctx, "/a")
	assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)

	require.NoError(t, s.Save(ctx))
	vp, err := s.Checkin(ctx, "/a")
	require.NoError(t, err)
	assert.NotEmpty(t, vp)
	require.NoError(t, s.Checkout(ctx, "/a"))
	require.NoError(t, s.Restore(ctx, vp, "/a", true))
	assert.Equal(t, [][]string{{vp, "/a"}}, argsOf(f, "Restore"))
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	policy := operation.Policy{Name: "readers", Entries: []operation.AccessControlEntry{
		{Principal: "everyone", Privileges: []string{"jcr:read"}, Allow: true},
	}}

	s, _ := open(t, testutil.ProfileWritable, fixture()...)
	assert.ErrorIs(t, s.SetPolicy(ctx, "/a", policy), repoerr.ErrUnsupportedOperation)
	_, err := s.Policies(ctx, "/a")
	assert.ErrorIs(t, err, repoerr.ErrUnsupportedOperation)

	s, _ = open(t, testutil.ProfileFull, fixture()...)
	assert.ErrorIs(t, s.SetPolicy(ctx, "/a", operation.Policy{}), repoerr.ErrInvalidArgument)
	require.NoError(t, s.SetPolicy(ctx, "/a", policy))

	before, err := s.Policies(ctx, "/a")
	require.NoError(t, err)
	assert.Empty(t, before, "policies are written on save")

	require.NoError(t, s.Save(ctx))
	after, err := s.Policies(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []operation.Policy{policy}, after)

	privs, err := s.SupportedPrivileges(ctx, "/a")
	require.NoError(t, err)
	assert.Contains(t, privs, "jcr:read")
}
