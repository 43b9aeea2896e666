package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

const refID = "00000000-0000-4000-8000-0000000000aa"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// open logs a seeded fake in through profile p. The call log starts empty.
func open(t *testing.T, p testutil.Profile, seed ...transport.NodeRecord) (*Session, *testutil.Fake) {
	t.Helper()
	f := testutil.NewFake()
	for _, rec := range seed {
		f.Seed(rec)
	}
	s, err := Login(context.Background(), f.As(p), transport.Credentials{UserID: "admin"}, "",
		WithLogger(discard()),
		WithIdentifiers(testutil.NewSequentialIdentifiers().Next))
	require.NoError(t, err)
	f.ResetCalls()
	return s, f
}

func fixture() []transport.NodeRecord {
	return []transport.NodeRecord{
		{Path: "/a", PrimaryType: "nt:unstructured", Properties: []transport.PropertyRecord{
			{Name: "title", Type: value.String, Values: []string{"x"}},
		}},
		{Path: "/a/b", PrimaryType: "nt:unstructured", Mixins: []string{"mix:referenceable"}, Identifier: refID, Properties: []transport.PropertyRecord{
			{Name: "title", Type: value.String, Values: []string{"y"}},
		}},
		{Path: "/c", PrimaryType: "nt:unstructured", Properties: []transport.PropertyRecord{
			{Name: "title", Type: value.String, Values: []string{"x"}},
			{Name: "link", Type: value.Reference, Values: []string{refID}},
		}},
	}
}

// argsOf returns the arguments of every recorded call to method.
func argsOf(f *testutil.Fake, method string) [][]string {
	var out [][]string
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c.Args)
		}
	}
	return out
}

func TestLogin_AppliesOptions(t *testing.T) {
	f := testutil.NewFake()
	s, err := Login(context.Background(), f.As(testutil.ProfileWritable), transport.Credentials{UserID: "admin"}, "",
		WithLogger(discard()),
		WithFetchDepth(3),
		WithAutoLastModified(false))
	require.NoError(t, err)

	assert.Equal(t, "default", s.Workspace())
	assert.Equal(t, "admin", s.UserID())
	assert.Equal(t, 3, f.FetchDepth())
	assert.False(t, f.AutoLastModified())
	assert.Equal(t, []string{"Writing"}, s.Capabilities().Names())
	assert.Equal(t, 1, f.CallCount("GetNodeTypes"))
}

func TestLogin_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("negative fetch depth", func(t *testing.T) {
		f := testutil.NewFake()
		_, err := Login(ctx, f, transport.Credentials{UserID: "admin"}, "", WithLogger(discard()), WithFetchDepth(-1))
		assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)
		assert.Zero(t, f.CallCount("Login"))
	})

	t.Run("unknown workspace", func(t *testing.T) {
		f := testutil.NewFake()
		_, err := Login(ctx, f, transport.Credentials{UserID: "admin"}, "nope", WithLogger(discard()))
		assert.ErrorIs(t, err, repoerr.ErrNoSuchWorkspace)
	})

	t.Run("transport used twice", func(t *testing.T) {
		f := testutil.NewFake()
		_, err := Login(ctx, f, transport.Credentials{UserID: "admin"}, "", WithLogger(discard()))
		require.NoError(t, err)
		_, err = Login(ctx, f, transport.Credentials{UserID: "admin"}, "", WithLogger(discard()))
		assert.ErrorIs(t, err, repoerr.ErrLoginFailed)
	})
}

func TestSession_Descriptors(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileReadOnly)
	f.SetWorkspaces("default", "archive")

	d, err := s.Descriptors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fake"}, d[transport.DescRepositoryName])

	names, err := s.AccessibleWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "archive"}, names)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileWritable, fixture()...)

	_, err := s.AddNode(ctx, "/a", "pending", "")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))
	require.NoError(t, s.Logout(ctx))

	assert.False(t, s.IsLive())
	assert.False(t, s.HasPendingChanges())
	assert.Equal(t, 1, f.CallCount("Logout"))

	_, err = s.Node(ctx, "/a")
	assert.ErrorIs(t, err, repoerr.ErrNotLoggedIn)
	assert.ErrorIs(t, s.Save(ctx), repoerr.ErrNotLoggedIn)
}
