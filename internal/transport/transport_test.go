package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
)

// Embedding a nil interface value is enough to satisfy the method set; the
// methods are never called in these tests.
type readOnly struct{ Transport }

type writable struct {
	Writing
}

type bothNodeTypeFlavors struct {
	NodeTypeManagement
}

func (bothNodeTypeFlavors) RegisterNodeTypesCnd(ctx context.Context, cnd string, allowUpdate bool) error {
	return nil
}

func TestDetect_ReadOnly(t *testing.T) {
	c := Detect(readOnly{})
	assert.Nil(t, c.Writing)
	assert.Nil(t, c.Transactional)
	assert.Empty(t, c.Names())
}

func TestDetect_Writing(t *testing.T) {
	c := Detect(writable{})
	assert.NotNil(t, c.Writing)
	assert.Nil(t, c.Query)
	assert.Equal(t, []string{"Writing"}, c.Names())
}

func TestDetect_PrefersCndManagement(t *testing.T) {
	c := Detect(bothNodeTypeFlavors{})
	assert.NotNil(t, c.NodeTypeCndManagement)
	assert.Nil(t, c.NodeTypeManagement, "at most one registration flavor is used")
}

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, StateUnauthenticated, l.State())

	err := l.Check("getNode")
	assert.True(t, errors.Is(err, repoerr.ErrNotLoggedIn))

	require.NoError(t, l.BeginLogin())
	l.CompleteLogin("default", "admin")
	assert.NoError(t, l.Check("getNode"))
	assert.Equal(t, "default", l.Workspace())
	assert.Equal(t, "admin", l.UserID())

	err = l.BeginLogin()
	assert.True(t, errors.Is(err, repoerr.ErrLoginFailed), "login is permitted once")

	l.Logout()
	err = l.Check("getNode")
	assert.True(t, errors.Is(err, repoerr.ErrNotLoggedIn))

	err = l.BeginLogin()
	assert.True(t, errors.Is(err, repoerr.ErrLoginFailed), "no login after logout")
}

func TestNodeRecord_Helpers(t *testing.T) {
	rec := &NodeRecord{
		Path: "/a",
		Properties: []PropertyRecord{
			{Name: "title", Values: []string{"A"}},
		},
		Children: []ChildRecord{{Name: "x"}, {Name: "y"}},
	}

	p, ok := rec.Property("title")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, p.Values)

	_, ok = rec.Property("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"x", "y"}, rec.ChildNames())
	assert.Equal(t, "s.jcr:path", PathColumn("s"))
	assert.Equal(t, "NODE_MOVED", NodeMoved.String())
}
