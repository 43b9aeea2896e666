package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
)

// lineParser reads one "[name] > supertype" declaration per line.
type lineParser struct{}

func (lineParser) Parse(cnd string) ([]nodetype.Definition, error) {
	var defs []nodetype.Definition
	for _, line := range strings.Split(strings.TrimSpace(cnd), "\n") {
		name, super, ok := strings.Cut(line, ">")
		if !ok {
			return nil, repoerr.New(repoerr.CodeInvalidArgument, "bad declaration %q", line)
		}
		defs = append(defs, nodetype.Definition{
			Name:       strings.Trim(strings.TrimSpace(name), "[]"),
			Supertypes: []string{strings.TrimSpace(super)},
		})
	}
	return defs, nil
}

func appDoc() nodetype.Definition {
	return nodetype.Definition{Name: "app:doc", Supertypes: []string{"nt:unstructured"}}
}

func TestNodeTypes_Register(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileFull)

	require.NoError(t, s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, false))
	def, err := s.NodeType("app:doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"nt:unstructured"}, def.Supertypes)
	assert.Contains(t, s.NodeTypeNames(), "app:doc")

	n, err := s.AddNode(ctx, "/", "d", "app:doc")
	require.NoError(t, err)
	ok, err := s.IsNodeType(ctx, n.Path, "nt:unstructured")
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, false)
	assert.ErrorIs(t, err, repoerr.ErrNodeTypeExists)
	require.NoError(t, s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, true))
	assert.Equal(t, 2, f.CallCount("RegisterNodeTypes"))
}

func TestNodeTypes_Unregister(t *testing.T) {
	ctx := context.Background()
	s, _ := open(t, testutil.ProfileFull)
	require.NoError(t, s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, false))

	require.NoError(t, s.UnregisterNodeTypes(ctx, "app:doc"))
	_, err := s.NodeType("app:doc")
	assert.ErrorIs(t, err, repoerr.ErrNoSuchNodeType)

	assert.ErrorIs(t, s.UnregisterNodeTypes(ctx, "nt:folder"), repoerr.ErrInvalidArgument)
}

func TestNodeTypes_Unsupported(t *testing.T) {
	ctx := context.Background()
	s, _ := open(t, testutil.ProfileWritable)

	assert.ErrorIs(t, s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, false), repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.RegisterNodeTypesCnd(ctx, "[app:doc] > nt:base", false), repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.UnregisterNodeTypes(ctx, "app:doc"), repoerr.ErrUnsupportedOperation)
}

func TestNodeTypes_CND(t *testing.T) {
	ctx := context.Background()
	const cnd = "[app:doc] > nt:unstructured\n[app:note] > app:doc"

	t.Run("transport takes CND", func(t *testing.T) {
		s, f := open(t, testutil.ProfileCND)
		require.NoError(t, s.RegisterNodeTypesCnd(ctx, cnd, false))
		assert.Equal(t, []string{cnd}, f.CND())
		assert.Equal(t, 1, f.CallCount("GetNodeTypes"), "types reloaded after registration")
		assert.ErrorIs(t, s.RegisterNodeTypes(ctx, []nodetype.Definition{appDoc()}, false), repoerr.ErrUnsupportedOperation)
	})

	t.Run("parsed into definitions", func(t *testing.T) {
		f := testutil.NewFake()
		s, err := Login(ctx, f.As(testutil.ProfileFull), transport.Credentials{UserID: "admin"}, "",
			WithLogger(discard()), WithCNDParser(lineParser{}))
		require.NoError(t, err)
		f.ResetCalls()

		require.NoError(t, s.RegisterNodeTypesCnd(ctx, cnd, false))
		assert.Equal(t, [][]string{{"app:doc", "app:note"}}, argsOf(f, "RegisterNodeTypes"))
		ok := s.types.IsNodeType("app:note", nil, "nt:unstructured")
		assert.True(t, ok)
	})

	t.Run("no parser", func(t *testing.T) {
		s, _ := open(t, testutil.ProfileFull)
		assert.ErrorIs(t, s.RegisterNodeTypesCnd(ctx, cnd, false), repoerr.ErrUnsupportedOperation)
	})
}
