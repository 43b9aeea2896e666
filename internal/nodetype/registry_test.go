package nodetype

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

func TestBuiltin_Loaded(t *testing.T) {
	r := Builtin()

	base, err := r.Get("nt:base")
	require.NoError(t, err)
	assert.True(t, base.Abstract)

	prop, ok := base.Property("jcr:primaryType")
	require.True(t, ok)
	assert.Equal(t, value.Name, prop.RequiredType)
	assert.True(t, prop.Mandatory)

	file, err := r.Get("nt:file")
	require.NoError(t, err)
	assert.Equal(t, "jcr:content", file.PrimaryItem)

	unstructured, err := r.Get("nt:unstructured")
	require.NoError(t, err)
	child, ok := unstructured.Child("anything")
	require.True(t, ok, "residual child definition")
	assert.Equal(t, "nt:unstructured", child.DefaultType)
	assert.True(t, child.SameNameSiblings)

	assert.Same(t, r, Builtin(), "built-in table is loaded once")
}

func TestBuiltin_IsNodeType(t *testing.T) {
	r := Builtin()

	assert.True(t, r.IsNodeType("nt:folder", nil, "nt:folder"))
	assert.True(t, r.IsNodeType("nt:folder", nil, "nt:hierarchyNode"))
	assert.True(t, r.IsNodeType("nt:folder", nil, "nt:base"))
	assert.True(t, r.IsNodeType("nt:folder", nil, "mix:created"))
	assert.False(t, r.IsNodeType("nt:folder", nil, "nt:file"))

	assert.True(t, r.IsNodeType("nt:unstructured", []string{"mix:versionable"}, "mix:referenceable"))
	assert.False(t, r.IsNodeType("nt:unstructured", nil, "mix:referenceable"))

	assert.True(t, r.MatchesAny("nt:resource", nil, []string{"nt:file", "mix:lastModified"}))
	assert.True(t, r.MatchesAny("nt:resource", nil, nil))
}

func TestRegistry_Layering(t *testing.T) {
	session := NewRegistry(Builtin())

	err := session.Register([]Definition{{Name: "app:page", Supertypes: []string{"nt:unstructured"}}}, false)
	require.NoError(t, err)

	assert.True(t, session.IsNodeType("app:page", nil, "nt:base"))
	assert.False(t, Builtin().Has("app:page"), "built-in table is never mutated")

	err = session.Register([]Definition{{Name: "nt:folder"}}, false)
	assert.True(t, errors.Is(err, repoerr.ErrNodeTypeExists))

	require.NoError(t, session.Register([]Definition{{Name: "app:page", Mixin: true}}, true))
	page, err := session.Get("app:page")
	require.NoError(t, err)
	assert.True(t, page.Mixin)

	names := session.Names()
	assert.Contains(t, names, "nt:base")
	assert.Equal(t, "app:page", names[len(names)-1])

	require.NoError(t, session.Unregister([]string{"app:page"}))
	_, err = session.Get("app:page")
	assert.True(t, errors.Is(err, repoerr.ErrNoSuchNodeType))

	err = session.Unregister([]string{"nt:base"})
	assert.True(t, errors.Is(err, repoerr.ErrNoSuchNodeType))
}

func TestLoadCUE(t *testing.T) {
	defs, err := LoadCUE("custom.cue", `
nodeTypes: {
	"app:article": {
		supertypes: ["nt:unstructured", "mix:title"]
		properties: [{name: "app:rating", type: "Long"}]
	}
}
`)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "app:article", defs[0].Name)
	assert.Equal(t, value.Long, defs[0].Properties[0].RequiredType)

	_, err = LoadCUE("bad.cue", `nodeTypes: {"x": {properties: [{name: "p", type: "Blob"}]}}`)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))

	_, err = LoadCUE("syntax.cue", `nodeTypes: {`)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))

	_, err = LoadCUE("empty.cue", `other: 1`)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
}
