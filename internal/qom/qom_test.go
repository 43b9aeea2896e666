package qom

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

func TestSelector_DefaultsName(t *testing.T) {
	s, err := NewSelector("nt:unstructured", "")
	require.NoError(t, err)
	assert.Equal(t, "nt:unstructured", s.SelectorName())
	assert.Equal(t, []string{"nt:unstructured"}, s.SelectorNames())
}

func TestConstructors_RejectMissingNames(t *testing.T) {
	lit := Must(NewLiteral(value.NewString("x")))

	tests := []struct {
		name string
		fn   func() error
	}{
		{"selector without node type", func() error { _, err := NewSelector("", "s"); return err }},
		{"property existence without selector", func() error { _, err := NewPropertyExistence("", "p"); return err }},
		{"property existence without property", func() error { _, err := NewPropertyExistence("s", ""); return err }},
		{"full text without selector", func() error { _, err := NewFullTextSearch("", "p", lit); return err }},
		{"full text without expression", func() error { _, err := NewFullTextSearch("s", "", nil); return err }},
		{"property value without property", func() error { _, err := NewPropertyValue("s", ""); return err }},
		{"relative descendant path", func() error { _, err := NewDescendantNode("s", "a/b"); return err }},
		{"empty same node path", func() error { _, err := NewSameNode("s", ""); return err }},
		{"absolute join path", func() error { _, err := NewSameNodeJoinCondition("a", "b", "/x"); return err }},
		{"nil and operand", func() error { _, err := NewAnd(nil, nil); return err }},
		{"bad operator", func() error {
			_, err := NewComparison(Must(NewNodeName("s")), Operator(99), lit)
			return err
		}},
		{"bind variable with dollar", func() error { _, err := NewBindVariable("$x"); return err }},
		{"zero literal", func() error { _, err := NewLiteral(value.Value{}); return err }},
		{"non-string full text literal", func() error {
			_, err := NewFullTextSearch("s", "", Must(NewLiteral(value.NewLong(1))))
			return err
		}},
		{"bracket in selector", func() error { _, err := NewNodeName("a]b"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestConstraints_PostOrder(t *testing.T) {
	cmp := Must(NewComparison(
		Must(NewPropertyValue("s", "title")),
		OpEqualTo,
		Must(NewLiteral(value.NewString("x"))),
	))
	exists := Must(NewPropertyExistence("s", "body"))
	same := Must(NewSameNode("s", "/a"))
	not := Must(NewNot(same))
	or := Must(NewOr(exists, not))
	and := Must(NewAnd(cmp, or))

	got := and.Constraints()

	require.Len(t, got, 5)
	assert.Same(t, cmp, got[0])
	assert.Same(t, exists, got[1])
	assert.Same(t, same, got[2])
	assert.Same(t, or, got[3])
	assert.Same(t, and, got[4])
}

func TestConstraints_ParenthesisAppendsItself(t *testing.T) {
	leaf := Must(NewChildNode("s", "/a"))
	p := Must(NewParenthesis(leaf))

	got := p.Constraints()

	require.Len(t, got, 2)
	assert.Same(t, leaf, got[0])
	assert.Same(t, p, got[1])
}

func TestConstraints_LeafIsSingleton(t *testing.T) {
	leaf := Must(NewDescendantNode("s", "/a/b"))
	assert.Equal(t, []Constraint{leaf}, leaf.Constraints())
}

func TestNewDescendantNode_NormalizesPath(t *testing.T) {
	c := Must(NewDescendantNode("s", "/a/./b[1]"))
	assert.Equal(t, "/a/b", c.AncestorPath())
}

func TestJoin_Validation(t *testing.T) {
	a := Must(NewSelector("nt:file", "a"))
	b := Must(NewSelector("nt:folder", "b"))
	dup := Must(NewSelector("nt:folder", "a"))

	_, err := NewJoin(a, b, JoinInner, Must(NewChildNodeJoinCondition("a", "b")))
	require.NoError(t, err)

	_, err = NewJoin(a, dup, JoinInner, Must(NewChildNodeJoinCondition("a", "a")))
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument), "duplicate selector")

	_, err = NewJoin(a, b, JoinInner, Must(NewChildNodeJoinCondition("a", "c")))
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument), "unknown selector in condition")

	_, err = NewJoin(a, b, JoinType(0), Must(NewChildNodeJoinCondition("a", "b")))
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument), "unknown join type")
}

func TestNewQuery_ChecksSelectorReferences(t *testing.T) {
	s := Must(NewSelector("nt:base", "s"))

	_, err := NewQuery(s, Must(NewPropertyExistence("x", "p")), nil, nil)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))

	_, err = NewQuery(s, nil, []*Ordering{Must(NewOrdering(Must(NewNodeName("x")), Ascending))}, nil)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))

	_, err = NewQuery(s, nil, nil, []*Column{Must(NewColumn("x", "p", ""))})
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
}

func TestNewQuery_ResolvesColumnSelector(t *testing.T) {
	s := Must(NewSelector("nt:base", "s"))
	q, err := NewQuery(s, nil, nil, []*Column{Must(NewColumn("", "title", ""))})
	require.NoError(t, err)

	cols := q.Columns()
	require.Len(t, cols, 1)
	assert.Equal(t, "s", cols[0].SelectorName())
	assert.Equal(t, "s.title", cols[0].ColumnName())
}

func TestNewQuery_ColumnSelectorAmbiguousInJoin(t *testing.T) {
	j := Must(NewJoin(
		Must(NewSelector("nt:file", "a")),
		Must(NewSelector("nt:folder", "b")),
		JoinInner,
		Must(NewChildNodeJoinCondition("a", "b")),
	))
	_, err := NewQuery(j, nil, nil, []*Column{Must(NewColumn("", "title", ""))})
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
}

func TestQuery_BindVariableNames(t *testing.T) {
	s := Must(NewSelector("nt:base", "s"))
	c := Must(NewAnd(
		Must(NewComparison(Must(NewPropertyValue("s", "b")), OpEqualTo, Must(NewBindVariable("zeta")))),
		Must(NewOr(
			Must(NewComparison(Must(NewPropertyValue("s", "a")), OpLessThan, Must(NewBindVariable("alpha")))),
			Must(NewFullTextSearch("s", "", Must(NewBindVariable("zeta")))),
		)),
	))
	q := Must(NewQuery(s, c, nil, nil))

	assert.Equal(t, []string{"alpha", "zeta"}, q.BindVariableNames())
}

func TestQuery_Selectors(t *testing.T) {
	j := Must(NewJoin(
		Must(NewSelector("nt:file", "a")),
		Must(NewSelector("nt:folder", "b")),
		JoinLeftOuter,
		Must(NewEquiJoinCondition("a", "ref", "b", "jcr:uuid")),
	))
	q := Must(NewQuery(j, nil, nil, nil))

	sels := q.Selectors()
	require.Len(t, sels, 2)
	assert.Equal(t, "nt:file", sels[0].NodeTypeName())
	assert.Equal(t, []string{"a", "b"}, q.SelectorNames())
}

func TestParseOperator(t *testing.T) {
	for in, want := range map[string]Operator{
		"=":                      OpEqualTo,
		"<>":                     OpNotEqualTo,
		"LIKE":                   OpLike,
		"jcr.operator.less.than": OpLessThan,
		"GreaterThanOrEqualTo":   OpGreaterThanOrEqualTo,
	} {
		got, err := ParseOperator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseOperator("~")
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
}

func TestValidate_Portable(t *testing.T) {
	q := Must(NewQuery(
		Must(NewSelector("nt:base", "s")),
		Must(NewPropertyExistence("s", "title")),
		nil, nil,
	))

	result := Validate(q)

	assert.True(t, result.IsPortable)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NonPortable(t *testing.T) {
	j := Must(NewJoin(
		Must(NewSelector("nt:file", "a")),
		Must(NewSelector("nt:folder", "b")),
		JoinInner,
		Must(NewChildNodeJoinCondition("a", "b")),
	))
	q := Must(NewQuery(
		j,
		Must(NewFullTextSearch("a", "", Must(NewLiteral(value.NewString("hello"))))),
		[]*Ordering{Must(NewOrdering(Must(NewFullTextSearchScore("a")), Descending))},
		nil,
	))

	result := Validate(q)

	assert.False(t, result.IsPortable)
	require.Len(t, result.Warnings, 3)
	assert.Contains(t, result.Warnings[0], "join")
	assert.Contains(t, result.Warnings[1], "full-text")
	assert.Contains(t, result.Warnings[2], "SCORE(a)")
}

func TestWalk_PreOrder(t *testing.T) {
	pv := Must(NewPropertyValue("a", "title"))
	q := Must(NewQuery(
		Must(NewJoin(
			Must(NewSelector("nt:file", "a")),
			Must(NewSelector("nt:folder", "b")),
			JoinInner,
			Must(NewChildNodeJoinCondition("a", "b")),
		)),
		Must(NewNot(Must(NewComparison(Must(NewLowerCase(pv)), OpEqualTo, Must(NewBindVariable("t")))))),
		[]*Ordering{Must(NewOrdering(Must(NewNodeName("b")), Ascending))},
		[]*Column{Must(NewColumn("a", "title", ""))},
	))

	var kinds []string
	Walk(q, func(node any) bool {
		kinds = append(kinds, fmt.Sprintf("%T", node))
		return true
	})

	assert.Equal(t, []string{
		"*qom.Join", "*qom.Selector", "*qom.Selector", "*qom.ChildNodeJoinCondition",
		"*qom.Not", "*qom.Comparison", "*qom.LowerCase", "*qom.PropertyValue", "*qom.BindVariable",
		"*qom.Ordering", "*qom.NodeName",
		"*qom.Column",
	}, kinds)
}

func TestWalk_SkipChildren(t *testing.T) {
	q := Must(NewQuery(
		Must(NewSelector("nt:base", "s")),
		Must(NewAnd(
			Must(NewPropertyExistence("s", "a")),
			Must(NewPropertyExistence("s", "b")),
		)),
		nil, nil,
	))

	n := 0
	Walk(q, func(node any) bool {
		n++
		_, isAnd := node.(*And)
		return !isAnd
	})
	assert.Equal(t, 2, n, "selector and the And itself")

	Walk(nil, func(any) bool { t.Fatal("visited a nil query"); return false })
}
