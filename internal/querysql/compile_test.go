package querysql

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

func selector(nodeType, name string) *qom.Selector {
	return qom.Must(qom.NewSelector(nodeType, name))
}

func query(t *testing.T, src qom.Source, c qom.Constraint, orderings []*qom.Ordering, cols []*qom.Column) *qom.QueryObjectModel {
	t.Helper()
	q, err := qom.NewQuery(src, c, orderings, cols)
	require.NoError(t, err)
	return q
}

func TestCompile_SimpleSelect(t *testing.T) {
	compiler := NewSQLCompiler()

	q := query(t,
		selector("nt:file", "f"),
		qom.Must(qom.NewComparison(
			qom.Must(qom.NewPropertyValue("f", "category")),
			qom.OpEqualTo,
			qom.Must(qom.NewLiteral(value.NewString("widgets"))),
		)),
		nil, nil,
	)

	stmt, err := compiler.Compile(q, nil)
	require.NoError(t, err)

	assert.Equal(t, transport.LanguageSQLite, stmt.Language)
	assert.Contains(t, stmt.Text, "SELECT s0.path FROM nodes AS s0")
	assert.Contains(t, stmt.Text, "v.value = ?")
	assert.Contains(t, stmt.Text, "ORDER BY") // MANDATORY

	// Verify parameterized query (no interpolation)
	assert.NotContains(t, stmt.Text, "widgets")
	assert.NotContains(t, stmt.Text, "nt:file")
	assert.Equal(t, []any{WorkspaceArg{}, "nt:file", "category", "widgets"}, stmt.Args)
	assert.Equal(t, strings.Count(stmt.Text, "?"), len(stmt.Args))

	assert.Contains(t, stmt.Text, "COLLATE BINARY")
}

func TestCompile_OrderByMandatory(t *testing.T) {
	compiler := NewSQLCompiler()

	testCases := []struct {
		name string
		q    *qom.QueryObjectModel
	}{
		{
			name: "select without constraint",
			q:    query(t, selector("nt:base", "s"), nil, nil, nil),
		},
		{
			name: "select with explicit ordering",
			q: query(t, selector("nt:base", "s"), nil,
				[]*qom.Ordering{qom.Must(qom.NewOrdering(qom.Must(qom.NewNodeName("s")), qom.Descending))}, nil),
		},
		{
			name: "join",
			q: query(t, qom.Must(qom.NewJoin(
				selector("nt:file", "f"), selector("nt:folder", "d"),
				qom.JoinInner, qom.Must(qom.NewChildNodeJoinCondition("f", "d")),
			)), nil, nil, nil),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := compiler.Compile(tc.q, nil)
			require.NoError(t, err)

			assert.Contains(t, stmt.Text, "ORDER BY", "query MUST include ORDER BY: %s", stmt.Text)
			assert.True(t, strings.HasSuffix(stmt.Text, "path COLLATE BINARY ASC"),
				"tiebreaker MUST come last: %s", stmt.Text)
		})
	}
}

func TestCompile_NtBaseSkipsTypeFilter(t *testing.T) {
	stmt, err := NewSQLCompiler().Compile(query(t, selector("nt:base", "s"), nil, nil, nil), nil)
	require.NoError(t, err)

	assert.NotContains(t, stmt.Text, "node_types")
	assert.Equal(t, []any{WorkspaceArg{}}, stmt.Args)
}

func TestCompile_ArgsFollowTextOrder(t *testing.T) {
	// Columns, join, constraint and ordering all add parameters; the args
	// must line up with the placeholders left to right.
	q := query(t,
		qom.Must(qom.NewJoin(
			selector("nt:file", "f"), selector("nt:folder", "d"),
			qom.JoinLeftOuter, qom.Must(qom.NewEquiJoinCondition("f", "owner", "d", "owner")),
		)),
		qom.Must(qom.NewDescendantNode("f", "/content")),
		[]*qom.Ordering{qom.Must(qom.NewOrdering(qom.Must(qom.NewPropertyValue("f", "rank")), qom.Ascending))},
		[]*qom.Column{qom.Must(qom.NewColumn("f", "title", ""))},
	)

	stmt, err := NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)

	assert.Equal(t, []any{
		"title", "title", // column value + type
		"owner", "owner", // join condition
		WorkspaceArg{}, "nt:folder", // right side filter in ON
		WorkspaceArg{}, "nt:file", // left side filter in WHERE
		len("/content/"), "/content/", // descendant constraint
		"rank", // ordering
	}, stmt.Args)
	assert.Equal(t, strings.Count(stmt.Text, "?"), len(stmt.Args))
	assert.Contains(t, stmt.Text, "LEFT OUTER JOIN nodes AS s1 ON EXISTS")
	assert.Equal(t, []string{"f.title"}, stmt.Columns)
	assert.Equal(t, []string{"f", "d"}, stmt.Selectors)
}

func TestCompile_NumericLiteralUsesShadowColumn(t *testing.T) {
	q := query(t, selector("nt:base", "s"),
		qom.Must(qom.NewComparison(
			qom.Must(qom.NewPropertyValue("s", "size")),
			qom.OpGreaterThan,
			qom.Must(qom.NewLiteral(value.NewLong(10))),
		)),
		nil, nil,
	)

	stmt, err := NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)

	assert.Contains(t, stmt.Text, "v.num > ?")
	assert.Equal(t, 10.0, stmt.Args[len(stmt.Args)-1])
}

func TestCompile_BindVariable(t *testing.T) {
	q := query(t, selector("nt:base", "s"),
		qom.Must(qom.NewComparison(
			qom.Must(qom.NewNodeName("s")),
			qom.OpEqualTo,
			qom.Must(qom.NewBindVariable("name")),
		)),
		nil, nil,
	)

	stmt, err := NewSQLCompiler().Compile(q, map[string]value.Value{"name": value.NewString("readme")})
	require.NoError(t, err)
	assert.Contains(t, stmt.Text, "s0.name = ?")
	assert.Equal(t, []any{WorkspaceArg{}, "readme"}, stmt.Args)

	_, err = NewSQLCompiler().Compile(q, nil)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument), "unbound variable")
}

func TestCompile_LikeBecomesGlob(t *testing.T) {
	q := query(t, selector("nt:base", "s"),
		qom.Must(qom.NewComparison(
			qom.Must(qom.NewUpperCase(qom.Must(qom.NewNodeLocalName("s")))),
			qom.OpLike,
			qom.Must(qom.NewLiteral(value.NewString("READ%"))),
		)),
		nil, nil,
	)

	stmt, err := NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)

	assert.Contains(t, stmt.Text, "upper(s0.local_name) GLOB ?")
	assert.Equal(t, "READ*", stmt.Args[len(stmt.Args)-1])
}

func TestCompile_ScoreComparisonUnsupported(t *testing.T) {
	q := query(t, selector("nt:base", "s"),
		qom.Must(qom.NewComparison(
			qom.Must(qom.NewFullTextSearchScore("s")),
			qom.OpGreaterThan,
			qom.Must(qom.NewLiteral(value.NewDouble(0.5))),
		)),
		nil, nil,
	)

	_, err := NewSQLCompiler().Compile(q, nil)
	assert.True(t, errors.Is(err, repoerr.ErrUnsupportedOperation))
}

func TestCompile_Deterministic(t *testing.T) {
	q := query(t,
		qom.Must(qom.NewJoin(
			selector("nt:file", "f"), selector("nt:folder", "d"),
			qom.JoinInner, qom.Must(qom.NewDescendantNodeJoinCondition("f", "d")),
		)),
		qom.Must(qom.NewOr(
			qom.Must(qom.NewPropertyExistence("f", "a")),
			qom.Must(qom.NewFullTextSearch("d", "", qom.Must(qom.NewLiteral(value.NewString("x -y"))))),
		)),
		nil, nil,
	)

	first, err := NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := NewSQLCompiler().Compile(q, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_NilQuery(t *testing.T) {
	_, err := NewSQLCompiler().Compile(nil, nil)
	assert.Error(t, err)
}

func TestLikeToGlob(t *testing.T) {
	tests := []struct {
		like string
		glob string
	}{
		{"abc", "abc"},
		{"a%", "a*"},
		{"a_c", "a?c"},
		{`100\%`, "100%"},
		{`a\_b`, "a_b"},
		{"what?", "what[?]"},
		{"[x]*", "[[]x][*]"},
	}

	for _, tt := range tests {
		t.Run(tt.like, func(t *testing.T) {
			assert.Equal(t, tt.glob, likeToGlob(tt.like))
		})
	}
}
