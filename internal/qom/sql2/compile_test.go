package sql2

import (
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

func exists(sel, prop string) qom.Constraint {
	return qom.Must(qom.NewPropertyExistence(sel, prop))
}

func goldenQueries() map[string]*qom.QueryObjectModel {
	base := qom.Must(qom.NewSelector("nt:base", "s"))

	return map[string]*qom.QueryObjectModel{
		"simple_select": qom.Must(qom.NewQuery(
			qom.Must(qom.NewSelector("nt:unstructured", "s")), nil, nil, nil,
		)),

		"default_alias": qom.Must(qom.NewQuery(
			qom.Must(qom.NewSelector("nt:file", "")),
			qom.Must(qom.NewDescendantNode("nt:file", "/content")),
			nil, nil,
		)),

		"comparison_literals": qom.Must(qom.NewQuery(
			base,
			qom.Must(qom.NewAnd(
				qom.Must(qom.NewComparison(qom.Must(qom.NewPropertyValue("s", "title")), qom.OpEqualTo, qom.Must(qom.NewLiteral(value.NewString("it's"))))),
				qom.Must(qom.NewComparison(qom.Must(qom.NewPropertyValue("s", "count")), qom.OpGreaterThanOrEqualTo, qom.Must(qom.NewLiteral(value.NewLong(10))))),
			)),
			[]*qom.Ordering{
				qom.Must(qom.NewOrdering(qom.Must(qom.NewNodeName("s")), qom.Ascending)),
				qom.Must(qom.NewOrdering(qom.Must(qom.NewLength(qom.Must(qom.NewPropertyValue("s", "title")))), qom.Descending)),
			},
			[]*qom.Column{qom.Must(qom.NewColumn("s", "title", ""))},
		)),

		"precedence": qom.Must(qom.NewQuery(
			base,
			qom.Must(qom.NewAnd(
				qom.Must(qom.NewOr(exists("s", "a"), exists("s", "b"))),
				qom.Must(qom.NewNot(qom.Must(qom.NewOr(exists("s", "c"), qom.Must(qom.NewChildNode("s", "/x")))))),
			)),
			nil, nil,
		)),

		"join": qom.Must(qom.NewQuery(
			qom.Must(qom.NewJoin(
				qom.Must(qom.NewSelector("nt:file", "f")),
				qom.Must(qom.NewSelector("nt:folder", "d")),
				qom.JoinLeftOuter,
				qom.Must(qom.NewChildNodeJoinCondition("f", "d")),
			)),
			qom.Must(qom.NewComparison(
				qom.Must(qom.NewLowerCase(qom.Must(qom.NewNodeLocalName("f")))),
				qom.OpLike,
				qom.Must(qom.NewBindVariable("pattern")),
			)),
			nil,
			[]*qom.Column{qom.Must(qom.NewColumn("f", "", ""))},
		)),

		"fulltext": qom.Must(qom.NewQuery(
			base,
			qom.Must(qom.NewFullTextSearch("s", "", qom.Must(qom.NewLiteral(value.NewString("hello world"))))),
			[]*qom.Ordering{qom.Must(qom.NewOrdering(qom.Must(qom.NewFullTextSearchScore("s")), qom.Descending))},
			nil,
		)),
	}
}

func TestText_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for name, q := range goldenQueries() {
		t.Run(name, func(t *testing.T) {
			text, err := Text(q)
			require.NoError(t, err)
			g.Assert(t, name, []byte(text))
		})
	}
}

func TestText_Deterministic(t *testing.T) {
	for name, q := range goldenQueries() {
		first, err := Text(q)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := Text(q)
			require.NoError(t, err)
			assert.Equal(t, first, again, name)
		}
	}
}

func TestText_EveryJoinCondition(t *testing.T) {
	a := qom.Must(qom.NewSelector("nt:file", "a"))
	b := qom.Must(qom.NewSelector("nt:resource", "b"))

	tests := []struct {
		cond qom.JoinCondition
		want string
	}{
		{qom.Must(qom.NewEquiJoinCondition("a", "ref", "b", "jcr:uuid")), "[a].[ref] = [b].[jcr:uuid]"},
		{qom.Must(qom.NewSameNodeJoinCondition("a", "b", "")), "ISSAMENODE([a], [b])"},
		{qom.Must(qom.NewSameNodeJoinCondition("a", "b", "jcr:content")), "ISSAMENODE([a], [b], [jcr:content])"},
		{qom.Must(qom.NewDescendantNodeJoinCondition("b", "a")), "ISDESCENDANTNODE([b], [a])"},
	}

	for _, tt := range tests {
		q := qom.Must(qom.NewQuery(qom.Must(qom.NewJoin(a, b, qom.JoinInner, tt.cond)), nil, nil, nil))
		text, err := Text(q)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM [nt:file] AS [a] INNER JOIN [nt:resource] AS [b] ON "+tt.want, text)
	}
}

func TestLiteral(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "'plain'", Literal(value.NewString("plain")))
	assert.Equal(t, "CAST('true' AS BOOLEAN)", Literal(value.NewBool(true)))
	assert.Equal(t, "CAST('2024-03-01T12:00:00.000Z' AS DATE)", Literal(value.NewDate(date)))
	assert.Equal(t, "CAST('/a/b' AS PATH)", Literal(value.NewPath("/a/b")))
	assert.Equal(t, "CAST('x''y' AS NAME)", Literal(value.NewName("x'y")))
}

func TestCompile_Statement(t *testing.T) {
	q := goldenQueries()["join"]
	bindings := map[string]value.Value{"pattern": value.NewString("%.txt")}

	stmt, err := NewCompiler().Compile(q, bindings)
	require.NoError(t, err)

	assert.Equal(t, transport.LanguageSQL2, stmt.Language)
	assert.Equal(t, []string{"f", "d"}, stmt.Selectors)
	assert.Equal(t, []string{"f.*"}, stmt.Columns)
	assert.Equal(t, bindings, stmt.Bindings)
	assert.Contains(t, stmt.Text, "$pattern")
}

func TestCompile_UnboundVariable(t *testing.T) {
	q := goldenQueries()["join"]

	_, err := NewCompiler().Compile(q, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, repoerr.ErrInvalidArgument))
	assert.Contains(t, err.Error(), "$pattern")
}

func TestText_IndexedPathsAreStringLiterals(t *testing.T) {
	s := qom.Must(qom.NewSelector("nt:base", "s"))

	tests := []struct {
		con  qom.Constraint
		want string
	}{
		{qom.Must(qom.NewSameNode("s", "/a/b[2]")), "ISSAMENODE([s], '/a/b[2]')"},
		{qom.Must(qom.NewChildNode("s", "/a[3]")), "ISCHILDNODE([s], '/a[3]')"},
		{qom.Must(qom.NewDescendantNode("s", "/a[2]/b")), "ISDESCENDANTNODE([s], '/a[2]/b')"},
		{qom.Must(qom.NewDescendantNode("s", "/a/b")), "ISDESCENDANTNODE([s], [/a/b])"},
	}
	for _, tt := range tests {
		text, err := Text(qom.Must(qom.NewQuery(s, tt.con, nil, nil)))
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM [nt:base] AS [s] WHERE "+tt.want, text)
	}

	j := qom.Must(qom.NewJoin(s, qom.Must(qom.NewSelector("nt:base", "t")), qom.JoinInner,
		qom.Must(qom.NewSameNodeJoinCondition("s", "t", "child[2]"))))
	text, err := Text(qom.Must(qom.NewQuery(j, nil, nil, nil)))
	require.NoError(t, err)
	assert.Contains(t, text, "ISSAMENODE([s], [t], 'child[2]')")
}

func TestText_NamesWithBracketsNeverReachRendering(t *testing.T) {
	_, err := qom.NewSelector("nt:base", "a]b")
	assert.Error(t, err)
	_, err = qom.NewPropertyValue("s", "x]")
	assert.Error(t, err)
	_, err = qom.NewColumn("s", "p", "c]")
	assert.Error(t, err)
}
