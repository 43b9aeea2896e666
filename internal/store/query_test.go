package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/querysql"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

func seedDocs(t *testing.T, c *Conn) {
	t.Helper()
	storeNode(t, c, "/docs", "nt:folder")
	storeNode(t, c, "/docs/a", "nt:folder", longProp("size", "10"), stringProp("title", "Alpha"))
	storeNode(t, c, "/docs/b", "nt:folder", longProp("size", "9"), stringProp("title", "Beta"))
	storeNode(t, c, "/docs/c", "nt:folder", longProp("size", "100"), stringProp("title", "Gamma"))
	storeNode(t, c, "/other", "nt:folder", longProp("size", "50"))
}

func runQuery(t *testing.T, c *Conn, q *qom.QueryObjectModel, bindings map[string]value.Value) []transport.Row {
	t.Helper()
	stmt, err := querysql.NewSQLCompiler().Compile(q, bindings)
	require.NoError(t, err)
	rows, err := c.Query(context.Background(), stmt)
	require.NoError(t, err)
	return rows
}

func paths(rows []transport.Row, sel string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		cell := r[transport.PathColumn(sel)]
		if cell.Null {
			out[i] = ""
			continue
		}
		out[i] = cell.Value.String()
	}
	return out
}

func TestQuery_NumericComparisonAndOrdering(t *testing.T) {
	c := login(t, createTestStore(t))
	seedDocs(t, c)

	sel := qom.Must(qom.NewSelector("nt:folder", "s"))
	size := qom.Must(qom.NewPropertyValue("s", "size"))
	con := qom.Must(qom.NewAnd(
		qom.Must(qom.NewDescendantNode("s", "/docs")),
		qom.Must(qom.NewComparison(size, qom.OpGreaterThan, qom.Must(qom.NewBindVariable("min")))),
	))
	q := qom.Must(qom.NewQuery(sel, con,
		[]*qom.Ordering{qom.Must(qom.NewOrdering(size, qom.Descending))},
		[]*qom.Column{qom.Must(qom.NewColumn("s", "title", "title"))},
	))

	rows := runQuery(t, c, q, map[string]value.Value{"min": value.NewLong(9)})
	assert.Equal(t, []string{"/docs/c", "/docs/a"}, paths(rows, "s"))
	assert.Equal(t, "Gamma", rows[0]["title"].Value.String())
	assert.Equal(t, value.String, rows[0]["title"].Type)
	assert.Equal(t, 1.0, mustDouble(t, rows[0][transport.ScoreColumn("s")].Value))
}

func mustDouble(t *testing.T, v value.Value) float64 {
	t.Helper()
	f, err := v.Double()
	require.NoError(t, err)
	return f
}

func TestQuery_LikeAndNodeName(t *testing.T) {
	c := login(t, createTestStore(t))
	seedDocs(t, c)

	sel := qom.Must(qom.NewSelector("nt:folder", "s"))
	title := qom.Must(qom.NewPropertyValue("s", "title"))
	q := qom.Must(qom.NewQuery(sel,
		qom.Must(qom.NewComparison(qom.Must(qom.NewLowerCase(title)), qom.OpLike, qom.Must(qom.NewLiteral(value.NewString("%a"))))),
		[]*qom.Ordering{qom.Must(qom.NewOrdering(qom.Must(qom.NewNodeName("s")), qom.Ascending))},
		nil,
	))

	rows := runQuery(t, c, q, nil)
	assert.Equal(t, []string{"/docs/a", "/docs/b", "/docs/c"}, paths(rows, "s"))
}

func TestQuery_ChildJoinAndPaging(t *testing.T) {
	c := login(t, createTestStore(t))
	seedDocs(t, c)

	parent := qom.Must(qom.NewSelector("nt:folder", "p"))
	child := qom.Must(qom.NewSelector("nt:folder", "c"))
	join := qom.Must(qom.NewJoin(parent, child, qom.JoinInner, qom.Must(qom.NewChildNodeJoinCondition("c", "p"))))
	q := qom.Must(qom.NewQuery(join, nil, nil, nil))

	stmt, err := querysql.NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)
	stmt.Offset = 1
	stmt.Limit = 1
	rows, err := c.Query(context.Background(), stmt)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "/docs", rows[0][transport.PathColumn("p")].Value.String())
	assert.Equal(t, "/docs/b", rows[0][transport.PathColumn("c")].Value.String())
}

func TestQuery_LeftOuterJoinYieldsNulls(t *testing.T) {
	c := login(t, createTestStore(t))
	seedDocs(t, c)

	parent := qom.Must(qom.NewSelector("nt:folder", "p"))
	child := qom.Must(qom.NewSelector("nt:folder", "c"))
	join := qom.Must(qom.NewJoin(parent, child, qom.JoinLeftOuter, qom.Must(qom.NewChildNodeJoinCondition("c", "p"))))
	q := qom.Must(qom.NewQuery(join, qom.Must(qom.NewSameNode("p", "/other")), nil, nil))

	rows := runQuery(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"/other"}, paths(rows, "p"))
	assert.True(t, rows[0][transport.PathColumn("c")].Null)
}

func TestQuery_ExpandsAllColumns(t *testing.T) {
	c := login(t, createTestStore(t))
	seedDocs(t, c)

	sel := qom.Must(qom.NewSelector("nt:folder", "s"))
	q := qom.Must(qom.NewQuery(sel, qom.Must(qom.NewSameNode("s", "/docs/a")), nil,
		[]*qom.Column{qom.Must(qom.NewColumn("s", "", ""))}))

	rows := runQuery(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alpha", rows[0]["s.title"].Value.String())
	assert.Equal(t, value.Long, rows[0]["s.size"].Type)
	assert.Equal(t, "nt:folder", rows[0]["s.jcr:primaryType"].Value.String())
}

func TestQuery_RejectsOtherLanguages(t *testing.T) {
	c := login(t, createTestStore(t))

	assert.Equal(t, []string{transport.LanguageSQLite}, c.SupportedQueryLanguages())
	_, err := c.Query(context.Background(), transport.Statement{Language: transport.LanguageSQL2, Text: "SELECT * FROM [nt:base]"})
	assert.True(t, errors.Is(err, repoerr.ErrUnsupportedOperation))
}

func TestQuery_BareSelectorOrdersByPath(t *testing.T) {
	c := login(t, createTestStore(t))
	storeNode(t, c, "/b", "nt:unstructured")
	storeNode(t, c, "/a", "nt:unstructured")

	q := qom.Must(qom.NewQuery(
		qom.Must(qom.NewSelector("nt:base", "n")),
		qom.Must(qom.NewChildNode("n", "/")),
		nil, nil,
	))
	stmt, err := querysql.NewSQLCompiler().Compile(q, nil)
	require.NoError(t, err)
	assert.Contains(t, stmt.Text, "ORDER BY s0.path COLLATE BINARY ASC")

	rows, err := c.Query(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, paths(rows, "n"))
}
