package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// titleQuery selects nt:unstructured nodes whose title equals $t.
func titleQuery(t *testing.T) *qom.QueryObjectModel {
	t.Helper()
	sel := qom.Must(qom.NewSelector("nt:unstructured", "s"))
	cmp := qom.Must(qom.NewComparison(
		qom.Must(qom.NewPropertyValue("s", "title")),
		qom.OpEqualTo,
		qom.Must(qom.NewBindVariable("t"))))
	col := qom.Must(qom.NewColumn("s", "title", "title"))
	q, err := qom.NewQuery(sel, cmp, nil, []*qom.Column{col})
	require.NoError(t, err)
	return q
}

func pathRow(p string) transport.Row {
	return transport.Row{
		transport.PathColumn("s"): {Value: value.NewPath(p), Type: value.Path, Selector: "s"},
		"title":                   {Value: value.NewString("x"), Type: value.String, Selector: "s"},
	}
}

func paths(nodes []*om.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Path
	}
	return out
}

func TestQuery_BindValue(t *testing.T) {
	s, _ := open(t, testutil.ProfileFull)
	q, err := s.CreateQuery(titleQuery(t))
	require.NoError(t, err)

	assert.ErrorIs(t, q.BindValue("nope", value.NewString("x")), repoerr.ErrInvalidArgument)
	require.NoError(t, q.BindValue("t", value.NewString("x")))

	_, err = s.CreateQuery(nil)
	assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)
}

func TestQuery_UnboundVariable(t *testing.T) {
	for _, p := range []testutil.Profile{testutil.ProfileFull, testutil.ProfileWritable} {
		s, _ := open(t, p, fixture()...)
		q, err := s.CreateQuery(titleQuery(t))
		require.NoError(t, err)

		_, err = q.Execute(context.Background())
		assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)
	}
}

// Rows of a transport query resolve to the same nodes a path lookup gives.
func TestQuery_ExecutesOnTransport(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileFull, fixture()...)
	f.SetQueryRows([]transport.Row{pathRow("/a"), pathRow("/c")})

	q, err := s.CreateQuery(titleQuery(t))
	require.NoError(t, err)
	require.NoError(t, q.BindValue("t", value.NewString("x")))
	q.SetLimit(5)
	q.SetOffset(1)

	res, err := q.Execute(ctx)
	require.NoError(t, err)
	require.Len(t, f.Statements(), 1)
	stmt := f.Statements()[0]
	assert.Equal(t, transport.LanguageSQL2, stmt.Language)
	assert.Equal(t, 5, stmt.Limit)
	assert.Equal(t, 1, stmt.Offset)
	assert.Equal(t, value.NewString("x"), stmt.Bindings["t"])

	assert.Equal(t, []string{"s"}, res.SelectorNames())
	assert.Equal(t, []string{"title"}, res.ColumnNames())
	require.Equal(t, 2, res.Len())

	row := res.Rows()[0]
	got, err := row.Node(ctx, "")
	require.NoError(t, err)
	want, err := s.Node(ctx, "/a")
	require.NoError(t, err)
	assert.Same(t, want, got)

	v, ok := row.Value("title")
	require.True(t, ok)
	assert.Equal(t, "x", v.String())
	_, ok = row.Value("missing")
	assert.False(t, ok)
	_, err = row.Path("other")
	assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)

	nodes, err := res.Nodes(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/c"}, paths(nodes))
}

func TestQuery_PicksSupportedLanguage(t *testing.T) {
	s, f := open(t, testutil.ProfileFull, fixture()...)
	f.SetQueryLanguages(transport.LanguageSQLite)

	q, err := s.CreateQuery(titleQuery(t))
	require.NoError(t, err)
	require.NoError(t, q.BindValue("t", value.NewString("x")))

	stmt, err := q.Statement()
	require.NoError(t, err)
	assert.Equal(t, transport.LanguageSQLite, stmt.Language)

	_, err = q.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.CallCount("Query"))
}

// Without a usable Query capability the query runs on the client and gives
// the rows the backend would.
func TestQuery_ClientFallback(t *testing.T) {
	tests := []struct {
		name    string
		profile testutil.Profile
		langs   []string
	}{
		{"no query capability", testutil.ProfileWritable, nil},
		{"no compiler for the languages", testutil.ProfileFull, []string{"xpath"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, f := open(t, tt.profile, fixture()...)
			if tt.langs != nil {
				f.SetQueryLanguages(tt.langs...)
			}

			q, err := s.CreateQuery(titleQuery(t))
			require.NoError(t, err)
			require.NoError(t, q.BindValue("t", value.NewString("x")))

			res, err := q.Execute(ctx)
			require.NoError(t, err)
			assert.Zero(t, f.CallCount("Query"))

			nodes, err := res.Nodes(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"/a", "/c"}, paths(nodes))

			q.SetLimit(1)
			q.SetOffset(1)
			res, err = q.Execute(ctx)
			require.NoError(t, err)
			nodes, err = res.Nodes(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"/c"}, paths(nodes))
		})
	}
}

func TestQuery_StatementUnsupported(t *testing.T) {
	s, _ := open(t, testutil.ProfileWritable)
	q, err := s.CreateQuery(titleQuery(t))
	require.NoError(t, err)

	_, err = q.Statement()
	assert.ErrorIs(t, err, repoerr.ErrUnsupportedOperation)
}
