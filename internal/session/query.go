package session

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/qom/eval"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Compiler renders a query object model in one textual query language.
// Compile must be deterministic: the same tree and bindings always give
// the same statement.
type Compiler interface {
	Language() string
	Compile(q *qom.QueryObjectModel, bindings map[string]value.Value) (transport.Statement, error)
}

// Query is a prepared query object model with its bindings and bounds.
// Queries see persisted state only; pending changes are not visible.
type Query struct {
	s        *Session
	model    *qom.QueryObjectModel
	bindings map[string]value.Value
	limit    int
	offset   int
}

// CreateQuery prepares q for execution.
func (s *Session) CreateQuery(q *qom.QueryObjectModel) (*Query, error) {
	if err := s.check("createQuery"); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "createQuery", "", "query must not be nil")
	}
	return &Query{s: s, model: q, bindings: map[string]value.Value{}}, nil
}

// Model returns the query object model.
func (q *Query) Model() *qom.QueryObjectModel { return q.model }

// BindValue binds a variable the query references.
func (q *Query) BindValue(name string, v value.Value) error {
	if !slices.Contains(q.model.BindVariableNames(), name) {
		return repoerr.At(repoerr.CodeInvalidArgument, "bindValue", "", "query has no bind variable $%s", name)
	}
	q.bindings[name] = v
	return nil
}

// SetLimit caps the number of rows. Zero means no limit.
func (q *Query) SetLimit(n int) { q.limit = max(n, 0) }

// SetOffset skips the first n rows.
func (q *Query) SetOffset(n int) { q.offset = max(n, 0) }

// compiler picks the first configured compiler whose language the
// transport executes. It returns nil when there is none.
func (s *Session) compiler() Compiler {
	qt := s.caps.Query
	if qt == nil {
		return nil
	}
	langs := qt.SupportedQueryLanguages()
	for _, c := range s.compilers {
		if slices.Contains(langs, c.Language()) {
			return c
		}
	}
	return nil
}

// Statement compiles the query for the transport.
func (q *Query) Statement() (transport.Statement, error) {
	c := q.s.compiler()
	if c == nil {
		return transport.Statement{}, repoerr.Unsupported("compile", "Query")
	}
	stmt, err := c.Compile(q.model, maps.Clone(q.bindings))
	if err != nil {
		return transport.Statement{}, err
	}
	stmt.Limit = q.limit
	stmt.Offset = q.offset
	return stmt, nil
}

// Execute runs the query.
//
// With a Query transport speaking one of the compiled languages the
// statement runs in the backend. Otherwise the query is evaluated on the
// client by walking the persisted tree.
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	s := q.s
	if err := s.check("query"); err != nil {
		return nil, err
	}
	res := &Result{s: s, selectors: q.model.SelectorNames()}
	for _, col := range q.model.Columns() {
		res.columns = append(res.columns, col.ColumnName())
	}

	if c := s.compiler(); c != nil {
		stmt, err := q.Statement()
		if err != nil {
			return nil, err
		}
		s.logger.Debug("query compiled", "language", c.Language(), "statement", stmt.Text)
		rows, err := s.caps.Query.Query(ctx, stmt)
		if err != nil {
			return nil, repoerr.Wrap(err, "query", "")
		}
		res.rows = rows
		return res, nil
	}

	if s.caps.Query != nil {
		s.logger.Warn("no compiler for the transport's query languages; evaluating on the client",
			"languages", s.caps.Query.SupportedQueryLanguages())
	}
	rows, err := eval.Evaluate(ctx, q.model, maps.Clone(q.bindings), eval.NewTransportTree(s.t), s.types, eval.Options{Limit: q.limit, Offset: q.offset})
	if err != nil {
		return nil, repoerr.Wrap(err, "query", "")
	}
	res.rows = rows
	return res, nil
}

// Result holds the rows of one execution.
type Result struct {
	s         *Session
	selectors []string
	columns   []string
	rows      []transport.Row
}

// SelectorNames lists the query's selectors in source order.
func (r *Result) SelectorNames() []string { return slices.Clone(r.selectors) }

// ColumnNames lists the explicitly requested columns.
func (r *Result) ColumnNames() []string { return slices.Clone(r.columns) }

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.rows) }

// Rows returns the rows in result order.
func (r *Result) Rows() []Row {
	out := make([]Row, len(r.rows))
	for i, cells := range r.rows {
		out[i] = Row{res: r, cells: cells}
	}
	return out
}

// Nodes resolves the rows' nodes for selector through the object manager,
// in row order. An empty selector means the only one. Rows whose node has
// since gone are skipped.
func (r *Result) Nodes(ctx context.Context, selector string) ([]*om.Node, error) {
	sel, err := r.selector(selector)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, row := range r.rows {
		if c, ok := row[transport.PathColumn(sel)]; ok && !c.Null {
			paths = append(paths, c.Value.String())
		}
	}
	return r.s.om.GetNodesByPath(ctx, paths)
}

func (r *Result) selector(name string) (string, error) {
	if name == "" {
		if len(r.selectors) != 1 {
			return "", repoerr.At(repoerr.CodeInvalidArgument, "result", "", "query has %d selectors; name one", len(r.selectors))
		}
		return r.selectors[0], nil
	}
	if !slices.Contains(r.selectors, name) {
		return "", repoerr.At(repoerr.CodeInvalidArgument, "result", "", "no selector %q", name)
	}
	return name, nil
}

// Row is one result row.
type Row struct {
	res   *Result
	cells transport.Row
}

// Value returns the value of column. ok is false for unknown columns and
// NULL cells.
func (row Row) Value(column string) (value.Value, bool) {
	c, ok := row.cells[column]
	if !ok || c.Null {
		return value.Value{}, false
	}
	return c.Value, true
}

// Path returns the path of the node matched by selector.
func (row Row) Path(selector string) (string, error) {
	sel, err := row.res.selector(selector)
	if err != nil {
		return "", err
	}
	c, ok := row.cells[transport.PathColumn(sel)]
	if !ok || c.Null {
		return "", repoerr.At(repoerr.CodeItemNotFound, "row", "", "selector %s matched no node in this row", sel)
	}
	return c.Value.String(), nil
}

// Score returns the full-text score for selector, zero when absent.
func (row Row) Score(selector string) float64 {
	sel, err := row.res.selector(selector)
	if err != nil {
		return 0
	}
	c, ok := row.cells[transport.ScoreColumn(sel)]
	if !ok || c.Null {
		return 0
	}
	f, _ := c.Value.Double()
	return f
}

// Node resolves the node matched by selector through the object manager,
// so it is the same *Node a path lookup returns.
func (row Row) Node(ctx context.Context, selector string) (*om.Node, error) {
	p, err := row.Path(selector)
	if err != nil {
		return nil, err
	}
	return row.res.s.om.GetNodeByPath(ctx, p)
}
