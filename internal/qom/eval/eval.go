// Package eval executes Query Object Models on the client by walking the
// node tree through a Transport. The session uses it when the transport
// has no Query capability.
//
// Results follow the semantics of the SQLite store so that switching
// between the two never changes which rows a query returns or their
// order: numeric and date operands compare numerically, LIKE is case
// sensitive, multi-valued properties match when any value does, and every
// result is ordered with the node path as the final tiebreaker.
//
// Only single-selector queries are evaluated. Joins fail with
// UnsupportedOperation.
package eval

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Tree enumerates candidate nodes. Walk calls fn for root and every
// descendant in document order.
type Tree interface {
	Walk(ctx context.Context, root string, fn func(*transport.NodeRecord) error) error
}

// Options bound the result set. Zero values mean no limit and no offset.
type Options struct {
	Limit  int
	Offset int
}

// Evaluate runs q against tree and returns rows shaped like the rows of a
// Query transport: a path and score column for the selector plus one cell
// per column. Missing bind variables fail with InvalidArgument.
func Evaluate(ctx context.Context, q *qom.QueryObjectModel, bindings map[string]value.Value, tree Tree, types *nodetype.Registry, opts Options) ([]transport.Row, error) {
	if q == nil {
		return nil, repoerr.New(repoerr.CodeInvalidArgument, "cannot evaluate nil query")
	}
	sel, ok := q.Source().(*qom.Selector)
	if !ok {
		return nil, repoerr.Unsupported("query", "client-side join evaluation")
	}
	for _, name := range q.BindVariableNames() {
		if _, ok := bindings[name]; !ok {
			return nil, repoerr.At(repoerr.CodeInvalidArgument, "query", "", "bind variable $%s is not bound", name)
		}
	}

	e := &evaluator{bindings: bindings, likes: make(map[string]*regexp.Regexp)}
	root := scope(q.Constraint())
	slog.Debug("evaluating query on client", "selector", sel.SelectorName(), "root", root)

	type match struct {
		rec  *transport.NodeRecord
		keys []sortKey
	}
	var matches []match
	err := tree.Walk(ctx, root, func(rec *transport.NodeRecord) error {
		if sel.NodeTypeName() != "nt:base" && !types.IsNodeType(rec.PrimaryType, rec.Mixins, sel.NodeTypeName()) {
			return nil
		}
		if con := q.Constraint(); con != nil {
			ok, err := e.constraint(con, rec)
			if err != nil || !ok {
				return err
			}
		}
		m := match{rec: rec}
		for _, o := range q.Orderings() {
			k, err := e.orderKey(o.Operand(), rec)
			if err != nil {
				return err
			}
			m.keys = append(m.keys, k)
		}
		matches = append(matches, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	orderings := q.Orderings()
	slices.SortStableFunc(matches, func(a, b match) int {
		for i, o := range orderings {
			c := compareKeys(a.keys[i], b.keys[i])
			if o.Order() == qom.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.rec.Path, b.rec.Path)
	})

	if opts.Offset > 0 {
		matches = matches[min(opts.Offset, len(matches)):]
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	name := sel.SelectorName()
	rows := make([]transport.Row, 0, len(matches))
	for _, m := range matches {
		row := transport.Row{
			transport.PathColumn(name):  {Value: value.NewPath(m.rec.Path), Type: value.Path, Selector: name},
			transport.ScoreColumn(name): {Value: value.NewDouble(1), Type: value.Double, Selector: name},
		}
		for _, col := range q.Columns() {
			if col.PropertyName() == "" {
				for _, p := range m.rec.Properties {
					row[name+"."+p.Name] = propertyCell(name, p)
				}
				continue
			}
			p, ok := m.rec.Property(col.PropertyName())
			if !ok {
				row[col.ColumnName()] = transport.Cell{Selector: name, Null: true}
				continue
			}
			row[col.ColumnName()] = propertyCell(name, p)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// scope returns the narrowest subtree a constraint restricts matches to.
// Only top-level path constraints and conjunctions of them narrow the walk.
func scope(c qom.Constraint) string {
	switch con := c.(type) {
	case *qom.SameNode:
		return con.Path()
	case *qom.ChildNode:
		return con.ParentPath()
	case *qom.DescendantNode:
		return con.AncestorPath()
	case *qom.Parenthesis:
		return scope(con.Constraint())
	case *qom.And:
		a, b := scope(con.Constraint1()), scope(con.Constraint2())
		switch {
		case itempath.IsSelfOrDescendant(a, b):
			return a
		case itempath.IsSelfOrDescendant(b, a):
			return b
		}
		// Disjoint scopes cannot both hold; walking either is correct.
		return a
	}
	return itempath.Root
}

type evaluator struct {
	bindings map[string]value.Value
	likes    map[string]*regexp.Regexp
}

func (e *evaluator) constraint(c qom.Constraint, rec *transport.NodeRecord) (bool, error) {
	switch con := c.(type) {
	case *qom.And:
		ok, err := e.constraint(con.Constraint1(), rec)
		if err != nil || !ok {
			return false, err
		}
		return e.constraint(con.Constraint2(), rec)
	case *qom.Or:
		ok, err := e.constraint(con.Constraint1(), rec)
		if err != nil || ok {
			return ok, err
		}
		return e.constraint(con.Constraint2(), rec)
	case *qom.Not:
		ok, err := e.constraint(con.Constraint(), rec)
		return !ok, err
	case *qom.Parenthesis:
		return e.constraint(con.Constraint(), rec)
	case *qom.Comparison:
		return e.comparison(con, rec)
	case *qom.PropertyExistence:
		_, ok := rec.Property(con.PropertyName())
		return ok, nil
	case *qom.FullTextSearch:
		return e.fullText(con, rec)
	case *qom.SameNode:
		return rec.Path == con.Path(), nil
	case *qom.ChildNode:
		return rec.Path != itempath.Root && itempath.Parent(rec.Path) == con.ParentPath(), nil
	case *qom.DescendantNode:
		return itempath.IsDescendant(rec.Path, con.AncestorPath()), nil
	}
	return false, repoerr.New(repoerr.CodeInvalidArgument, "unsupported constraint type: %T", c)
}

func (e *evaluator) static(o qom.StaticOperand) (value.Value, error) {
	switch op := o.(type) {
	case *qom.Literal:
		return op.Value(), nil
	case *qom.BindVariable:
		v, ok := e.bindings[op.Name()]
		if !ok {
			return value.Value{}, repoerr.At(repoerr.CodeInvalidArgument, "query", "", "bind variable $%s is not bound", op.Name())
		}
		return v, nil
	}
	return value.Value{}, repoerr.New(repoerr.CodeInvalidArgument, "unsupported static operand type: %T", o)
}

// comparison holds when any candidate value of the operand satisfies the
// operator.
func (e *evaluator) comparison(c *qom.Comparison, rec *transport.NodeRecord) (bool, error) {
	rhs, err := e.static(c.Operand2())
	if err != nil {
		return false, err
	}
	base, fold := unfold(c.Operand1())
	num, numeric := rhs.Numeric()
	if fold != nil {
		numeric = false
	}

	var candidates []scalar
	switch op := base.(type) {
	case *qom.PropertyValue:
		p, ok := rec.Property(op.PropertyName())
		if !ok {
			return false, nil
		}
		candidates = propertyScalars(p)
	case *qom.Length:
		p, ok := rec.Property(op.PropertyValue().PropertyName())
		if !ok {
			return false, nil
		}
		for _, n := range lengths(p) {
			candidates = append(candidates, scalar{num: float64(n), isNum: true})
		}
		if !numeric {
			n, err := rhs.Convert(value.Long)
			if err != nil {
				return false, err
			}
			num, numeric = n.Numeric()
		}
	case *qom.NodeName:
		candidates = []scalar{{str: nodeName(rec.Path)}}
		numeric = false
	case *qom.NodeLocalName:
		candidates = []scalar{{str: localName(rec.Path)}}
		numeric = false
	case *qom.FullTextSearchScore:
		return false, repoerr.Unsupported("compare", "SCORE() comparison")
	default:
		return false, repoerr.New(repoerr.CodeInvalidArgument, "unsupported operand type: %T", base)
	}

	for _, cand := range candidates {
		var ok bool
		switch {
		case c.Operator() == qom.OpLike:
			re, err := e.like(rhs.String())
			if err != nil {
				return false, err
			}
			ok = re.MatchString(cand.text(fold))
		case numeric:
			if !cand.isNum {
				continue
			}
			ok = holds(c.Operator(), compareFloat(cand.num, num))
		default:
			ok = holds(c.Operator(), strings.Compare(cand.text(fold), rhs.String()))
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// fullText matches every whitespace-separated term case-insensitively
// against the property values. Terms prefixed with '-' must not occur.
func (e *evaluator) fullText(c *qom.FullTextSearch, rec *transport.NodeRecord) (bool, error) {
	expr, err := e.static(c.Expression())
	if err != nil {
		return false, err
	}
	terms := strings.Fields(expr.String())
	if len(terms) == 0 {
		return false, nil
	}

	var texts []string
	for _, p := range rec.Properties {
		if c.PropertyName() != "" && p.Name != c.PropertyName() {
			continue
		}
		for _, v := range p.Values {
			texts = append(texts, strings.ToLower(v))
		}
	}
	contains := func(term string) bool {
		return slices.ContainsFunc(texts, func(s string) bool { return strings.Contains(s, term) })
	}

	for _, term := range terms {
		negate := strings.HasPrefix(term, "-") && len(term) > 1
		if negate {
			term = term[1:]
		}
		term = strings.ToLower(strings.Trim(term, `"`))
		if contains(term) == negate {
			return false, nil
		}
	}
	return true, nil
}

// like compiles a LIKE pattern into an anchored regexp. Compiled patterns
// are reused for the rest of the evaluation.
func (e *evaluator) like(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.likes[pattern]; ok {
		return re, nil
	}
	var b strings.Builder
	b.WriteString(`(?s)^`)
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(`\\`)
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "query", "", "invalid LIKE pattern %q", pattern)
	}
	e.likes[pattern] = re
	return re, nil
}

func unfold(o qom.DynamicOperand) (qom.DynamicOperand, func(string) string) {
	var fold func(string) string
	for {
		switch op := o.(type) {
		case *qom.LowerCase:
			if fold == nil {
				fold = strings.ToLower
			}
			o = op.Operand()
			continue
		case *qom.UpperCase:
			if fold == nil {
				fold = strings.ToUpper
			}
			o = op.Operand()
			continue
		}
		return o, fold
	}
}

func holds(op qom.Operator, c int) bool {
	switch op {
	case qom.OpEqualTo:
		return c == 0
	case qom.OpNotEqualTo:
		return c != 0
	case qom.OpLessThan:
		return c < 0
	case qom.OpLessThanOrEqualTo:
		return c <= 0
	case qom.OpGreaterThan:
		return c > 0
	case qom.OpGreaterThanOrEqualTo:
		return c >= 0
	}
	return false
}

// nodeName keeps the same-name-sibling index; localName drops it and the
// namespace prefix.
func nodeName(p string) string { return itempath.Name(p) }

func localName(p string) string {
	base, _ := itempath.SplitName(nodeName(p))
	return itempath.LocalName(base)
}

func propertyCell(sel string, p transport.PropertyRecord) transport.Cell {
	if p.Type == value.Binary || len(p.Values) == 0 {
		return transport.Cell{Type: p.Type, Selector: sel, Null: len(p.Lengths) == 0}
	}
	v, err := value.New(p.Type, p.Values[0])
	if err != nil {
		v = value.NewString(p.Values[0])
	}
	return transport.Cell{Value: v, Type: p.Type, Selector: sel}
}

func lengths(p transport.PropertyRecord) []int64 {
	if p.Type == value.Binary {
		return p.Lengths
	}
	out := make([]int64, len(p.Values))
	for i, v := range p.Values {
		out[i] = int64(len([]rune(v)))
	}
	return out
}
