// Package querysql compiles Query Object Models to parameterized SQL over
// the SQLite store schema (nodes, node_types, properties, property_values).
//
// CRITICAL: every query includes ORDER BY with a per-selector path
// tiebreaker, so results are deterministic.
// CRITICAL: values are never interpolated; every value is a ? parameter.
package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// WorkspaceArg is a placeholder argument standing for the workspace the
// statement runs in. The executing backend substitutes it.
type WorkspaceArg struct{}

// SQLCompiler compiles QOM trees to parameterized SQL for SQLite.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Language implements the query manager's compiler contract.
func (c *SQLCompiler) Language() string { return transport.LanguageSQLite }

// Compile converts a query to a statement. Bind variables are resolved from
// bindings and become ordinary parameters.
//
// The select list is one path column per selector followed by a value and a
// type column for each property column. "selector.*" columns produce no SQL
// column; the backend expands them from the node's properties.
func (c *SQLCompiler) Compile(q *qom.QueryObjectModel, bindings map[string]value.Value) (transport.Statement, error) {
	if q == nil {
		return transport.Statement{}, repoerr.New(repoerr.CodeInvalidArgument, "cannot compile nil query")
	}
	b := &builder{
		aliases:  make(map[string]string),
		bindings: bindings,
	}
	for i, name := range q.SelectorNames() {
		b.aliases[name] = fmt.Sprintf("s%d", i)
	}

	stmt := transport.Statement{
		Language:  transport.LanguageSQLite,
		Selectors: q.SelectorNames(),
	}

	var selectList []string
	for _, name := range q.SelectorNames() {
		selectList = append(selectList, b.aliases[name]+".path")
	}
	for _, col := range q.Columns() {
		a := b.aliases[col.SelectorName()]
		if col.PropertyName() == "" {
			stmt.Columns = append(stmt.Columns, col.SelectorName()+".*")
			continue
		}
		stmt.Columns = append(stmt.Columns, col.ColumnName())
		selectList = append(selectList,
			fmt.Sprintf("(SELECT v.value FROM property_values v WHERE %s AND v.idx = 0)", valueOf(a, b.param(col.PropertyName()))),
			fmt.Sprintf("(SELECT p.type FROM properties p WHERE p.workspace = %s.workspace AND p.node_path = %s.path AND p.name = %s)", a, a, b.param(col.PropertyName())),
		)
	}
	selectArgs := b.take()

	from, where, err := b.source(q.Source())
	if err != nil {
		return transport.Statement{}, err
	}
	if con := q.Constraint(); con != nil {
		f, err := b.capture(func() (string, error) { return b.constraint(con) })
		if err != nil {
			return transport.Statement{}, err
		}
		where = append(where, f)
	}

	orderBy, err := b.orderings(q)
	if err != nil {
		return transport.Statement{}, err
	}
	orderArgs := b.take()

	var sql strings.Builder
	args := selectArgs
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(selectList, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(from.sql)
	args = append(args, from.args...)
	for i, f := range where {
		if i == 0 {
			sql.WriteString(" WHERE ")
		} else {
			sql.WriteString(" AND ")
		}
		sql.WriteString(f.sql)
		args = append(args, f.args...)
	}
	// MANDATORY: always ORDER BY with a deterministic tiebreaker
	sql.WriteString(" ORDER BY ")
	sql.WriteString(strings.Join(orderBy, ", "))
	args = append(args, orderArgs...)

	stmt.Text = sql.String()
	stmt.Args = args
	return stmt, nil
}

// fragment is a piece of SQL with the arguments of its placeholders.
type fragment struct {
	sql  string
	args []any
}

// builder accumulates parameters while clauses are compiled.
type builder struct {
	aliases  map[string]string
	bindings map[string]value.Value
	args     []any
}

func (b *builder) param(v any) string {
	b.args = append(b.args, v)
	return "?"
}

func (b *builder) take() []any {
	out := b.args
	b.args = nil
	return out
}

// capture runs fn and returns its SQL together with the args it added.
func (b *builder) capture(fn func() (string, error)) (fragment, error) {
	saved := b.take()
	sql, err := fn()
	f := fragment{sql: sql, args: b.take()}
	b.args = saved
	return f, err
}

// source compiles the FROM clause. Selector filters (workspace and node
// type) of the null-supplying side of an outer join go into that join's ON
// clause; the rest are returned for WHERE.
func (b *builder) source(s qom.Source) (fragment, []fragment, error) {
	switch src := s.(type) {
	case *qom.Selector:
		a := b.aliases[src.SelectorName()]
		filter, _ := b.capture(func() (string, error) { return b.selectorFilter(a, src.NodeTypeName()), nil })
		return fragment{sql: "nodes AS " + a}, []fragment{filter}, nil

	case *qom.Join:
		left, leftFilters, err := b.source(src.Left())
		if err != nil {
			return fragment{}, nil, err
		}
		right, rightFilters, err := b.source(src.Right())
		if err != nil {
			return fragment{}, nil, err
		}
		cond, err := b.capture(func() (string, error) { return b.joinCondition(src.Condition()) })
		if err != nil {
			return fragment{}, nil, err
		}

		on := []fragment{cond}
		var pending []fragment
		keyword := "INNER JOIN"
		switch src.JoinType() {
		case qom.JoinLeftOuter:
			keyword = "LEFT OUTER JOIN"
			on = append(on, rightFilters...)
			pending = leftFilters
		case qom.JoinRightOuter:
			keyword = "RIGHT OUTER JOIN"
			on = append(on, leftFilters...)
			pending = rightFilters
		default:
			pending = append(leftFilters, rightFilters...)
		}

		out := fragment{
			sql:  fmt.Sprintf("%s %s %s ON ", left.sql, keyword, right.sql),
			args: append(append([]any{}, left.args...), right.args...),
		}
		for i, f := range on {
			if i > 0 {
				out.sql += " AND "
			}
			out.sql += f.sql
			out.args = append(out.args, f.args...)
		}
		return out, pending, nil
	}
	return fragment{}, nil, repoerr.New(repoerr.CodeInvalidArgument, "unsupported source type: %T", s)
}

func (b *builder) selectorFilter(a, nodeType string) string {
	filter := fmt.Sprintf("%s.workspace = %s", a, b.param(WorkspaceArg{}))
	if nodeType == "nt:base" {
		return filter
	}
	return filter + fmt.Sprintf(" AND EXISTS (SELECT 1 FROM node_types t WHERE t.workspace = %s.workspace AND t.path = %s.path AND t.type = %s)", a, a, b.param(nodeType))
}

func (b *builder) joinCondition(jc qom.JoinCondition) (string, error) {
	switch c := jc.(type) {
	case *qom.EquiJoinCondition:
		a1, a2 := b.aliases[c.Selector1Name()], b.aliases[c.Selector2Name()]
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM property_values j1 JOIN property_values j2 ON j1.value = j2.value"+
				" WHERE j1.workspace = %s.workspace AND j1.node_path = %s.path AND j1.name = %s"+
				" AND j2.workspace = %s.workspace AND j2.node_path = %s.path AND j2.name = %s)",
			a1, a1, b.param(c.Property1Name()), a2, a2, b.param(c.Property2Name())), nil

	case *qom.SameNodeJoinCondition:
		a1, a2 := b.aliases[c.Selector1Name()], b.aliases[c.Selector2Name()]
		if c.Selector2Path() == "" {
			return fmt.Sprintf("%s.path = %s.path", a1, a2), nil
		}
		return fmt.Sprintf("%s.path = (CASE WHEN %s.path = '/' THEN '' ELSE %s.path END) || '/' || %s",
			a1, a2, a2, b.param(strings.Trim(c.Selector2Path(), "/"))), nil

	case *qom.ChildNodeJoinCondition:
		return fmt.Sprintf("%s.parent = %s.path", b.aliases[c.ChildSelectorName()], b.aliases[c.ParentSelectorName()]), nil

	case *qom.DescendantNodeJoinCondition:
		d, a := b.aliases[c.DescendantSelectorName()], b.aliases[c.AncestorSelectorName()]
		return fmt.Sprintf("%s.path <> %s.path AND (%s.path = '/' OR substr(%s.path, 1, length(%s.path) + 1) = %s.path || '/')",
			d, a, a, d, a, a), nil
	}
	return "", repoerr.New(repoerr.CodeInvalidArgument, "unsupported join condition type: %T", jc)
}

// constraint compiles a constraint. Composites are always parenthesized.
func (b *builder) constraint(c qom.Constraint) (string, error) {
	switch con := c.(type) {
	case *qom.And:
		return b.binary(con.Constraint1(), "AND", con.Constraint2())
	case *qom.Or:
		return b.binary(con.Constraint1(), "OR", con.Constraint2())
	case *qom.Not:
		inner, err := b.constraint(con.Constraint())
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *qom.Parenthesis:
		inner, err := b.constraint(con.Constraint())
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case *qom.Comparison:
		return b.comparison(con)
	case *qom.PropertyExistence:
		a := b.aliases[con.SelectorName()]
		return fmt.Sprintf("EXISTS (SELECT 1 FROM properties p WHERE p.workspace = %s.workspace AND p.node_path = %s.path AND p.name = %s)",
			a, a, b.param(con.PropertyName())), nil
	case *qom.FullTextSearch:
		return b.fullText(con)
	case *qom.SameNode:
		return fmt.Sprintf("%s.path = %s", b.aliases[con.SelectorName()], b.param(con.Path())), nil
	case *qom.ChildNode:
		return fmt.Sprintf("%s.parent = %s", b.aliases[con.SelectorName()], b.param(con.ParentPath())), nil
	case *qom.DescendantNode:
		a := b.aliases[con.SelectorName()]
		if con.AncestorPath() == "/" {
			return fmt.Sprintf("%s.path <> '/'", a), nil
		}
		prefix := con.AncestorPath() + "/"
		// substr counts characters, not bytes.
		return fmt.Sprintf("substr(%s.path, 1, %s) = %s", a, b.param(utf8.RuneCountInString(prefix)), b.param(prefix)), nil
	}
	return "", repoerr.New(repoerr.CodeInvalidArgument, "unsupported constraint type: %T", c)
}

func (b *builder) binary(c1 qom.Constraint, op string, c2 qom.Constraint) (string, error) {
	left, err := b.constraint(c1)
	if err != nil {
		return "", err
	}
	right, err := b.constraint(c2)
	if err != nil {
		return "", err
	}
	return "(" + left + " " + op + " " + right + ")", nil
}

func (b *builder) static(o qom.StaticOperand) (value.Value, error) {
	switch op := o.(type) {
	case *qom.Literal:
		return op.Value(), nil
	case *qom.BindVariable:
		v, ok := b.bindings[op.Name()]
		if !ok {
			return value.Value{}, repoerr.At(repoerr.CodeInvalidArgument, "compile", "", "bind variable $%s is not bound", op.Name())
		}
		return v, nil
	}
	return value.Value{}, repoerr.New(repoerr.CodeInvalidArgument, "unsupported static operand type: %T", o)
}

// comparison compiles operand1 op operand2. Property operands compare any
// of the property's values (multi-valued properties match when one value
// does). Numeric and date literals compare on the numeric shadow column.
func (b *builder) comparison(c *qom.Comparison) (string, error) {
	rhs, err := b.static(c.Operand2())
	if err != nil {
		return "", err
	}
	num, numeric := rhs.Numeric()

	// Peel case folding down to the base operand.
	base := c.Operand1()
	var fold string
	for {
		switch op := base.(type) {
		case *qom.LowerCase:
			if fold == "" {
				fold = "lower"
			}
			base = op.Operand()
			continue
		case *qom.UpperCase:
			if fold == "" {
				fold = "upper"
			}
			base = op.Operand()
			continue
		}
		break
	}
	if fold != "" {
		numeric = false
	}

	var lhs, from string
	switch op := base.(type) {
	case *qom.PropertyValue:
		a := b.aliases[op.SelectorName()]
		from = valueOf(a, b.param(op.PropertyName()))
		if numeric {
			lhs = "v.num"
		} else {
			lhs = "v.value"
		}
	case *qom.Length:
		pv := op.PropertyValue()
		a := b.aliases[pv.SelectorName()]
		from = valueOf(a, b.param(pv.PropertyName()))
		lhs = "(CASE WHEN v.data IS NOT NULL THEN length(v.data) ELSE length(v.value) END)"
		if !numeric {
			n, err := rhs.Convert(value.Long)
			if err != nil {
				return "", err
			}
			num, numeric = n.Numeric()
		}
	case *qom.NodeName:
		lhs = b.aliases[op.SelectorName()] + ".name"
		numeric = false
	case *qom.NodeLocalName:
		lhs = b.aliases[op.SelectorName()] + ".local_name"
		numeric = false
	case *qom.FullTextSearchScore:
		return "", repoerr.Unsupported("compare", "SCORE() comparison")
	default:
		return "", repoerr.New(repoerr.CodeInvalidArgument, "unsupported operand type: %T", base)
	}
	if fold != "" {
		lhs = fold + "(" + lhs + ")"
	}

	var cond string
	switch {
	case c.Operator() == qom.OpLike:
		cond = fmt.Sprintf("%s GLOB %s", lhs, b.param(likeToGlob(rhs.String())))
	case numeric:
		cond = fmt.Sprintf("%s %s %s", lhs, c.Operator().Symbol(), b.param(num))
	default:
		cond = fmt.Sprintf("%s %s %s", lhs, c.Operator().Symbol(), b.param(rhs.String()))
	}

	if from == "" {
		return cond, nil
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM property_values v WHERE %s AND %s)", from, cond), nil
}

// fullText matches every whitespace-separated term case-insensitively.
// Terms prefixed with '-' must not occur.
func (b *builder) fullText(c *qom.FullTextSearch) (string, error) {
	expr, err := b.static(c.Expression())
	if err != nil {
		return "", err
	}
	terms := strings.Fields(expr.String())
	if len(terms) == 0 {
		return "1 = 0", nil
	}

	a := b.aliases[c.SelectorName()]
	var parts []string
	for _, term := range terms {
		exists := "EXISTS"
		if strings.HasPrefix(term, "-") && len(term) > 1 {
			exists = "NOT EXISTS"
			term = term[1:]
		}
		term = strings.Trim(term, `"`)

		scope := fmt.Sprintf("v.workspace = %s.workspace AND v.node_path = %s.path", a, a)
		if c.PropertyName() != "" {
			scope += " AND v.name = " + b.param(c.PropertyName())
		}
		parts = append(parts, fmt.Sprintf("%s (SELECT 1 FROM property_values v WHERE %s AND instr(lower(v.value), %s) > 0)",
			exists, scope, b.param(strings.ToLower(term))))
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *builder) orderings(q *qom.QueryObjectModel) ([]string, error) {
	var out []string
	for _, o := range q.Orderings() {
		expr, err := b.orderOperand(o.Operand())
		if err != nil {
			return nil, err
		}
		if expr == "" {
			continue
		}
		out = append(out, expr+" "+o.Order().String())
	}
	// Tiebreaker: every selector's path, left to right.
	for _, name := range q.SelectorNames() {
		out = append(out, b.aliases[name]+".path COLLATE BINARY ASC")
	}
	return out, nil
}

func (b *builder) orderOperand(o qom.DynamicOperand) (string, error) {
	switch op := o.(type) {
	case *qom.PropertyValue:
		a := b.aliases[op.SelectorName()]
		return fmt.Sprintf("(SELECT CASE WHEN v.num IS NOT NULL THEN v.num ELSE v.value END FROM property_values v WHERE %s AND v.idx = 0)",
			valueOf(a, b.param(op.PropertyName()))), nil
	case *qom.Length:
		pv := op.PropertyValue()
		a := b.aliases[pv.SelectorName()]
		return fmt.Sprintf("(SELECT CASE WHEN v.data IS NOT NULL THEN length(v.data) ELSE length(v.value) END FROM property_values v WHERE %s AND v.idx = 0)",
			valueOf(a, b.param(pv.PropertyName()))), nil
	case *qom.NodeName:
		return b.aliases[op.SelectorName()] + ".name", nil
	case *qom.NodeLocalName:
		return b.aliases[op.SelectorName()] + ".local_name", nil
	case *qom.FullTextSearchScore:
		// Constant score; ordering by it is a no-op.
		return "", nil
	case *qom.LowerCase:
		inner, err := b.orderOperand(op.Operand())
		if err != nil || inner == "" {
			return inner, err
		}
		return "lower(" + inner + ")", nil
	case *qom.UpperCase:
		inner, err := b.orderOperand(op.Operand())
		if err != nil || inner == "" {
			return inner, err
		}
		return "upper(" + inner + ")", nil
	}
	return "", repoerr.New(repoerr.CodeInvalidArgument, "unsupported operand type: %T", o)
}

// valueOf scopes property_values v to one property of selector alias a.
func valueOf(a, nameParam string) string {
	return fmt.Sprintf("v.workspace = %s.workspace AND v.node_path = %s.path AND v.name = %s", a, a, nameParam)
}

// likeToGlob translates a LIKE pattern (% and _ wildcards, backslash
// escape) into a case-sensitive GLOB pattern.
func likeToGlob(pattern string) string {
	var g strings.Builder
	escaped := false
	for _, r := range pattern {
		if escaped {
			g.WriteString(globLiteral(r))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			g.WriteByte('*')
		case '_':
			g.WriteByte('?')
		default:
			g.WriteString(globLiteral(r))
		}
	}
	if escaped {
		g.WriteString(globLiteral('\\'))
	}
	return g.String()
}

func globLiteral(r rune) string {
	switch r {
	case '*', '?', '[':
		return "[" + string(r) + "]"
	}
	return string(r)
}
