// Package sql2 renders a Query Object Model as JCR-SQL2 text.
//
// Rendering is total over trees built by package qom and deterministic:
// the same tree always yields byte-identical text. Names are bracket-quoted,
// string literals single-quoted with quotes doubled, and non-string literals
// wrapped in CAST('...' AS TYPE). Bind variables stay symbolic ($name); their
// values travel in Statement.Bindings.
package sql2

import (
	"fmt"
	"strings"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Compiler compiles QOM trees to JCR-SQL2 statements.
type Compiler struct{}

// NewCompiler creates a new Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Language implements the query manager's compiler contract.
func (c *Compiler) Language() string { return transport.LanguageSQL2 }

// Compile renders q and attaches bindings. Every bind variable referenced by
// q must be bound.
func (c *Compiler) Compile(q *qom.QueryObjectModel, bindings map[string]value.Value) (transport.Statement, error) {
	text, err := Text(q)
	if err != nil {
		return transport.Statement{}, err
	}
	for _, name := range q.BindVariableNames() {
		if _, ok := bindings[name]; !ok {
			return transport.Statement{}, repoerr.At(repoerr.CodeInvalidArgument, "compile", "", "bind variable $%s is not bound", name)
		}
	}

	stmt := transport.Statement{
		Language:  transport.LanguageSQL2,
		Text:      text,
		Bindings:  bindings,
		Selectors: q.SelectorNames(),
	}
	for _, col := range q.Columns() {
		if col.PropertyName() == "" {
			stmt.Columns = append(stmt.Columns, col.SelectorName()+".*")
			continue
		}
		stmt.Columns = append(stmt.Columns, col.ColumnName())
	}
	return stmt, nil
}

// Text renders q as JCR-SQL2.
func Text(q *qom.QueryObjectModel) (string, error) {
	if q == nil {
		return "", repoerr.New(repoerr.CodeInvalidArgument, "cannot compile nil query")
	}
	var b strings.Builder

	b.WriteString("SELECT ")
	writeColumns(&b, q.Columns())

	b.WriteString(" FROM ")
	if err := writeSource(&b, q.Source()); err != nil {
		return "", err
	}

	if c := q.Constraint(); c != nil {
		b.WriteString(" WHERE ")
		if err := writeConstraint(&b, c); err != nil {
			return "", err
		}
	}

	if orderings := q.Orderings(); len(orderings) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range orderings {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeDynamic(&b, o.Operand()); err != nil {
				return "", err
			}
			b.WriteString(" ")
			b.WriteString(o.Order().String())
		}
	}

	return b.String(), nil
}

func writeColumns(b *strings.Builder, cols []*qom.Column) {
	if len(cols) == 0 {
		b.WriteString("*")
		return
	}
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(col.SelectorName()))
		if col.PropertyName() == "" {
			b.WriteString(".*")
			continue
		}
		b.WriteString(".")
		b.WriteString(quote(col.PropertyName()))
		b.WriteString(" AS ")
		b.WriteString(quote(col.ColumnName()))
	}
}

func writeSource(b *strings.Builder, s qom.Source) error {
	switch src := s.(type) {
	case *qom.Selector:
		b.WriteString(quote(src.NodeTypeName()))
		if src.SelectorName() != src.NodeTypeName() {
			b.WriteString(" AS ")
			b.WriteString(quote(src.SelectorName()))
		}
		return nil

	case *qom.Join:
		if err := writeSource(b, src.Left()); err != nil {
			return err
		}
		fmt.Fprintf(b, " %s JOIN ", src.JoinType())
		if err := writeSource(b, src.Right()); err != nil {
			return err
		}
		b.WriteString(" ON ")
		return writeJoinCondition(b, src.Condition())
	}
	return repoerr.New(repoerr.CodeInvalidArgument, "unsupported source type: %T", s)
}

func writeJoinCondition(b *strings.Builder, jc qom.JoinCondition) error {
	switch c := jc.(type) {
	case *qom.EquiJoinCondition:
		fmt.Fprintf(b, "%s.%s = %s.%s",
			quote(c.Selector1Name()), quote(c.Property1Name()),
			quote(c.Selector2Name()), quote(c.Property2Name()))
	case *qom.SameNodeJoinCondition:
		if c.Selector2Path() == "" {
			fmt.Fprintf(b, "ISSAMENODE(%s, %s)", quote(c.Selector1Name()), quote(c.Selector2Name()))
		} else {
			fmt.Fprintf(b, "ISSAMENODE(%s, %s, %s)", quote(c.Selector1Name()), quote(c.Selector2Name()), quotePath(c.Selector2Path()))
		}
	case *qom.ChildNodeJoinCondition:
		fmt.Fprintf(b, "ISCHILDNODE(%s, %s)", quote(c.ChildSelectorName()), quote(c.ParentSelectorName()))
	case *qom.DescendantNodeJoinCondition:
		fmt.Fprintf(b, "ISDESCENDANTNODE(%s, %s)", quote(c.DescendantSelectorName()), quote(c.AncestorSelectorName()))
	default:
		return repoerr.New(repoerr.CodeInvalidArgument, "unsupported join condition type: %T", jc)
	}
	return nil
}

// precedence orders constraint kinds for parenthesization. Explicit
// Parenthesis nodes always render their own parentheses.
func precedence(c qom.Constraint) int {
	switch c.(type) {
	case *qom.Or:
		return 1
	case *qom.And:
		return 2
	case *qom.Not:
		return 3
	}
	return 4
}

func writeOperand(b *strings.Builder, c qom.Constraint, min int) error {
	if precedence(c) < min {
		b.WriteString("(")
		if err := writeConstraint(b, c); err != nil {
			return err
		}
		b.WriteString(")")
		return nil
	}
	return writeConstraint(b, c)
}

func writeConstraint(b *strings.Builder, c qom.Constraint) error {
	switch con := c.(type) {
	case *qom.And:
		if err := writeOperand(b, con.Constraint1(), 2); err != nil {
			return err
		}
		b.WriteString(" AND ")
		return writeOperand(b, con.Constraint2(), 2)

	case *qom.Or:
		if err := writeOperand(b, con.Constraint1(), 1); err != nil {
			return err
		}
		b.WriteString(" OR ")
		return writeOperand(b, con.Constraint2(), 1)

	case *qom.Not:
		b.WriteString("NOT ")
		return writeOperand(b, con.Constraint(), 3)

	case *qom.Parenthesis:
		b.WriteString("(")
		if err := writeConstraint(b, con.Constraint()); err != nil {
			return err
		}
		b.WriteString(")")
		return nil

	case *qom.Comparison:
		if err := writeDynamic(b, con.Operand1()); err != nil {
			return err
		}
		b.WriteString(" ")
		b.WriteString(con.Operator().Symbol())
		b.WriteString(" ")
		return writeStatic(b, con.Operand2())

	case *qom.PropertyExistence:
		fmt.Fprintf(b, "%s.%s IS NOT NULL", quote(con.SelectorName()), quote(con.PropertyName()))
		return nil

	case *qom.FullTextSearch:
		b.WriteString("CONTAINS(")
		b.WriteString(quote(con.SelectorName()))
		if con.PropertyName() == "" {
			b.WriteString(".*")
		} else {
			b.WriteString(".")
			b.WriteString(quote(con.PropertyName()))
		}
		b.WriteString(", ")
		if err := writeStatic(b, con.Expression()); err != nil {
			return err
		}
		b.WriteString(")")
		return nil

	case *qom.SameNode:
		fmt.Fprintf(b, "ISSAMENODE(%s, %s)", quote(con.SelectorName()), quotePath(con.Path()))
		return nil

	case *qom.ChildNode:
		fmt.Fprintf(b, "ISCHILDNODE(%s, %s)", quote(con.SelectorName()), quotePath(con.ParentPath()))
		return nil

	case *qom.DescendantNode:
		fmt.Fprintf(b, "ISDESCENDANTNODE(%s, %s)", quote(con.SelectorName()), quotePath(con.AncestorPath()))
		return nil
	}
	return repoerr.New(repoerr.CodeInvalidArgument, "unsupported constraint type: %T", c)
}

func writeDynamic(b *strings.Builder, o qom.DynamicOperand) error {
	switch op := o.(type) {
	case *qom.PropertyValue:
		fmt.Fprintf(b, "%s.%s", quote(op.SelectorName()), quote(op.PropertyName()))
	case *qom.Length:
		pv := op.PropertyValue()
		fmt.Fprintf(b, "LENGTH(%s.%s)", quote(pv.SelectorName()), quote(pv.PropertyName()))
	case *qom.NodeName:
		fmt.Fprintf(b, "NAME(%s)", quote(op.SelectorName()))
	case *qom.NodeLocalName:
		fmt.Fprintf(b, "LOCALNAME(%s)", quote(op.SelectorName()))
	case *qom.FullTextSearchScore:
		fmt.Fprintf(b, "SCORE(%s)", quote(op.SelectorName()))
	case *qom.LowerCase:
		b.WriteString("LOWER(")
		if err := writeDynamic(b, op.Operand()); err != nil {
			return err
		}
		b.WriteString(")")
	case *qom.UpperCase:
		b.WriteString("UPPER(")
		if err := writeDynamic(b, op.Operand()); err != nil {
			return err
		}
		b.WriteString(")")
	default:
		return repoerr.New(repoerr.CodeInvalidArgument, "unsupported operand type: %T", o)
	}
	return nil
}

func writeStatic(b *strings.Builder, o qom.StaticOperand) error {
	switch op := o.(type) {
	case *qom.Literal:
		b.WriteString(Literal(op.Value()))
	case *qom.BindVariable:
		b.WriteString("$")
		b.WriteString(op.Name())
	default:
		return repoerr.New(repoerr.CodeInvalidArgument, "unsupported static operand type: %T", o)
	}
	return nil
}

// Literal renders a value as a JCR-SQL2 literal.
func Literal(v value.Value) string {
	s := "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	if v.Type() == value.String {
		return s
	}
	return fmt.Sprintf("CAST(%s AS %s)", s, strings.ToUpper(v.Type().String()))
}

// quote brackets a name. Constructors in package qom reject names
// containing brackets, so the result always parses back.
func quote(name string) string {
	return "[" + name + "]"
}

// quotePath brackets a path unless it carries a same-name-sibling index,
// whose closing bracket would end the quoted name early. Such paths are
// written as string literals instead.
func quotePath(p string) string {
	if strings.ContainsAny(p, "[]") {
		return "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return quote(p)
}
