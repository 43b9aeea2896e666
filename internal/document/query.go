package document

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/value"
)

// Query is a query object model written out as YAML.
type Query struct {
	Source  Source              `yaml:"source"`
	Where   *Constraint         `yaml:"where,omitempty"`
	Order   []Ordering          `yaml:"order,omitempty"`
	Columns []Column            `yaml:"columns,omitempty"`
	Bind    map[string]Property `yaml:"bind,omitempty"`
	Limit   int                 `yaml:"limit,omitempty"`
	Offset  int                 `yaml:"offset,omitempty"`
}

// Source holds exactly one of Selector or Join.
type Source struct {
	Selector *Selector `yaml:"selector,omitempty"`
	Join     *Join     `yaml:"join,omitempty"`
}

type Selector struct {
	Type string `yaml:"type"`
	Name string `yaml:"name,omitempty"`
}

// Join type is inner (default), left or right.
type Join struct {
	Left  Source        `yaml:"left"`
	Right Source        `yaml:"right"`
	Type  string        `yaml:"type,omitempty"`
	On    JoinCondition `yaml:"on"`
}

// JoinCondition holds exactly one condition.
type JoinCondition struct {
	Equi *struct {
		Selector1 string `yaml:"selector1"`
		Property1 string `yaml:"property1"`
		Selector2 string `yaml:"selector2"`
		Property2 string `yaml:"property2"`
	} `yaml:"equi,omitempty"`
	SameNode *struct {
		Selector1 string `yaml:"selector1"`
		Selector2 string `yaml:"selector2"`
		Path      string `yaml:"path,omitempty"`
	} `yaml:"same_node,omitempty"`
	ChildNode *struct {
		Child  string `yaml:"child"`
		Parent string `yaml:"parent"`
	} `yaml:"child_node,omitempty"`
	DescendantNode *struct {
		Descendant string `yaml:"descendant"`
		Ancestor   string `yaml:"ancestor"`
	} `yaml:"descendant_node,omitempty"`
}

// Constraint holds exactly one constraint. And and Or take two or more
// operands and associate to the left.
type Constraint struct {
	And            []Constraint `yaml:"and,omitempty"`
	Or             []Constraint `yaml:"or,omitempty"`
	Not            *Constraint  `yaml:"not,omitempty"`
	Compare        *Comparison  `yaml:"compare,omitempty"`
	Exists         *PropertyRef `yaml:"exists,omitempty"`
	Contains       *FullText    `yaml:"contains,omitempty"`
	SameNode       *PathRef     `yaml:"same_node,omitempty"`
	ChildNode      *PathRef     `yaml:"child_node,omitempty"`
	DescendantNode *PathRef     `yaml:"descendant_node,omitempty"`
}

type Comparison struct {
	Operand Operand `yaml:"operand"`
	Op      string  `yaml:"op"`
	Value   Static  `yaml:"value"`
}

type PropertyRef struct {
	Selector string `yaml:"selector,omitempty"`
	Property string `yaml:"property"`
}

type FullText struct {
	Selector   string `yaml:"selector,omitempty"`
	Property   string `yaml:"property,omitempty"`
	Expression Static `yaml:"expression"`
}

type PathRef struct {
	Selector string `yaml:"selector,omitempty"`
	Path     string `yaml:"path"`
}

// Operand holds exactly one dynamic operand.
type Operand struct {
	Property  *PropertyRef `yaml:"property,omitempty"`
	Length    *PropertyRef `yaml:"length,omitempty"`
	NodeName  *string      `yaml:"node_name,omitempty"`
	LocalName *string      `yaml:"local_name,omitempty"`
	Score     *string      `yaml:"score,omitempty"`
	Lower     *Operand     `yaml:"lower,omitempty"`
	Upper     *Operand     `yaml:"upper,omitempty"`
}

// Static is a literal value or a bind variable reference.
type Static struct {
	Literal *Property `yaml:"literal,omitempty"`
	Bind    string    `yaml:"bind,omitempty"`
}

type Ordering struct {
	Operand Operand `yaml:"operand"`
	Desc    bool    `yaml:"desc,omitempty"`
}

type Column struct {
	Selector string `yaml:"selector,omitempty"`
	Property string `yaml:"property,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// LoadQuery reads a query document.
func LoadQuery(path string) (*Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}
	return ParseQuery(data)
}

// ParseQuery decodes query YAML.
func ParseQuery(data []byte) (*Query, error) {
	var q Query
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}
	return &q, nil
}

// Model builds the query object model. Every constructor check of package
// qom applies, so a document that builds is a valid query.
func (q *Query) Model() (*qom.QueryObjectModel, error) {
	src, err := q.Source.build()
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	var where qom.Constraint
	if q.Where != nil {
		if where, err = q.Where.build(); err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
	}
	orderings := make([]*qom.Ordering, 0, len(q.Order))
	for i, o := range q.Order {
		operand, err := o.Operand.build()
		if err != nil {
			return nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		order := qom.Ascending
		if o.Desc {
			order = qom.Descending
		}
		ord, err := qom.NewOrdering(operand, order)
		if err != nil {
			return nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		orderings = append(orderings, ord)
	}
	columns := make([]*qom.Column, 0, len(q.Columns))
	for i, c := range q.Columns {
		col, err := qom.NewColumn(c.Selector, c.Property, c.Name)
		if err != nil {
			return nil, fmt.Errorf("columns[%d]: %w", i, err)
		}
		columns = append(columns, col)
	}
	return qom.NewQuery(src, where, orderings, columns)
}

// Bindings decodes the bind values.
func (q *Query) Bindings() (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(q.Bind))
	for name, p := range q.Bind {
		v, err := p.Single()
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (s Source) build() (qom.Source, error) {
	switch {
	case s.Selector != nil && s.Join == nil:
		return qom.NewSelector(s.Selector.Type, s.Selector.Name)
	case s.Join != nil && s.Selector == nil:
		left, err := s.Join.Left.build()
		if err != nil {
			return nil, fmt.Errorf("left: %w", err)
		}
		right, err := s.Join.Right.build()
		if err != nil {
			return nil, fmt.Errorf("right: %w", err)
		}
		jt, err := joinType(s.Join.Type)
		if err != nil {
			return nil, err
		}
		cond, err := s.Join.On.build()
		if err != nil {
			return nil, fmt.Errorf("on: %w", err)
		}
		return qom.NewJoin(left, right, jt, cond)
	}
	return nil, fmt.Errorf("exactly one of selector or join is required")
}

func joinType(s string) (qom.JoinType, error) {
	switch s {
	case "", "inner":
		return qom.JoinInner, nil
	case "left":
		return qom.JoinLeftOuter, nil
	case "right":
		return qom.JoinRightOuter, nil
	}
	return 0, fmt.Errorf("unknown join type %q", s)
}

func (c JoinCondition) build() (qom.JoinCondition, error) {
	if n := count(c.Equi != nil, c.SameNode != nil, c.ChildNode != nil, c.DescendantNode != nil); n != 1 {
		return nil, fmt.Errorf("exactly one join condition is required, got %d", n)
	}
	switch {
	case c.Equi != nil:
		e := c.Equi
		return qom.NewEquiJoinCondition(e.Selector1, e.Property1, e.Selector2, e.Property2)
	case c.SameNode != nil:
		return qom.NewSameNodeJoinCondition(c.SameNode.Selector1, c.SameNode.Selector2, c.SameNode.Path)
	case c.ChildNode != nil:
		return qom.NewChildNodeJoinCondition(c.ChildNode.Child, c.ChildNode.Parent)
	default:
		return qom.NewDescendantNodeJoinCondition(c.DescendantNode.Descendant, c.DescendantNode.Ancestor)
	}
}

func (c Constraint) build() (qom.Constraint, error) {
	n := count(c.And != nil, c.Or != nil, c.Not != nil, c.Compare != nil, c.Exists != nil,
		c.Contains != nil, c.SameNode != nil, c.ChildNode != nil, c.DescendantNode != nil)
	if n != 1 {
		return nil, fmt.Errorf("exactly one constraint is required, got %d", n)
	}
	switch {
	case c.And != nil:
		return fold("and", c.And, func(a, b qom.Constraint) (qom.Constraint, error) { return qom.NewAnd(a, b) })
	case c.Or != nil:
		return fold("or", c.Or, func(a, b qom.Constraint) (qom.Constraint, error) { return qom.NewOr(a, b) })
	case c.Not != nil:
		inner, err := c.Not.build()
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return qom.NewNot(inner)
	case c.Compare != nil:
		operand, err := c.Compare.Operand.build()
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		op, err := qom.ParseOperator(c.Compare.Op)
		if err != nil {
			return nil, err
		}
		static, err := c.Compare.Value.build()
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		return qom.NewComparison(operand, op, static)
	case c.Exists != nil:
		return qom.NewPropertyExistence(c.Exists.Selector, c.Exists.Property)
	case c.Contains != nil:
		expr, err := c.Contains.Expression.build()
		if err != nil {
			return nil, fmt.Errorf("contains: %w", err)
		}
		return qom.NewFullTextSearch(c.Contains.Selector, c.Contains.Property, expr)
	case c.SameNode != nil:
		return qom.NewSameNode(c.SameNode.Selector, c.SameNode.Path)
	case c.ChildNode != nil:
		return qom.NewChildNode(c.ChildNode.Selector, c.ChildNode.Path)
	default:
		return qom.NewDescendantNode(c.DescendantNode.Selector, c.DescendantNode.Path)
	}
}

func fold(kind string, items []Constraint, join func(a, b qom.Constraint) (qom.Constraint, error)) (qom.Constraint, error) {
	if len(items) < 2 {
		return nil, fmt.Errorf("%s needs at least two constraints", kind)
	}
	var acc qom.Constraint
	for i, item := range items {
		c, err := item.build()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		if acc == nil {
			acc = c
			continue
		}
		if acc, err = join(acc, c); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (o Operand) build() (qom.DynamicOperand, error) {
	n := count(o.Property != nil, o.Length != nil, o.NodeName != nil, o.LocalName != nil,
		o.Score != nil, o.Lower != nil, o.Upper != nil)
	if n != 1 {
		return nil, fmt.Errorf("exactly one operand is required, got %d", n)
	}
	switch {
	case o.Property != nil:
		return qom.NewPropertyValue(o.Property.Selector, o.Property.Property)
	case o.Length != nil:
		pv, err := qom.NewPropertyValue(o.Length.Selector, o.Length.Property)
		if err != nil {
			return nil, err
		}
		return qom.NewLength(pv)
	case o.NodeName != nil:
		return qom.NewNodeName(*o.NodeName)
	case o.LocalName != nil:
		return qom.NewNodeLocalName(*o.LocalName)
	case o.Score != nil:
		return qom.NewFullTextSearchScore(*o.Score)
	case o.Lower != nil:
		inner, err := o.Lower.build()
		if err != nil {
			return nil, err
		}
		return qom.NewLowerCase(inner)
	default:
		inner, err := o.Upper.build()
		if err != nil {
			return nil, err
		}
		return qom.NewUpperCase(inner)
	}
}

func (s Static) build() (qom.StaticOperand, error) {
	switch {
	case s.Literal != nil && s.Bind == "":
		v, err := s.Literal.Single()
		if err != nil {
			return nil, fmt.Errorf("literal: %w", err)
		}
		return qom.NewLiteral(v)
	case s.Bind != "" && s.Literal == nil:
		return qom.NewBindVariable(s.Bind)
	}
	return nil, fmt.Errorf("exactly one of literal or bind is required")
}

func count(set ...bool) int {
	n := 0
	for _, b := range set {
		if b {
			n++
		}
	}
	return n
}
