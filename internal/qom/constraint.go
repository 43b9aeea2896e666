package qom

import (
	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/value"
)

// Constraint filters the rows produced by the source.
type Constraint interface {
	// Constraints enumerates the constraint tree post-order: children
	// before the node itself. Leaves return themselves; And, Or and
	// Parenthesis append themselves after their children; Not contributes
	// only its child's constraints.
	Constraints() []Constraint

	constraintNode() // Marker method - seals interface to this package
}

// Operator is a comparison operator.
type Operator int

const (
	OpEqualTo Operator = iota + 1
	OpNotEqualTo
	OpLessThan
	OpLessThanOrEqualTo
	OpGreaterThan
	OpGreaterThanOrEqualTo
	OpLike
)

var operatorSymbols = map[Operator]string{
	OpEqualTo:              "=",
	OpNotEqualTo:           "<>",
	OpLessThan:             "<",
	OpLessThanOrEqualTo:    "<=",
	OpGreaterThan:          ">",
	OpGreaterThanOrEqualTo: ">=",
	OpLike:                 "LIKE",
}

// Symbol returns the operator as written in query text.
func (o Operator) Symbol() string {
	if s, ok := operatorSymbols[o]; ok {
		return s
	}
	return "?"
}

// ParseOperator accepts a symbol ("=", "LIKE") or a JCR-style name
// ("jcr.operator.equal.to", "EqualTo").
func ParseOperator(s string) (Operator, error) {
	for op, sym := range operatorSymbols {
		if s == sym {
			return op, nil
		}
	}
	switch s {
	case "jcr.operator.equal.to", "EqualTo":
		return OpEqualTo, nil
	case "jcr.operator.not.equal.to", "NotEqualTo":
		return OpNotEqualTo, nil
	case "jcr.operator.less.than", "LessThan":
		return OpLessThan, nil
	case "jcr.operator.less.than.or.equal.to", "LessThanOrEqualTo":
		return OpLessThanOrEqualTo, nil
	case "jcr.operator.greater.than", "GreaterThan":
		return OpGreaterThan, nil
	case "jcr.operator.greater.than.or.equal.to", "GreaterThanOrEqualTo":
		return OpGreaterThanOrEqualTo, nil
	case "jcr.operator.like", "like", "Like":
		return OpLike, nil
	}
	return 0, invalid("comparison", "unknown operator %q", s)
}

// And requires both constraints.
type And struct {
	c1, c2 Constraint
}

func (*And) constraintNode() {}

// NewAnd creates c1 AND c2.
func NewAnd(c1, c2 Constraint) (*And, error) {
	if c1 == nil || c2 == nil {
		return nil, invalid("and", "both constraints are required")
	}
	return &And{c1: c1, c2: c2}, nil
}

// Constraint1 returns the left operand.
func (c *And) Constraint1() Constraint { return c.c1 }

// Constraint2 returns the right operand.
func (c *And) Constraint2() Constraint { return c.c2 }

// Constraints implements Constraint.
func (c *And) Constraints() []Constraint {
	out := append(c.c1.Constraints(), c.c2.Constraints()...)
	return append(out, c)
}

// Or requires either constraint.
type Or struct {
	c1, c2 Constraint
}

func (*Or) constraintNode() {}

// NewOr creates c1 OR c2.
func NewOr(c1, c2 Constraint) (*Or, error) {
	if c1 == nil || c2 == nil {
		return nil, invalid("or", "both constraints are required")
	}
	return &Or{c1: c1, c2: c2}, nil
}

// Constraint1 returns the left operand.
func (c *Or) Constraint1() Constraint { return c.c1 }

// Constraint2 returns the right operand.
func (c *Or) Constraint2() Constraint { return c.c2 }

// Constraints implements Constraint.
func (c *Or) Constraints() []Constraint {
	out := append(c.c1.Constraints(), c.c2.Constraints()...)
	return append(out, c)
}

// Not negates a constraint.
type Not struct {
	c Constraint
}

func (*Not) constraintNode() {}

// NewNot creates NOT c.
func NewNot(c Constraint) (*Not, error) {
	if c == nil {
		return nil, invalid("not", "constraint is required")
	}
	return &Not{c: c}, nil
}

// Constraint returns the negated constraint.
func (c *Not) Constraint() Constraint { return c.c }

// Constraints implements Constraint.
func (c *Not) Constraints() []Constraint { return c.c.Constraints() }

// Parenthesis groups a constraint explicitly.
type Parenthesis struct {
	c Constraint
}

func (*Parenthesis) constraintNode() {}

// NewParenthesis creates (c).
func NewParenthesis(c Constraint) (*Parenthesis, error) {
	if c == nil {
		return nil, invalid("parenthesis", "constraint is required")
	}
	return &Parenthesis{c: c}, nil
}

// Constraint returns the grouped constraint.
func (c *Parenthesis) Constraint() Constraint { return c.c }

// Constraints implements Constraint.
func (c *Parenthesis) Constraints() []Constraint {
	return append(c.c.Constraints(), c)
}

// Comparison compares a dynamic operand against a static one.
type Comparison struct {
	operand1 DynamicOperand
	operator Operator
	operand2 StaticOperand
}

func (*Comparison) constraintNode() {}

// NewComparison creates operand1 operator operand2.
func NewComparison(operand1 DynamicOperand, operator Operator, operand2 StaticOperand) (*Comparison, error) {
	if operand1 == nil || operand2 == nil {
		return nil, invalid("comparison", "both operands are required")
	}
	if _, ok := operatorSymbols[operator]; !ok {
		return nil, invalid("comparison", "unknown operator %d", int(operator))
	}
	return &Comparison{operand1: operand1, operator: operator, operand2: operand2}, nil
}

// Operand1 returns the dynamic operand.
func (c *Comparison) Operand1() DynamicOperand { return c.operand1 }

// Operator returns the operator.
func (c *Comparison) Operator() Operator { return c.operator }

// Operand2 returns the static operand.
func (c *Comparison) Operand2() StaticOperand { return c.operand2 }

// Constraints implements Constraint.
func (c *Comparison) Constraints() []Constraint { return []Constraint{c} }

// PropertyExistence holds when the selector's node has the property.
type PropertyExistence struct {
	selector string
	property string
}

func (*PropertyExistence) constraintNode() {}

// NewPropertyExistence creates selector.property IS NOT NULL.
func NewPropertyExistence(selector, property string) (*PropertyExistence, error) {
	if err := checkName("propertyExistence", "selectorName", selector); err != nil {
		return nil, err
	}
	if err := checkName("propertyExistence", "propertyName", property); err != nil {
		return nil, err
	}
	return &PropertyExistence{selector: selector, property: property}, nil
}

// SelectorName returns the selector.
func (c *PropertyExistence) SelectorName() string { return c.selector }

// PropertyName returns the property.
func (c *PropertyExistence) PropertyName() string { return c.property }

// Constraints implements Constraint.
func (c *PropertyExistence) Constraints() []Constraint { return []Constraint{c} }

// FullTextSearch matches nodes whose text contains the search expression.
// An empty property searches every property of the node.
type FullTextSearch struct {
	selector   string
	property   string
	expression StaticOperand
}

func (*FullTextSearch) constraintNode() {}

// NewFullTextSearch creates CONTAINS(selector.property, expression).
func NewFullTextSearch(selector, property string, expression StaticOperand) (*FullTextSearch, error) {
	if err := checkName("fullTextSearch", "selectorName", selector); err != nil {
		return nil, err
	}
	if property != "" {
		if err := checkName("fullTextSearch", "propertyName", property); err != nil {
			return nil, err
		}
	}
	if expression == nil {
		return nil, invalid("fullTextSearch", "fullTextSearchExpression is required")
	}
	if lit, ok := expression.(*Literal); ok && lit.value.Type() != value.String {
		return nil, invalid("fullTextSearch", "fullTextSearchExpression must be a STRING literal, got %s", lit.value.Type())
	}
	return &FullTextSearch{selector: selector, property: property, expression: expression}, nil
}

// SelectorName returns the selector.
func (c *FullTextSearch) SelectorName() string { return c.selector }

// PropertyName returns the property, or "" for the whole node.
func (c *FullTextSearch) PropertyName() string { return c.property }

// Expression returns the search expression.
func (c *FullTextSearch) Expression() StaticOperand { return c.expression }

// Constraints implements Constraint.
func (c *FullTextSearch) Constraints() []Constraint { return []Constraint{c} }

// SameNode holds when the selector's node is at path.
type SameNode struct {
	selector string
	path     string
}

func (*SameNode) constraintNode() {}

// NewSameNode creates ISSAMENODE(selector, path).
func NewSameNode(selector, path string) (*SameNode, error) {
	p, err := selectorAndPath("sameNode", selector, path)
	if err != nil {
		return nil, err
	}
	return &SameNode{selector: selector, path: p}, nil
}

// SelectorName returns the selector.
func (c *SameNode) SelectorName() string { return c.selector }

// Path returns the absolute path.
func (c *SameNode) Path() string { return c.path }

// Constraints implements Constraint.
func (c *SameNode) Constraints() []Constraint { return []Constraint{c} }

// ChildNode holds when the selector's node is a child of parentPath.
type ChildNode struct {
	selector   string
	parentPath string
}

func (*ChildNode) constraintNode() {}

// NewChildNode creates ISCHILDNODE(selector, parentPath).
func NewChildNode(selector, parentPath string) (*ChildNode, error) {
	p, err := selectorAndPath("childNode", selector, parentPath)
	if err != nil {
		return nil, err
	}
	return &ChildNode{selector: selector, parentPath: p}, nil
}

// SelectorName returns the selector.
func (c *ChildNode) SelectorName() string { return c.selector }

// ParentPath returns the parent's absolute path.
func (c *ChildNode) ParentPath() string { return c.parentPath }

// Constraints implements Constraint.
func (c *ChildNode) Constraints() []Constraint { return []Constraint{c} }

// DescendantNode holds when the selector's node is below ancestorPath.
type DescendantNode struct {
	selector     string
	ancestorPath string
}

func (*DescendantNode) constraintNode() {}

// NewDescendantNode creates ISDESCENDANTNODE(selector, ancestorPath).
func NewDescendantNode(selector, ancestorPath string) (*DescendantNode, error) {
	p, err := selectorAndPath("descendantNode", selector, ancestorPath)
	if err != nil {
		return nil, err
	}
	return &DescendantNode{selector: selector, ancestorPath: p}, nil
}

// SelectorName returns the selector.
func (c *DescendantNode) SelectorName() string { return c.selector }

// AncestorPath returns the ancestor's absolute path.
func (c *DescendantNode) AncestorPath() string { return c.ancestorPath }

// Constraints implements Constraint.
func (c *DescendantNode) Constraints() []Constraint { return []Constraint{c} }

// selectorAndPath validates a selector name and normalizes an absolute path.
func selectorAndPath(node, selector, path string) (string, error) {
	if err := checkName(node, "selectorName", selector); err != nil {
		return "", err
	}
	if path == "" || path[0] != '/' {
		return "", invalid(node, "path must be absolute, got %q", path)
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return "", invalid(node, "invalid path %q", path)
	}
	return p, nil
}

// constraintSelectors returns every selector a constraint references.
func constraintSelectors(c Constraint) []string {
	var out []string
	for _, leaf := range c.Constraints() {
		switch l := leaf.(type) {
		case *Comparison:
			out = append(out, dynamicSelectors(l.operand1)...)
		case *PropertyExistence:
			out = append(out, l.selector)
		case *FullTextSearch:
			out = append(out, l.selector)
		case *SameNode:
			out = append(out, l.selector)
		case *ChildNode:
			out = append(out, l.selector)
		case *DescendantNode:
			out = append(out, l.selector)
		}
	}
	return out
}
