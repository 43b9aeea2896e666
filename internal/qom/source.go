package qom

import (
	"strings"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
)

// Source is the FROM part of a query: a Selector or a Join.
type Source interface {
	// SelectorNames lists the selectors of the source, left to right.
	SelectorNames() []string

	sourceNode() // Marker method - seals interface to this package
}

// JoinCondition relates the two sides of a Join.
type JoinCondition interface {
	joinConditionNode() // Marker method - seals interface to this package
}

// JoinType is the kind of join.
type JoinType int

const (
	JoinInner JoinType = iota + 1
	JoinLeftOuter
	JoinRightOuter
)

// String returns the SQL keyword form.
func (j JoinType) String() string {
	switch j {
	case JoinInner:
		return "INNER"
	case JoinLeftOuter:
		return "LEFT OUTER"
	case JoinRightOuter:
		return "RIGHT OUTER"
	}
	return "UNKNOWN"
}

// Selector matches nodes of one node type under a selector name.
type Selector struct {
	nodeTypeName string
	selectorName string
}

func (*Selector) sourceNode() {}

// NewSelector creates a selector. An empty selectorName defaults to the node
// type name.
func NewSelector(nodeTypeName, selectorName string) (*Selector, error) {
	if err := checkName("selector", "nodeTypeName", nodeTypeName); err != nil {
		return nil, err
	}
	if selectorName == "" {
		selectorName = nodeTypeName
	}
	if err := checkName("selector", "selectorName", selectorName); err != nil {
		return nil, err
	}
	return &Selector{nodeTypeName: nodeTypeName, selectorName: selectorName}, nil
}

// NodeTypeName returns the node type matched.
func (s *Selector) NodeTypeName() string { return s.nodeTypeName }

// SelectorName returns the selector's name.
func (s *Selector) SelectorName() string { return s.selectorName }

// SelectorNames implements Source.
func (s *Selector) SelectorNames() []string { return []string{s.selectorName} }

// Join combines two sources.
type Join struct {
	left      Source
	right     Source
	joinType  JoinType
	condition JoinCondition
}

func (*Join) sourceNode() {}

// NewJoin creates a join. Selector names must be unique across both sides
// and the condition may only reference selectors of the join.
func NewJoin(left, right Source, joinType JoinType, condition JoinCondition) (*Join, error) {
	if left == nil || right == nil {
		return nil, invalid("join", "both sides are required")
	}
	if joinType < JoinInner || joinType > JoinRightOuter {
		return nil, invalid("join", "unknown join type %d", int(joinType))
	}
	if condition == nil {
		return nil, invalid("join", "join condition is required")
	}

	known := make(map[string]bool)
	for _, n := range append(left.SelectorNames(), right.SelectorNames()...) {
		if known[n] {
			return nil, invalid("join", "duplicate selector name %q", n)
		}
		known[n] = true
	}
	for _, n := range joinConditionSelectors(condition) {
		if !known[n] {
			return nil, invalid("join", "join condition references unknown selector %q", n)
		}
	}

	return &Join{left: left, right: right, joinType: joinType, condition: condition}, nil
}

// Left returns the left source.
func (j *Join) Left() Source { return j.left }

// Right returns the right source.
func (j *Join) Right() Source { return j.right }

// JoinType returns the kind of join.
func (j *Join) JoinType() JoinType { return j.joinType }

// Condition returns the join condition.
func (j *Join) Condition() JoinCondition { return j.condition }

// SelectorNames implements Source.
func (j *Join) SelectorNames() []string {
	return append(j.left.SelectorNames(), j.right.SelectorNames()...)
}

// EquiJoinCondition joins where two property values are equal.
type EquiJoinCondition struct {
	selector1 string
	property1 string
	selector2 string
	property2 string
}

func (*EquiJoinCondition) joinConditionNode() {}

// NewEquiJoinCondition creates selector1.property1 = selector2.property2.
func NewEquiJoinCondition(selector1, property1, selector2, property2 string) (*EquiJoinCondition, error) {
	for _, f := range []struct{ field, v string }{
		{"selector1Name", selector1},
		{"property1Name", property1},
		{"selector2Name", selector2},
		{"property2Name", property2},
	} {
		if err := checkName("equiJoinCondition", f.field, f.v); err != nil {
			return nil, err
		}
	}
	return &EquiJoinCondition{selector1: selector1, property1: property1, selector2: selector2, property2: property2}, nil
}

// Selector1Name returns the first selector.
func (c *EquiJoinCondition) Selector1Name() string { return c.selector1 }

// Property1Name returns the first property.
func (c *EquiJoinCondition) Property1Name() string { return c.property1 }

// Selector2Name returns the second selector.
func (c *EquiJoinCondition) Selector2Name() string { return c.selector2 }

// Property2Name returns the second property.
func (c *EquiJoinCondition) Property2Name() string { return c.property2 }

// SameNodeJoinCondition joins where selector1's node is selector2's node, or
// the node at selector2Path relative to it.
type SameNodeJoinCondition struct {
	selector1     string
	selector2     string
	selector2Path string
}

func (*SameNodeJoinCondition) joinConditionNode() {}

// NewSameNodeJoinCondition creates ISSAMENODE(selector1, selector2[, path]).
// A non-empty selector2Path must be relative.
func NewSameNodeJoinCondition(selector1, selector2, selector2Path string) (*SameNodeJoinCondition, error) {
	if err := checkName("sameNodeJoinCondition", "selector1Name", selector1); err != nil {
		return nil, err
	}
	if err := checkName("sameNodeJoinCondition", "selector2Name", selector2); err != nil {
		return nil, err
	}
	if strings.HasPrefix(selector2Path, "/") {
		return nil, invalid("sameNodeJoinCondition", "selector2Path must be relative, got %q", selector2Path)
	}
	if selector2Path != "" {
		if _, err := itempath.Join(itempath.Root, selector2Path); err != nil {
			return nil, invalid("sameNodeJoinCondition", "invalid selector2Path %q", selector2Path)
		}
	}
	return &SameNodeJoinCondition{selector1: selector1, selector2: selector2, selector2Path: selector2Path}, nil
}

// Selector1Name returns the first selector.
func (c *SameNodeJoinCondition) Selector1Name() string { return c.selector1 }

// Selector2Name returns the second selector.
func (c *SameNodeJoinCondition) Selector2Name() string { return c.selector2 }

// Selector2Path returns the relative path, or "".
func (c *SameNodeJoinCondition) Selector2Path() string { return c.selector2Path }

// ChildNodeJoinCondition joins children to their parents.
type ChildNodeJoinCondition struct {
	childSelector  string
	parentSelector string
}

func (*ChildNodeJoinCondition) joinConditionNode() {}

// NewChildNodeJoinCondition creates ISCHILDNODE(child, parent).
func NewChildNodeJoinCondition(childSelector, parentSelector string) (*ChildNodeJoinCondition, error) {
	if err := checkName("childNodeJoinCondition", "childSelectorName", childSelector); err != nil {
		return nil, err
	}
	if err := checkName("childNodeJoinCondition", "parentSelectorName", parentSelector); err != nil {
		return nil, err
	}
	return &ChildNodeJoinCondition{childSelector: childSelector, parentSelector: parentSelector}, nil
}

// ChildSelectorName returns the child selector.
func (c *ChildNodeJoinCondition) ChildSelectorName() string { return c.childSelector }

// ParentSelectorName returns the parent selector.
func (c *ChildNodeJoinCondition) ParentSelectorName() string { return c.parentSelector }

// DescendantNodeJoinCondition joins descendants to their ancestors.
type DescendantNodeJoinCondition struct {
	descendantSelector string
	ancestorSelector   string
}

func (*DescendantNodeJoinCondition) joinConditionNode() {}

// NewDescendantNodeJoinCondition creates ISDESCENDANTNODE(descendant, ancestor).
func NewDescendantNodeJoinCondition(descendantSelector, ancestorSelector string) (*DescendantNodeJoinCondition, error) {
	if err := checkName("descendantNodeJoinCondition", "descendantSelectorName", descendantSelector); err != nil {
		return nil, err
	}
	if err := checkName("descendantNodeJoinCondition", "ancestorSelectorName", ancestorSelector); err != nil {
		return nil, err
	}
	return &DescendantNodeJoinCondition{descendantSelector: descendantSelector, ancestorSelector: ancestorSelector}, nil
}

// DescendantSelectorName returns the descendant selector.
func (c *DescendantNodeJoinCondition) DescendantSelectorName() string { return c.descendantSelector }

// AncestorSelectorName returns the ancestor selector.
func (c *DescendantNodeJoinCondition) AncestorSelectorName() string { return c.ancestorSelector }

func joinConditionSelectors(c JoinCondition) []string {
	switch jc := c.(type) {
	case *EquiJoinCondition:
		return []string{jc.selector1, jc.selector2}
	case *SameNodeJoinCondition:
		return []string{jc.selector1, jc.selector2}
	case *ChildNodeJoinCondition:
		return []string{jc.childSelector, jc.parentSelector}
	case *DescendantNodeJoinCondition:
		return []string{jc.descendantSelector, jc.ancestorSelector}
	}
	return nil
}

// checkName rejects empty names and names that cannot be bracket-quoted.
func checkName(node, field, v string) error {
	if v == "" {
		return invalid(node, "%s is required", field)
	}
	if strings.ContainsAny(v, "[]") {
		return invalid(node, "%s %q contains brackets", field, v)
	}
	return nil
}

func invalid(node, format string, args ...any) error {
	err := repoerr.New(repoerr.CodeInvalidArgument, format, args...)
	err.Op = node
	return err
}
