package qom

import (
	"slices"
	"sort"
)

// Order is a sort direction.
type Order int

const (
	Ascending Order = iota + 1
	Descending
)

// String returns ASC or DESC.
func (o Order) String() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// Ordering sorts results by a dynamic operand.
type Ordering struct {
	operand DynamicOperand
	order   Order
}

// NewOrdering creates an ordering. A zero order means Ascending.
func NewOrdering(operand DynamicOperand, order Order) (*Ordering, error) {
	if operand == nil {
		return nil, invalid("ordering", "operand is required")
	}
	if order == 0 {
		order = Ascending
	}
	if order != Ascending && order != Descending {
		return nil, invalid("ordering", "unknown order %d", int(order))
	}
	return &Ordering{operand: operand, order: order}, nil
}

// Operand returns the sort key.
func (o *Ordering) Operand() DynamicOperand { return o.operand }

// Order returns the direction.
func (o *Ordering) Order() Order { return o.order }

// Column is a result column. An empty property selects every property of
// the selector.
type Column struct {
	selector   string
	property   string
	columnName string
}

// NewColumn creates a column. The selector may be empty when the query has
// exactly one selector; NewQuery fills it in. The column name defaults to
// selector.property.
func NewColumn(selector, property, columnName string) (*Column, error) {
	if selector != "" {
		if err := checkName("column", "selectorName", selector); err != nil {
			return nil, err
		}
	}
	if property != "" {
		if err := checkName("column", "propertyName", property); err != nil {
			return nil, err
		}
	} else if columnName != "" {
		return nil, invalid("column", "columnName %q requires a propertyName", columnName)
	}
	if columnName != "" {
		if err := checkName("column", "columnName", columnName); err != nil {
			return nil, err
		}
	}
	return &Column{selector: selector, property: property, columnName: columnName}, nil
}

// SelectorName returns the selector.
func (c *Column) SelectorName() string { return c.selector }

// PropertyName returns the property, or "" for all properties.
func (c *Column) PropertyName() string { return c.property }

// ColumnName returns the column's name, defaulting to selector.property.
func (c *Column) ColumnName() string {
	if c.columnName != "" || c.property == "" {
		return c.columnName
	}
	return c.selector + "." + c.property
}

// QueryObjectModel is a complete query.
type QueryObjectModel struct {
	source     Source
	constraint Constraint
	orderings  []*Ordering
	columns    []*Column
}

// NewQuery assembles a query. Every selector referenced by the constraint,
// orderings and columns must be declared by the source.
func NewQuery(source Source, constraint Constraint, orderings []*Ordering, columns []*Column) (*QueryObjectModel, error) {
	if source == nil {
		return nil, invalid("query", "source is required")
	}
	declared := source.SelectorNames()
	known := make(map[string]bool, len(declared))
	for _, n := range declared {
		if known[n] {
			return nil, invalid("query", "duplicate selector name %q", n)
		}
		known[n] = true
	}

	check := func(names []string, where string) error {
		for _, n := range names {
			if !known[n] {
				return invalid("query", "%s references unknown selector %q", where, n)
			}
		}
		return nil
	}

	if constraint != nil {
		if err := check(constraintSelectors(constraint), "constraint"); err != nil {
			return nil, err
		}
	}
	for _, o := range orderings {
		if o == nil {
			return nil, invalid("query", "nil ordering")
		}
		if err := check(dynamicSelectors(o.operand), "ordering"); err != nil {
			return nil, err
		}
	}

	resolved := make([]*Column, 0, len(columns))
	for _, c := range columns {
		if c == nil {
			return nil, invalid("query", "nil column")
		}
		if c.selector == "" {
			if len(declared) != 1 {
				return nil, invalid("query", "column %q needs a selector name in a join", c.property)
			}
			c = &Column{selector: declared[0], property: c.property, columnName: c.columnName}
		}
		if err := check([]string{c.selector}, "column"); err != nil {
			return nil, err
		}
		resolved = append(resolved, c)
	}

	return &QueryObjectModel{
		source:     source,
		constraint: constraint,
		orderings:  slices.Clone(orderings),
		columns:    resolved,
	}, nil
}

// Source returns the FROM clause.
func (q *QueryObjectModel) Source() Source { return q.source }

// Constraint returns the WHERE clause, or nil.
func (q *QueryObjectModel) Constraint() Constraint { return q.constraint }

// Orderings returns a copy of the ORDER BY list.
func (q *QueryObjectModel) Orderings() []*Ordering { return slices.Clone(q.orderings) }

// Columns returns a copy of the column list.
func (q *QueryObjectModel) Columns() []*Column { return slices.Clone(q.columns) }

// SelectorNames returns the selectors of the source, left to right.
func (q *QueryObjectModel) SelectorNames() []string { return q.source.SelectorNames() }

// Selectors returns the Selector nodes of the source, left to right.
func (q *QueryObjectModel) Selectors() []*Selector {
	var out []*Selector
	var walk func(Source)
	walk = func(s Source) {
		switch src := s.(type) {
		case *Selector:
			out = append(out, src)
		case *Join:
			walk(src.left)
			walk(src.right)
		}
	}
	walk(q.source)
	return out
}

// BindVariableNames returns the distinct bind variable names in the
// constraint, sorted.
func (q *QueryObjectModel) BindVariableNames() []string {
	seen := make(map[string]bool)
	Walk(q, func(node any) bool {
		if bv, ok := node.(*BindVariable); ok {
			seen[bv.name] = true
		}
		return true
	})
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Must panics if err is non-nil. For building literal trees in tests and
// fixtures.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
