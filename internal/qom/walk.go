package qom

// Walk visits every node of q in depth-first pre-order: the source tree
// (selectors, joins and their conditions), then the constraint tree, then
// each ordering followed by its operand, then the columns.
//
// visit receives nodes of the concrete types of this package. Returning
// false skips the node's children.
func Walk(q *QueryObjectModel, visit func(node any) bool) {
	if q == nil {
		return
	}
	walkSource(q.source, visit)
	if q.constraint != nil {
		walkConstraint(q.constraint, visit)
	}
	for _, o := range q.orderings {
		if visit(o) {
			walkDynamic(o.operand, visit)
		}
	}
	for _, c := range q.columns {
		visit(c)
	}
}

func walkSource(s Source, visit func(any) bool) {
	if !visit(s) {
		return
	}
	if j, ok := s.(*Join); ok {
		walkSource(j.left, visit)
		walkSource(j.right, visit)
		visit(j.condition)
	}
}

func walkConstraint(c Constraint, visit func(any) bool) {
	if !visit(c) {
		return
	}
	switch n := c.(type) {
	case *And:
		walkConstraint(n.c1, visit)
		walkConstraint(n.c2, visit)
	case *Or:
		walkConstraint(n.c1, visit)
		walkConstraint(n.c2, visit)
	case *Not:
		walkConstraint(n.c, visit)
	case *Parenthesis:
		walkConstraint(n.c, visit)
	case *Comparison:
		walkDynamic(n.operand1, visit)
		visit(n.operand2)
	case *FullTextSearch:
		visit(n.expression)
	}
}

func walkDynamic(o DynamicOperand, visit func(any) bool) {
	if !visit(o) {
		return
	}
	switch n := o.(type) {
	case *Length:
		walkDynamic(n.propertyValue, visit)
	case *LowerCase:
		walkDynamic(n.operand, visit)
	case *UpperCase:
		walkDynamic(n.operand, visit)
	}
}
