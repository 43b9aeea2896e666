// Package qom provides the Query Object Model: an immutable abstract syntax
// tree for structured repository queries.
//
// ARCHITECTURE:
//
// The QOM sits between whoever builds a query (the session's query manager,
// the CLI query loader, a future text parser) and the compilers that render
// it for a backend:
//
//	[builder] -> [QOM] -> [sql2 compiler]    -> JCR-SQL2 text
//	                   -> [querysql compiler] -> SQLite SQL (+ args)
//	                   -> [eval]              -> client-side evaluation
//
// GRAMMAR:
//
//	Query         := Source, Constraint?, Ordering*, Column*
//	Source        := Selector(nodeType, alias?) | Join(Source, Source, JoinType, JoinCondition)
//	JoinCondition := EquiJoin | SameNodeJoin | ChildNodeJoin | DescendantNodeJoin
//	Constraint    := And | Or | Not | Comparison | PropertyExistence | FullTextSearch
//	               | SameNode | ChildNode | DescendantNode | Parenthesis
//	DynamicOperand := PropertyValue | Length | NodeName | NodeLocalName
//	               | FullTextSearchScore | LowerCase | UpperCase
//	StaticOperand := Literal | BindVariable
//
// SEALED INTERFACES:
//
// Source, JoinCondition, Constraint, DynamicOperand and StaticOperand are
// sealed with unexported marker methods. Only types in this package
// implement them, so compilers can switch exhaustively:
//
//	switch c := constraint.(type) {
//	case *And:
//	    // ...
//	case *Comparison:
//	    // ...
//	default:
//	    // impossible for trees built by this package
//	}
//
// IMMUTABILITY:
//
// Every node is built by a New* constructor that validates its arguments and
// fails with InvalidArgument on bad input. Fields are unexported and there
// are no setters, so a tree is valid from the moment it exists, always
// compiles to the same text, and is safe to share between goroutines.
package qom
