// Package nodetype holds node type definitions and the registry used to
// answer "is this node of type X" questions on the client side.
//
// The built-in table is data: it is compiled once from an embedded CUE file
// into a read-only Registry shared by the whole process. Session registries
// layer transport-provided definitions on top of it.
package nodetype

import "github.com/roach88/crepo/internal/value"

// Residual is the item definition name matching any name.
const Residual = "*"

// Definition describes one node type.
type Definition struct {
	Name       string
	Supertypes []string
	Mixin      bool
	Abstract   bool
	Orderable  bool
	Queryable  bool

	// PrimaryItem names the child item returned by Node.PrimaryItem.
	PrimaryItem string

	Properties []PropertyDefinition
	Children   []ChildDefinition
}

// PropertyDefinition describes a property a node type declares.
type PropertyDefinition struct {
	Name         string
	RequiredType value.Type
	Multiple     bool
	Mandatory    bool
	AutoCreated  bool
	Protected    bool
	Defaults     []string
}

// ChildDefinition describes a child node a node type declares.
type ChildDefinition struct {
	Name             string
	RequiredTypes    []string
	DefaultType      string
	Mandatory        bool
	AutoCreated      bool
	Protected        bool
	SameNameSiblings bool
}

// Property returns the property definition named name, falling back to a
// residual definition. The second result is false when neither exists.
func (d *Definition) Property(name string) (PropertyDefinition, bool) {
	var residual *PropertyDefinition
	for i := range d.Properties {
		switch d.Properties[i].Name {
		case name:
			return d.Properties[i], true
		case Residual:
			if residual == nil {
				residual = &d.Properties[i]
			}
		}
	}
	if residual != nil {
		return *residual, true
	}
	return PropertyDefinition{}, false
}

// Child returns the child definition named name, falling back to a residual
// definition.
func (d *Definition) Child(name string) (ChildDefinition, bool) {
	var residual *ChildDefinition
	for i := range d.Children {
		switch d.Children[i].Name {
		case name:
			return d.Children[i], true
		case Residual:
			if residual == nil {
				residual = &d.Children[i]
			}
		}
	}
	if residual != nil {
		return *residual, true
	}
	return ChildDefinition{}, false
}

// CNDParser turns compact node type notation into definitions. The engine
// uses it when a transport can register definitions but not CND text.
type CNDParser interface {
	Parse(cnd string) ([]Definition, error)
}
