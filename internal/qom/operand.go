package qom

import (
	"github.com/roach88/crepo/internal/value"
)

// DynamicOperand evaluates to a value per candidate row.
type DynamicOperand interface {
	dynamicOperandNode() // Marker method - seals interface to this package
}

// StaticOperand is a value fixed for the whole query.
type StaticOperand interface {
	staticOperandNode() // Marker method - seals interface to this package
}

// PropertyValue is the value of a property of the selector's node.
type PropertyValue struct {
	selector string
	property string
}

func (*PropertyValue) dynamicOperandNode() {}

// NewPropertyValue creates selector.property.
func NewPropertyValue(selector, property string) (*PropertyValue, error) {
	if err := checkName("propertyValue", "selectorName", selector); err != nil {
		return nil, err
	}
	if err := checkName("propertyValue", "propertyName", property); err != nil {
		return nil, err
	}
	return &PropertyValue{selector: selector, property: property}, nil
}

// SelectorName returns the selector.
func (o *PropertyValue) SelectorName() string { return o.selector }

// PropertyName returns the property.
func (o *PropertyValue) PropertyName() string { return o.property }

// Length is the length of a property value.
type Length struct {
	propertyValue *PropertyValue
}

func (*Length) dynamicOperandNode() {}

// NewLength creates LENGTH(pv).
func NewLength(pv *PropertyValue) (*Length, error) {
	if pv == nil {
		return nil, invalid("length", "propertyValue is required")
	}
	return &Length{propertyValue: pv}, nil
}

// PropertyValue returns the measured operand.
func (o *Length) PropertyValue() *PropertyValue { return o.propertyValue }

// NodeName is the qualified name of the selector's node.
type NodeName struct {
	selector string
}

func (*NodeName) dynamicOperandNode() {}

// NewNodeName creates NAME(selector).
func NewNodeName(selector string) (*NodeName, error) {
	if err := checkName("nodeName", "selectorName", selector); err != nil {
		return nil, err
	}
	return &NodeName{selector: selector}, nil
}

// SelectorName returns the selector.
func (o *NodeName) SelectorName() string { return o.selector }

// NodeLocalName is the local part of the selector node's name.
type NodeLocalName struct {
	selector string
}

func (*NodeLocalName) dynamicOperandNode() {}

// NewNodeLocalName creates LOCALNAME(selector).
func NewNodeLocalName(selector string) (*NodeLocalName, error) {
	if err := checkName("nodeLocalName", "selectorName", selector); err != nil {
		return nil, err
	}
	return &NodeLocalName{selector: selector}, nil
}

// SelectorName returns the selector.
func (o *NodeLocalName) SelectorName() string { return o.selector }

// FullTextSearchScore is the full-text score of the selector's node.
type FullTextSearchScore struct {
	selector string
}

func (*FullTextSearchScore) dynamicOperandNode() {}

// NewFullTextSearchScore creates SCORE(selector).
func NewFullTextSearchScore(selector string) (*FullTextSearchScore, error) {
	if err := checkName("fullTextSearchScore", "selectorName", selector); err != nil {
		return nil, err
	}
	return &FullTextSearchScore{selector: selector}, nil
}

// SelectorName returns the selector.
func (o *FullTextSearchScore) SelectorName() string { return o.selector }

// LowerCase lowercases another dynamic operand.
type LowerCase struct {
	operand DynamicOperand
}

func (*LowerCase) dynamicOperandNode() {}

// NewLowerCase creates LOWER(operand).
func NewLowerCase(operand DynamicOperand) (*LowerCase, error) {
	if operand == nil {
		return nil, invalid("lowerCase", "operand is required")
	}
	return &LowerCase{operand: operand}, nil
}

// Operand returns the wrapped operand.
func (o *LowerCase) Operand() DynamicOperand { return o.operand }

// UpperCase uppercases another dynamic operand.
type UpperCase struct {
	operand DynamicOperand
}

func (*UpperCase) dynamicOperandNode() {}

// NewUpperCase creates UPPER(operand).
func NewUpperCase(operand DynamicOperand) (*UpperCase, error) {
	if operand == nil {
		return nil, invalid("upperCase", "operand is required")
	}
	return &UpperCase{operand: operand}, nil
}

// Operand returns the wrapped operand.
func (o *UpperCase) Operand() DynamicOperand { return o.operand }

// Literal is a constant value.
type Literal struct {
	value value.Value
}

func (*Literal) staticOperandNode() {}

// NewLiteral creates a literal.
func NewLiteral(v value.Value) (*Literal, error) {
	if v.IsZero() {
		return nil, invalid("literal", "literal value is required")
	}
	return &Literal{value: v}, nil
}

// Value returns the literal's value.
func (o *Literal) Value() value.Value { return o.value }

// BindVariable is a named placeholder bound when the query executes.
type BindVariable struct {
	name string
}

func (*BindVariable) staticOperandNode() {}

// NewBindVariable creates $name.
func NewBindVariable(name string) (*BindVariable, error) {
	if name == "" {
		return nil, invalid("bindVariable", "bindVariableName is required")
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return nil, invalid("bindVariable", "bindVariableName %q must be alphanumeric", name)
		}
	}
	return &BindVariable{name: name}, nil
}

// Name returns the variable name without the leading '$'.
func (o *BindVariable) Name() string { return o.name }

// dynamicSelectors returns the selector referenced by an operand.
func dynamicSelectors(o DynamicOperand) []string {
	switch d := o.(type) {
	case *PropertyValue:
		return []string{d.selector}
	case *Length:
		return []string{d.propertyValue.selector}
	case *NodeName:
		return []string{d.selector}
	case *NodeLocalName:
		return []string{d.selector}
	case *FullTextSearchScore:
		return []string{d.selector}
	case *LowerCase:
		return dynamicSelectors(d.operand)
	case *UpperCase:
		return dynamicSelectors(d.operand)
	}
	return nil
}
