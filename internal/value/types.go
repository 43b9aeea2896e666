package value

import (
	"strings"

	"github.com/roach88/crepo/internal/repoerr"
)

// Type is a property type. Numbering follows the repository specification so
// type markers exchanged with transports are stable integers.
type Type int

const (
	Undefined     Type = 0
	String        Type = 1
	Binary        Type = 2
	Long          Type = 3
	Double        Type = 4
	Date          Type = 5
	Boolean       Type = 6
	Name          Type = 7
	Path          Type = 8
	Reference     Type = 9
	WeakReference Type = 10
	URI           Type = 11
	Decimal       Type = 12
)

var typeNames = map[Type]string{
	Undefined:     "Undefined",
	String:        "String",
	Binary:        "Binary",
	Long:          "Long",
	Double:        "Double",
	Date:          "Date",
	Boolean:       "Boolean",
	Name:          "Name",
	Path:          "Path",
	Reference:     "Reference",
	WeakReference: "WeakReference",
	URI:           "URI",
	Decimal:       "Decimal",
}

// String returns the type name as used in query casts and node type
// definitions (e.g. "Long", "WeakReference").
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Undefined"
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsNumeric reports whether values of t compare numerically.
func (t Type) IsNumeric() bool {
	return t == Long || t == Double || t == Decimal
}

// ParseType resolves a type name case-insensitively.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return Undefined, repoerr.New(repoerr.CodeInvalidArgument, "unknown property type %q", name)
}
