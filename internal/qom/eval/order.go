package eval

import (
	"cmp"
	"strings"

	"github.com/roach88/crepo/internal/qom"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// scalar is one comparable operand value. Numeric and date values carry
// their number; every value carries its string form.
type scalar struct {
	str   string
	num   float64
	isNum bool
}

func (s scalar) text(fold func(string) string) string {
	if fold == nil {
		return s.str
	}
	return fold(s.str)
}

func propertyScalars(p transport.PropertyRecord) []scalar {
	out := make([]scalar, 0, len(p.Values))
	for _, raw := range p.Values {
		s := scalar{str: raw}
		if v, err := value.New(p.Type, raw); err == nil {
			s.num, s.isNum = v.Numeric()
		}
		out = append(out, s)
	}
	return out
}

// sortKey orders like SQLite: nulls first, then numbers, then text.
type sortKey struct {
	null bool
	scalar
}

func (e *evaluator) orderKey(o qom.DynamicOperand, rec *transport.NodeRecord) (sortKey, error) {
	base, fold := unfold(o)
	var k sortKey
	switch op := base.(type) {
	case *qom.PropertyValue:
		p, ok := rec.Property(op.PropertyName())
		if !ok || len(p.Values) == 0 {
			return sortKey{null: true}, nil
		}
		k.scalar = propertyScalars(p)[0]
	case *qom.Length:
		p, ok := rec.Property(op.PropertyValue().PropertyName())
		if !ok {
			return sortKey{null: true}, nil
		}
		ls := lengths(p)
		if len(ls) == 0 {
			return sortKey{null: true}, nil
		}
		k.scalar = scalar{num: float64(ls[0]), isNum: true}
	case *qom.NodeName:
		k.str = nodeName(rec.Path)
	case *qom.NodeLocalName:
		k.str = localName(rec.Path)
	case *qom.FullTextSearchScore:
		// Every score is 1.
		return sortKey{}, nil
	default:
		return sortKey{}, repoerr.New(repoerr.CodeInvalidArgument, "unsupported operand type: %T", o)
	}
	if fold != nil {
		k.str = fold(k.str)
		k.isNum = false
	}
	return k, nil
}

func compareKeys(a, b sortKey) int {
	switch {
	case a.null || b.null:
		return compareBool(!a.null, !b.null)
	case a.isNum != b.isNum:
		// Numbers sort before text.
		return compareBool(!a.isNum, !b.isNum)
	case a.isNum:
		return compareFloat(a.num, b.num)
	}
	return strings.Compare(a.str, b.str)
}

func compareFloat(a, b float64) int { return cmp.Compare(a, b) }

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
