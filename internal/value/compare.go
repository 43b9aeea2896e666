package value

import "strings"

// Compare orders a against b using the semantics of a's type: numbers
// numerically, dates chronologically, booleans false before true, and
// everything else by string form. b is converted to a's type first; a failed
// conversion is returned as an error.
func Compare(a, b Value) (int, error) {
	switch a.typ {
	case Long:
		x, err := a.Long()
		if err != nil {
			return 0, err
		}
		y, err := b.Long()
		if err != nil {
			return 0, err
		}
		return cmpOrdered(x, y), nil
	case Double:
		x, err := a.Double()
		if err != nil {
			return 0, err
		}
		y, err := b.Double()
		if err != nil {
			return 0, err
		}
		return cmpOrdered(x, y), nil
	case Decimal:
		x, err := a.Decimal()
		if err != nil {
			return 0, err
		}
		y, err := b.Decimal()
		if err != nil {
			return 0, err
		}
		return x.Cmp(y), nil
	case Date:
		x, err := a.Date()
		if err != nil {
			return 0, err
		}
		y, err := b.Date()
		if err != nil {
			return 0, err
		}
		return x.Compare(y), nil
	case Boolean:
		x, err := a.Bool()
		if err != nil {
			return 0, err
		}
		y, err := b.Bool()
		if err != nil {
			return 0, err
		}
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	}
	return strings.Compare(a.s, b.s), nil
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
