// Package value implements the typed property value cell.
//
// A Value stores its declared Type and a string form. Conversions to Go
// types happen on demand and may be lossy. Equality compares the declared
// type and the string form only, so it never depends on a conversion
// succeeding.
//
// Binary data is never held in a Value; binaries are streamed through the
// transport.
package value

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/crepo/internal/repoerr"
)

// DateLayout is the canonical ISO 8601 string form of DATE values.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// dateLayouts are accepted when parsing DATE values, most specific first.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Value is an immutable typed scalar.
type Value struct {
	typ Type
	s   string
}

// New creates a value of type t from its string form.
//
// Binary fails with NotImplemented before anything is copied. For Long,
// Double, Decimal and Date the string must parse as that type, otherwise
// New fails with ValueFormat. The original string form is kept as given.
func New(t Type, s string) (Value, error) {
	switch t {
	case Binary:
		return Value{}, repoerr.New(repoerr.CodeNotImplemented, "binary values are streamed, not held in memory")
	case Undefined:
		return Value{}, repoerr.New(repoerr.CodeInvalidArgument, "value type must be defined")
	case Long:
		if _, err := parseLong(s); err != nil {
			return Value{}, err
		}
	case Double:
		if _, err := parseDouble(s); err != nil {
			return Value{}, err
		}
	case Decimal:
		if _, err := parseDecimal(s); err != nil {
			return Value{}, err
		}
	case Date:
		if _, err := parseDate(s); err != nil {
			return Value{}, err
		}
	case Reference, WeakReference:
		if s == "" {
			return Value{}, repoerr.New(repoerr.CodeValueFormat, "empty reference")
		}
	default:
		if !t.Valid() {
			return Value{}, repoerr.New(repoerr.CodeInvalidArgument, "unknown property type %d", int(t))
		}
	}
	return Value{typ: t, s: s}, nil
}

// MustNew is New for values known to be valid. It panics on error.
func MustNew(t Type, s string) Value {
	v, err := New(t, s)
	if err != nil {
		panic(err)
	}
	return v
}

// NewString creates a STRING value.
func NewString(s string) Value { return Value{typ: String, s: s} }

// NewLong creates a LONG value.
func NewLong(n int64) Value { return Value{typ: Long, s: strconv.FormatInt(n, 10)} }

// NewDouble creates a DOUBLE value.
func NewDouble(f float64) Value {
	return Value{typ: Double, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// NewBool creates a BOOLEAN value.
func NewBool(b bool) Value { return Value{typ: Boolean, s: strconv.FormatBool(b)} }

// NewDate creates a DATE value in canonical ISO 8601 form.
func NewDate(t time.Time) Value { return Value{typ: Date, s: t.Format(DateLayout)} }

// NewDecimal creates a DECIMAL value.
func NewDecimal(d *apd.Decimal) Value { return Value{typ: Decimal, s: d.String()} }

// NewName creates a NAME value.
func NewName(s string) Value { return Value{typ: Name, s: s} }

// NewPath creates a PATH value.
func NewPath(s string) Value { return Value{typ: Path, s: s} }

// NewReference creates a REFERENCE value pointing at an identifier.
func NewReference(id string) Value { return Value{typ: Reference, s: id} }

// NewWeakReference creates a WEAKREFERENCE value pointing at an identifier.
func NewWeakReference(id string) Value { return Value{typ: WeakReference, s: id} }

// NewURI creates a URI value.
func NewURI(s string) Value { return Value{typ: URI, s: s} }

// Type returns the declared type.
func (v Value) Type() Type { return v.typ }

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool { return v.typ == Undefined }

// String returns the string form. It never fails.
func (v Value) String() string { return v.s }

// Equal reports whether v and o have the same declared type and identical
// string forms.
func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && v.s == o.s
}

// Long converts the value to an int64.
func (v Value) Long() (int64, error) {
	switch v.typ {
	case Boolean:
		return 0, v.formatError(Long)
	case Date:
		t, err := parseDate(v.s)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	case Decimal:
		d, err := parseDecimal(v.s)
		if err != nil {
			return 0, err
		}
		ctx := apd.BaseContext.WithPrecision(uint32(d.NumDigits()) + 1)
		ctx.Rounding = apd.RoundDown
		var truncated apd.Decimal
		if _, err := ctx.RoundToIntegralValue(&truncated, d); err != nil {
			return 0, v.formatError(Long)
		}
		n, err := truncated.Int64()
		if err != nil {
			return 0, v.formatError(Long)
		}
		return n, nil
	}
	return parseLong(v.s)
}

// Double converts the value to a float64.
func (v Value) Double() (float64, error) {
	switch v.typ {
	case Boolean:
		return 0, v.formatError(Double)
	case Date:
		t, err := parseDate(v.s)
		if err != nil {
			return 0, err
		}
		return float64(t.UnixMilli()), nil
	}
	return parseDouble(v.s)
}

// Decimal converts the value to an arbitrary-precision decimal.
func (v Value) Decimal() (*apd.Decimal, error) {
	switch v.typ {
	case Boolean:
		return nil, v.formatError(Decimal)
	case Date:
		t, err := parseDate(v.s)
		if err != nil {
			return nil, err
		}
		return apd.New(t.UnixMilli(), 0), nil
	}
	return parseDecimal(v.s)
}

// Bool converts the value to a bool.
//
// Textual values are true only when they equal "true" ignoring case; every
// other string, including "yes" and "1", is false. Numeric and date values
// cannot be converted.
func (v Value) Bool() (bool, error) {
	switch v.typ {
	case Long, Double, Decimal, Date:
		return false, v.formatError(Boolean)
	}
	return strings.EqualFold(v.s, "true"), nil
}

// Date converts the value to a time. Numeric values are read as
// milliseconds since the Unix epoch.
func (v Value) Date() (time.Time, error) {
	switch v.typ {
	case Boolean:
		return time.Time{}, v.formatError(Date)
	case Long:
		n, err := parseLong(v.s)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(n).UTC(), nil
	case Double, Decimal:
		f, err := parseDouble(v.s)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return parseDate(v.s)
}

// Numeric returns the value on the axis used for ordered comparison: the
// number itself for LONG, DOUBLE and DECIMAL, milliseconds since the epoch
// for DATE. ok is false for every other type.
func (v Value) Numeric() (f float64, ok bool) {
	switch v.typ {
	case Long, Double, Decimal, Date:
		f, err := v.Double()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Convert returns the value re-typed as t, converting the string form
// through the matching getter.
func (v Value) Convert(t Type) (Value, error) {
	if t == v.typ {
		return v, nil
	}
	switch t {
	case Long:
		n, err := v.Long()
		if err != nil {
			return Value{}, err
		}
		return NewLong(n), nil
	case Double:
		f, err := v.Double()
		if err != nil {
			return Value{}, err
		}
		return NewDouble(f), nil
	case Decimal:
		d, err := v.Decimal()
		if err != nil {
			return Value{}, err
		}
		return NewDecimal(d), nil
	case Boolean:
		b, err := v.Bool()
		if err != nil {
			return Value{}, err
		}
		return NewBool(b), nil
	case Date:
		d, err := v.Date()
		if err != nil {
			return Value{}, err
		}
		return NewDate(d), nil
	}
	return New(t, v.s)
}

func (v Value) formatError(target Type) error {
	return repoerr.New(repoerr.CodeValueFormat, "cannot convert %s value %q to %s", v.typ, v.s, target)
}

func parseLong(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, repoerr.New(repoerr.CodeValueFormat, "%q is not a valid Long", s)
	}
	return int64(f), nil
}

func parseDouble(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, repoerr.New(repoerr.CodeValueFormat, "%q is not a valid Double", s)
	}
	return f, nil
}

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, repoerr.New(repoerr.CodeValueFormat, "%q is not a valid Decimal", s)
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, repoerr.New(repoerr.CodeValueFormat, "%q is not a valid Date", s)
}
