package devbus

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Bus errors.
var (
	ErrUnknownPath   = errors.New("unknown attribute path")
	ErrDuplicatePath = errors.New("attribute path already registered")
	ErrSealed        = errors.New("attribute set is sealed")
	ErrNotWritable   = errors.New("attribute is not writable")
	ErrValueType     = errors.New("invalid value type for attribute")
	ErrWriteRejected = errors.New("write rejected by owner")
)

// Kind is the value type carried by an attribute.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Formatter renders a value for display. Values may be nil.
type Formatter func(value any) string

// WriteHandler is consulted on external writes. Returning false rejects the write.
type WriteHandler func(path string, value any) bool

// Attribute declares one path on the bus.
type Attribute struct {
	Path     string
	Kind     Kind
	Initial  any
	Writable bool
	Format   Formatter
	OnWrite  WriteHandler
}

// Entry is a point-in-time view of one attribute.
type Entry struct {
	Path     string
	Kind     Kind
	Value    any
	Text     string
	Writable bool
}

// Change is delivered to subscribers whenever a value changes.
type Change struct {
	Path     string
	Value    any
	External bool
}

// coerce converts v to the canonical Go type for kind. nil is always allowed.
// Integral floats are accepted for ints since JSON and protobuf Struct carry
// every number as float64.
func coerce(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int8:
			return int(n), nil
		case int16:
			return int(n), nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case uint8:
			return int(n), nil
		case uint16:
			return int(n), nil
		case uint32:
			return int(n), nil
		case float32:
			return integralFloat(float64(n))
		case float64:
			return integralFloat(n)
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, kind)
}

func integralFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: %v is not an integer", ErrValueType, f)
	}
	return int(f), nil
}

// DefaultText renders a value without a unit.
func DefaultText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// UnitFormatter renders numbers rounded to digits decimals followed by unit.
// Integers are rendered as-is.
func UnitFormatter(unit string, digits int) Formatter {
	return func(value any) string {
		switch v := value.(type) {
		case nil:
			return ""
		case int:
			return strconv.Itoa(v) + unit
		case float64:
			scale := math.Pow(10, float64(digits))
			return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64) + unit
		default:
			return fmt.Sprint(v) + unit
		}
	}
}
