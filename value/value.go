package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies a NodeValue variant. The same enumeration doubles as the
// declared type of a port.
type Kind uint8

const (
	KindU32 Kind = iota + 1
	KindI32
	KindF32
	KindString
	KindBool
	KindBinary
	KindStringList
	KindU32List
	KindF32List
)

// Kinds lists every variant in declaration order.
var Kinds = []Kind{
	KindU32, KindI32, KindF32, KindString, KindBool,
	KindBinary, KindStringList, KindU32List, KindF32List,
}

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindU32:
		return "u32"
	case KindI32:
		return "i32"
	case KindF32:
		return "f32"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	case KindStringList:
		return "string_list"
	case KindU32List:
		return "u32_list"
	case KindF32List:
		return "f32_list"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind resolves a wire tag to its Kind.
func ParseKind(s string) (Kind, error) {
	tag := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if k.String() == tag {
			return k, nil
		}
	}
	return 0, fmt.Errorf("value: unknown kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds serialise by tag.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("value: cannot marshal %s", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Valid reports whether k is one of the declared variants.
func (k Kind) Valid() bool {
	return k >= KindU32 && k <= KindF32List
}

// IsList reports whether k is one of the homogeneous list variants.
func (k Kind) IsList() bool {
	return k == KindStringList || k == KindU32List || k == KindF32List
}

// Value is a NodeValue. Only the types declared in this file implement it.
type Value interface {
	Kind() Kind
	sealed()
}

type (
	U32        uint32
	I32        int32
	F32        float32
	String     string
	Bool       bool
	Binary     []byte
	StringList []string
	U32List    []uint32
	F32List    []float32
)

func (U32) Kind() Kind        { return KindU32 }
func (I32) Kind() Kind        { return KindI32 }
func (F32) Kind() Kind        { return KindF32 }
func (String) Kind() Kind     { return KindString }
func (Bool) Kind() Kind       { return KindBool }
func (Binary) Kind() Kind     { return KindBinary }
func (StringList) Kind() Kind { return KindStringList }
func (U32List) Kind() Kind    { return KindU32List }
func (F32List) Kind() Kind    { return KindF32List }

func (U32) sealed()        {}
func (I32) sealed()        {}
func (F32) sealed()        {}
func (String) sealed()     {}
func (Bool) sealed()       {}
func (Binary) sealed()     {}
func (StringList) sealed() {}
func (U32List) sealed()    {}
func (F32List) sealed()    {}

// Format renders a value for human display (CLI, logs).
func Format(v Value) string {
	if v == nil {
		return "<absent>"
	}
	switch t := v.(type) {
	case U32:
		return strconv.FormatUint(uint64(t), 10)
	case I32:
		return strconv.FormatInt(int64(t), 10)
	case F32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case String:
		return strconv.Quote(string(t))
	case Bool:
		return strconv.FormatBool(bool(t))
	case Binary:
		return fmt.Sprintf("<%d bytes>", len(t))
	case StringList:
		return fmt.Sprintf("%q", []string(t))
	case U32List:
		return fmt.Sprintf("%v", []uint32(t))
	case F32List:
		return fmt.Sprintf("%v", []float32(t))
	default:
		panic(fmt.Sprintf("value: unhandled variant %T", v))
	}
}

// Equal reports whether two values hold the same variant and content.
// F32 compares bitwise so NaN equals itself.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case U32:
		return x == b.(U32)
	case I32:
		return x == b.(I32)
	case F32:
		return math.Float32bits(float32(x)) == math.Float32bits(float32(b.(F32)))
	case String:
		return x == b.(String)
	case Bool:
		return x == b.(Bool)
	case Binary:
		return string(x) == string(b.(Binary))
	case StringList:
		y := b.(StringList)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case U32List:
		y := b.(U32List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case F32List:
		y := b.(F32List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if math.Float32bits(x[i]) != math.Float32bits(y[i]) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("value: unhandled variant %T", a))
	}
}

// EqualAll compares two positional value vectors.
func EqualAll(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Size returns the payload size of v in bytes as it crosses the component
// boundary. It is what response-size ceilings are measured against.
func Size(v Value) int64 {
	if v == nil {
		return 0
	}
	switch t := v.(type) {
	case U32, I32, F32:
		return 4
	case Bool:
		return 1
	case String:
		return int64(len(t))
	case Binary:
		return int64(len(t))
	case StringList:
		var n int64
		for _, s := range t {
			n += int64(len(s))
		}
		return n
	case U32List:
		return int64(len(t)) * 4
	case F32List:
		return int64(len(t)) * 4
	default:
		panic(fmt.Sprintf("value: unhandled variant %T", v))
	}
}
