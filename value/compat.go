package value

import (
	"fmt"
	"math"
)

// Compatible reports whether an output port of kind from may feed an input
// port of kind to. Equal kinds always connect. Numeric widening is declared
// for U32 to I32 (range-checked at runtime), U32 and I32 to F32, and every
// scalar may be rendered into a String input. Lists never coerce.
func Compatible(from, to Kind) bool {
	if from == to {
		return true
	}
	switch to {
	case KindI32:
		return from == KindU32
	case KindF32:
		return from == KindU32 || from == KindI32
	case KindString:
		switch from {
		case KindU32, KindI32, KindF32, KindBool:
			return true
		}
	}
	return false
}

// Coerce converts v into kind to following the Compatible rules. It is the
// execution-time re-validation of an edge: a compatible declaration can still
// fail here when the concrete value does not fit (for example a U32 above
// math.MaxInt32 flowing into an I32 port).
func Coerce(v Value, to Kind) (Value, error) {
	if v == nil {
		return nil, nil
	}
	from := v.Kind()
	if from == to {
		return v, nil
	}
	if !Compatible(from, to) {
		return nil, fmt.Errorf("value: %s is not compatible with %s", from, to)
	}
	switch to {
	case KindI32:
		u := v.(U32)
		if uint64(u) > math.MaxInt32 {
			return nil, fmt.Errorf("value: u32 %d overflows i32", u)
		}
		return I32(int32(u)), nil
	case KindF32:
		switch t := v.(type) {
		case U32:
			return F32(float32(t)), nil
		case I32:
			return F32(float32(t)), nil
		}
	case KindString:
		switch t := v.(type) {
		case U32, I32, F32, Bool:
			return String(Format(t)), nil
		}
	}
	return nil, fmt.Errorf("value: no conversion from %s to %s", from, to)
}
