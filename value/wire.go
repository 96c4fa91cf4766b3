package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// envelope is the tagged JSON form of a single value: {"type":"u32","value":7}.
type envelope struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Encode renders v in its tagged JSON form. A nil value encodes as null,
// which stands for an absent optional input.
func Encode(v Value) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	var payload any
	switch t := v.(type) {
	case U32:
		payload = uint32(t)
	case I32:
		payload = int32(t)
	case F32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value: f32 %v has no JSON form", f)
		}
		payload = json.Number(strconv.FormatFloat(f, 'g', -1, 32))
	case String:
		payload = string(t)
	case Bool:
		payload = bool(t)
	case Binary:
		payload = []byte(t)
	case StringList:
		payload = nonNil([]string(t))
	case U32List:
		payload = nonNil([]uint32(t))
	case F32List:
		for _, f := range t {
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, fmt.Errorf("value: f32 list element %v has no JSON form", f)
			}
		}
		payload = nonNil([]float32(t))
	default:
		panic(fmt.Sprintf("value: unhandled variant %T", v))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("value: encoding %s: %w", v.Kind(), err)
	}
	return json.Marshal(envelope{Type: v.Kind(), Value: raw})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Decode parses the tagged JSON form. null decodes to a nil Value.
func Decode(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("value: malformed envelope: %w", err)
	}
	if len(env.Value) == 0 {
		return nil, fmt.Errorf("value: %s envelope has no value", env.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Value))
	dec.UseNumber()

	switch env.Type {
	case KindU32:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("value: u32: %w", err)
		}
		u, err := strconv.ParseUint(n.String(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("value: u32: %w", err)
		}
		return U32(u), nil
	case KindI32:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("value: i32: %w", err)
		}
		i, err := strconv.ParseInt(n.String(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("value: i32: %w", err)
		}
		return I32(i), nil
	case KindF32:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("value: f32: %w", err)
		}
		f, err := strconv.ParseFloat(n.String(), 32)
		if err != nil {
			return nil, fmt.Errorf("value: f32: %w", err)
		}
		return F32(f), nil
	case KindString:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("value: string: %w", err)
		}
		return String(s), nil
	case KindBool:
		var b bool
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("value: bool: %w", err)
		}
		return Bool(b), nil
	case KindBinary:
		var b []byte
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("value: binary: %w", err)
		}
		return Binary(b), nil
	case KindStringList:
		var l []string
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("value: string_list: %w", err)
		}
		return StringList(l), nil
	case KindU32List:
		var l []uint32
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("value: u32_list: %w", err)
		}
		return U32List(l), nil
	case KindF32List:
		var l []float32
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("value: f32_list: %w", err)
		}
		return F32List(l), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %s", env.Type)
	}
}

// Values is a positional vector of values with a JSON form used on the wire.
// Absent optional slots are nil and encode as null.
type Values []Value

// MarshalJSON implements json.Marshaler.
func (vs Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vs {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("value: element %d: %w", i, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (vs *Values) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("value: expected array: %w", err)
	}
	out := make(Values, len(raws))
	for i, raw := range raws {
		v, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("value: element %d: %w", i, err)
		}
		out[i] = v
	}
	*vs = out
	return nil
}
