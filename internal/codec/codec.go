// Package codec converts ptype.Value between the in-memory representation,
// the SQLite column representation and the wire JSON representation used by
// internal/rpc. It holds no state; every function is a pure conversion.
package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/paramhub/paramhub/internal/ptype"
)

// ToSQL converts v to the value database/sql should bind for its column.
// Numeric and boolean kinds get their native affinity, string/path get
// TEXT, blob gets BLOB, and custom_enum is stored as its integer ordinal —
// exactly the mapping spec.md §4.B prescribes.
func ToSQL(v ptype.Value) (any, error) {
	switch v.Kind {
	case ptype.KindBool:
		if v.B {
			return int64(1), nil
		}
		return int64(0), nil
	case ptype.KindInt32:
		return int64(v.I32), nil
	case ptype.KindUint32:
		return int64(v.U32), nil
	case ptype.KindInt64:
		return v.I64, nil
	case ptype.KindUint64:
		// SQLite integers are signed 64-bit; store the bit pattern and
		// reinterpret on read.
		return int64(v.U64), nil
	case ptype.KindFloat32:
		return float64(v.F32), nil
	case ptype.KindFloat64:
		return v.F64, nil
	case ptype.KindString, ptype.KindPath:
		return v.Str, nil
	case ptype.KindBlob:
		return v.Blob, nil
	case ptype.KindCustomEnum:
		return v.Enum, nil
	default:
		return nil, fmt.Errorf("codec: ToSQL: unsupported kind %s", v.Kind)
	}
}

// FromSQL decodes a column value previously produced by ToSQL back into a
// Value of the given kind.
func FromSQL(kind ptype.Kind, raw any) (ptype.Value, error) {
	switch kind {
	case ptype.KindBool:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.BoolValue(n != 0), nil
	case ptype.KindInt32:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Int32Value(int32(n)), nil
	case ptype.KindUint32:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Uint32Value(uint32(n)), nil
	case ptype.KindInt64:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Int64Value(n), nil
	case ptype.KindUint64:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Uint64Value(uint64(n)), nil
	case ptype.KindFloat32:
		f, err := asFloat64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Float32Value(float32(f)), nil
	case ptype.KindFloat64:
		f, err := asFloat64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.Float64Value(f), nil
	case ptype.KindString, ptype.KindPath:
		s, ok := raw.(string)
		if !ok {
			b, ok := raw.([]byte)
			if !ok {
				return ptype.Value{}, fmt.Errorf("codec: FromSQL: not a string: %T", raw)
			}
			s = string(b)
		}
		if kind == ptype.KindPath {
			return ptype.PathValue(s), nil
		}
		return ptype.StringValue(s), nil
	case ptype.KindBlob:
		b, ok := raw.([]byte)
		if !ok {
			return ptype.Value{}, fmt.Errorf("codec: FromSQL: not a blob: %T", raw)
		}
		return ptype.BlobValue(b), nil
	case ptype.KindCustomEnum:
		n, err := asInt64(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.EnumValue(n), nil
	default:
		return ptype.Value{}, fmt.Errorf("codec: FromSQL: unsupported kind %s", kind)
	}
}

func asInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("codec: expected integer column, got %T", raw)
	}
}

func asFloat64(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("codec: expected real column, got %T", raw)
	}
}

// ToJSON converts v to the wire representation of spec.md §4.B: booleans as
// booleans, numbers as JSON numbers, strings/paths as strings, blobs as
// base64 strings, enums as integer ordinals.
func ToJSON(v ptype.Value) (any, error) {
	switch v.Kind {
	case ptype.KindBool:
		return v.B, nil
	case ptype.KindInt32:
		return float64(v.I32), nil
	case ptype.KindUint32:
		return float64(v.U32), nil
	case ptype.KindInt64:
		return float64(v.I64), nil
	case ptype.KindUint64:
		return float64(v.U64), nil
	case ptype.KindFloat32:
		return float64(v.F32), nil
	case ptype.KindFloat64:
		return v.F64, nil
	case ptype.KindString, ptype.KindPath:
		return v.Str, nil
	case ptype.KindBlob:
		return base64.StdEncoding.EncodeToString(v.Blob), nil
	case ptype.KindCustomEnum:
		return float64(v.Enum), nil
	default:
		return nil, fmt.Errorf("codec: ToJSON: unsupported kind %s", v.Kind)
	}
}

// FromJSON decodes a wire value of the given kind. Per spec.md §4.B,
// numeric parameters also accept a JSON string that parses as a number.
func FromJSON(kind ptype.Kind, raw any) (ptype.Value, error) {
	switch kind {
	case ptype.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return ptype.Value{}, fmt.Errorf("codec: FromJSON: expected bool, got %T", raw)
		}
		return ptype.BoolValue(b), nil
	case ptype.KindInt32, ptype.KindUint32, ptype.KindInt64, ptype.KindUint64:
		n, err := jsonNumber(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		switch kind {
		case ptype.KindInt32:
			return ptype.Int32Value(int32(n)), nil
		case ptype.KindUint32:
			return ptype.Uint32Value(uint32(n)), nil
		case ptype.KindInt64:
			return ptype.Int64Value(int64(n)), nil
		default:
			return ptype.Uint64Value(uint64(n)), nil
		}
	case ptype.KindFloat32, ptype.KindFloat64:
		f, err := jsonFloat(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		if kind == ptype.KindFloat32 {
			return ptype.Float32Value(float32(f)), nil
		}
		return ptype.Float64Value(f), nil
	case ptype.KindString:
		s, ok := raw.(string)
		if !ok {
			return ptype.Value{}, fmt.Errorf("codec: FromJSON: expected string, got %T", raw)
		}
		return ptype.StringValue(s), nil
	case ptype.KindPath:
		s, ok := raw.(string)
		if !ok {
			return ptype.Value{}, fmt.Errorf("codec: FromJSON: expected string, got %T", raw)
		}
		return ptype.PathValue(s), nil
	case ptype.KindBlob:
		s, ok := raw.(string)
		if !ok {
			return ptype.Value{}, fmt.Errorf("codec: FromJSON: expected base64 string, got %T", raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return ptype.Value{}, fmt.Errorf("codec: FromJSON: invalid base64: %w", err)
		}
		return ptype.BlobValue(b), nil
	case ptype.KindCustomEnum:
		n, err := jsonNumber(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		return ptype.EnumValue(n), nil
	default:
		return ptype.Value{}, fmt.Errorf("codec: FromJSON: unsupported kind %s", kind)
	}
}

func jsonNumber(raw any) (int64, error) {
	switch n := raw.(type) {
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("codec: FromJSON: %q does not parse as an integer", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("codec: FromJSON: expected number, got %T", raw)
	}
}

func jsonFloat(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("codec: FromJSON: %q does not parse as a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("codec: FromJSON: expected number, got %T", raw)
	}
}
