// Package ptype defines the tagged value, descriptor and error types shared
// by every layer of paramhub: the schema compiler, the store, the codec, the
// notifier/reconciler and both façades.
package ptype

import "fmt"

// Kind is the finite set of parameter value kinds. It is a sum type, not an
// interface hierarchy: every layer switches on Kind rather than relying on
// dynamic dispatch.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindPath
	KindBlob
	KindCustomEnum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindPath:
		return "path"
	case KindBlob:
		return "blob"
	case KindCustomEnum:
		return "custom_enum"
	default:
		return "invalid"
	}
}

// ParseKind maps the schema file's kind names onto Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindBool; k <= KindCustomEnum; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("ptype: unknown kind %q", s)
}

// Value is the tagged value carried between the codec, the store and both
// façades. Exactly one field is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	B    bool
	I32  int32
	U32  uint32
	I64  int64
	U64  uint64
	F32  float32
	F64  float64
	Str  string // string, path
	Blob []byte
	Enum int64 // custom_enum ordinal
}

// Equal reports whether two values of the same kind carry the same payload.
// Values of differing kind are never equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == other.B
	case KindInt32:
		return v.I32 == other.I32
	case KindUint32:
		return v.U32 == other.U32
	case KindInt64:
		return v.I64 == other.I64
	case KindUint64:
		return v.U64 == other.U64
	case KindFloat32:
		return v.F32 == other.F32
	case KindFloat64:
		return v.F64 == other.F64
	case KindString, KindPath:
		return v.Str == other.Str
	case KindBlob:
		return string(v.Blob) == string(other.Blob)
	case KindCustomEnum:
		return v.Enum == other.Enum
	default:
		return false
	}
}

// Less reports v < other for kinds that participate in range validation.
// It panics on non-numeric kinds; callers must only invoke it for
// descriptors with RANGE validation, which schema compilation already
// restricts to numeric kinds.
func (v Value) Less(other Value) bool {
	switch v.Kind {
	case KindInt32:
		return v.I32 < other.I32
	case KindUint32:
		return v.U32 < other.U32
	case KindInt64:
		return v.I64 < other.I64
	case KindUint64:
		return v.U64 < other.U64
	case KindFloat32:
		return v.F32 < other.F32
	case KindFloat64:
		return v.F64 < other.F64
	default:
		panic(fmt.Sprintf("ptype: Less called on non-numeric kind %s", v.Kind))
	}
}

func BoolValue(b bool) Value        { return Value{Kind: KindBool, B: b} }
func Int32Value(i int32) Value      { return Value{Kind: KindInt32, I32: i} }
func Uint32Value(u uint32) Value    { return Value{Kind: KindUint32, U32: u} }
func Int64Value(i int64) Value      { return Value{Kind: KindInt64, I64: i} }
func Uint64Value(u uint64) Value    { return Value{Kind: KindUint64, U64: u} }
func Float32Value(f float32) Value  { return Value{Kind: KindFloat32, F32: f} }
func Float64Value(f float64) Value  { return Value{Kind: KindFloat64, F64: f} }
func StringValue(s string) Value    { return Value{Kind: KindString, Str: s} }
func PathValue(s string) Value      { return Value{Kind: KindPath, Str: s} }
func BlobValue(b []byte) Value      { return Value{Kind: KindBlob, Blob: b} }
func EnumValue(ordinal int64) Value { return Value{Kind: KindCustomEnum, Enum: ordinal} }
