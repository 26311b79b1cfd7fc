package instance

import "github.com/paramhub/paramhub/internal/ptype"

// The Get*/Set* pairs below are the free-function accessors that
// cmd/paramgen's generated code calls by parameter ID. Each validates the
// descriptor's kind against the Go type of the call site, so a regenerated
// schema that changes a parameter's kind fails at the first access instead
// of silently misreading bytes.

func GetBool(inst *Instance, id int) (bool, error) {
	v, err := get(inst, id)
	if err != nil {
		return false, err
	}
	if v.Kind != ptype.KindBool {
		return false, typeMismatch("GetBool", id, ptype.KindBool, v.Kind)
	}
	return v.B, nil
}

func SetBool(inst *Instance, id int, val bool) error {
	return set(inst, id, ptype.BoolValue(val))
}

func GetInt32(inst *Instance, id int) (int32, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindInt32 {
		return 0, typeMismatch("GetInt32", id, ptype.KindInt32, v.Kind)
	}
	return v.I32, nil
}

func SetInt32(inst *Instance, id int, val int32) error {
	return set(inst, id, ptype.Int32Value(val))
}

func GetUint32(inst *Instance, id int) (uint32, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindUint32 {
		return 0, typeMismatch("GetUint32", id, ptype.KindUint32, v.Kind)
	}
	return v.U32, nil
}

func SetUint32(inst *Instance, id int, val uint32) error {
	return set(inst, id, ptype.Uint32Value(val))
}

func GetInt64(inst *Instance, id int) (int64, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindInt64 {
		return 0, typeMismatch("GetInt64", id, ptype.KindInt64, v.Kind)
	}
	return v.I64, nil
}

func SetInt64(inst *Instance, id int, val int64) error {
	return set(inst, id, ptype.Int64Value(val))
}

func GetUint64(inst *Instance, id int) (uint64, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindUint64 {
		return 0, typeMismatch("GetUint64", id, ptype.KindUint64, v.Kind)
	}
	return v.U64, nil
}

func SetUint64(inst *Instance, id int, val uint64) error {
	return set(inst, id, ptype.Uint64Value(val))
}

func GetFloat32(inst *Instance, id int) (float32, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindFloat32 {
		return 0, typeMismatch("GetFloat32", id, ptype.KindFloat32, v.Kind)
	}
	return v.F32, nil
}

func SetFloat32(inst *Instance, id int, val float32) error {
	return set(inst, id, ptype.Float32Value(val))
}

func GetFloat64(inst *Instance, id int) (float64, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindFloat64 {
		return 0, typeMismatch("GetFloat64", id, ptype.KindFloat64, v.Kind)
	}
	return v.F64, nil
}

func SetFloat64(inst *Instance, id int, val float64) error {
	return set(inst, id, ptype.Float64Value(val))
}

// GetString serves both KindString and KindPath parameters, since both are
// carried as Go strings.
func GetString(inst *Instance, id int) (string, error) {
	v, err := get(inst, id)
	if err != nil {
		return "", err
	}
	if v.Kind != ptype.KindString && v.Kind != ptype.KindPath {
		return "", typeMismatch("GetString", id, ptype.KindString, v.Kind)
	}
	return v.Str, nil
}

func SetString(inst *Instance, id int, val string) error {
	d, err := inst.Registry.Descriptor(id)
	if err != nil {
		return err
	}
	if d.Kind == ptype.KindPath {
		return set(inst, id, ptype.PathValue(val))
	}
	return set(inst, id, ptype.StringValue(val))
}

func GetBlob(inst *Instance, id int) ([]byte, error) {
	v, err := get(inst, id)
	if err != nil {
		return nil, err
	}
	if v.Kind != ptype.KindBlob {
		return nil, typeMismatch("GetBlob", id, ptype.KindBlob, v.Kind)
	}
	return v.Blob, nil
}

func SetBlob(inst *Instance, id int, val []byte) error {
	return set(inst, id, ptype.BlobValue(val))
}

func GetEnum(inst *Instance, id int) (int32, error) {
	v, err := get(inst, id)
	if err != nil {
		return 0, err
	}
	if v.Kind != ptype.KindCustomEnum {
		return 0, typeMismatch("GetEnum", id, ptype.KindCustomEnum, v.Kind)
	}
	return int32(v.Enum), nil
}

func SetEnum(inst *Instance, id int, val int32) error {
	return set(inst, id, ptype.EnumValue(int64(val)))
}
