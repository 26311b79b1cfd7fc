package schema

import (
	"fmt"

	"github.com/paramhub/paramhub/internal/ptype"
)

// Table is the compiled, ordered parameter table: a build error to produce,
// immutable once produced. ID equals position in Descriptors.
type Table struct {
	Descriptors []ptype.Descriptor
	byQualified map[string]int // qualified name -> index
}

// ByID returns the descriptor with the given ID, or false if out of range.
func (t *Table) ByID(id int) (ptype.Descriptor, bool) {
	if id < 0 || id >= len(t.Descriptors) {
		return ptype.Descriptor{}, false
	}
	return t.Descriptors[id], true
}

// ByQualifiedName looks up a descriptor by its "{group}@{name}" key.
func (t *Table) ByQualifiedName(qn string) (ptype.Descriptor, bool) {
	idx, ok := t.byQualified[qn]
	if !ok {
		return ptype.Descriptor{}, false
	}
	return t.Descriptors[idx], true
}

// Compile turns a parsed schema File into a Table, applying every invariant
// of spec.md §3.1: dense unique IDs (assigned by discovery order — message
// declaration order then field order), unique qualified names,
// default-kind agreement, range/allowed-values item kind agreement, and
// the "missing default is a build error" rule for non-blob kinds. Unknown
// option keys are ignored already by the YAML decoder.
func Compile(f *File) (*Table, error) {
	t := &Table{byQualified: make(map[string]int)}
	seenGroup := make(map[string]bool)

	for _, msg := range f.Messages {
		group := normalizeName(msg.Name)
		if group == "" {
			return nil, fmt.Errorf("schema: message has no name")
		}
		if seenGroup[group] {
			return nil, fmt.Errorf("schema: duplicate message %q", msg.Name)
		}
		seenGroup[group] = true

		for _, field := range msg.Fields {
			d, err := compileField(group, field)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", msg.Name, field.Name, err)
			}
			d.ID = len(t.Descriptors)

			qn := d.QualifiedName()
			if _, dup := t.byQualified[qn]; dup {
				return nil, fmt.Errorf("schema: duplicate qualified name %q", qn)
			}
			t.byQualified[qn] = d.ID
			t.Descriptors = append(t.Descriptors, d)
		}
	}

	return t, nil
}

func compileField(group string, f Field) (ptype.Descriptor, error) {
	name := normalizeName(f.Name)
	if name == "" {
		return ptype.Descriptor{}, fmt.Errorf("field has no name")
	}

	kind, ok := kindAliases[f.Kind]
	if !ok {
		return ptype.Descriptor{}, fmt.Errorf("unknown kind %q", f.Kind)
	}

	d := ptype.Descriptor{
		Group:   group,
		Name:    name,
		Title:   f.Title,
		Comment: f.Comment,
		Tags:    append([]string(nil), f.Tags...),
		Kind:    kind,
		Flags: ptype.Flags{
			Runtime:   f.Runtime,
			IsConst:   f.IsConst,
			ReadOnly:  f.ReadOnly,
			Internal:  f.Internal,
			WriteOnly: f.WriteOnly,
		},
	}

	if kind == ptype.KindBlob {
		if f.DefaultPath == "" && f.Default == nil {
			return ptype.Descriptor{}, fmt.Errorf("blob field requires default or default_path")
		}
		d.DefaultPath = f.DefaultPath
		if f.Default != nil {
			s, ok := f.Default.(string)
			if !ok {
				return ptype.Descriptor{}, fmt.Errorf("blob default must be a string (inline bytes or a path)")
			}
			d.Default = ptype.BlobValue([]byte(s))
		}
	} else {
		if f.Default == nil {
			return ptype.Descriptor{}, fmt.Errorf("missing default_value for non-blob kind %s", kind)
		}
		v, err := coerceDefault(kind, f.Default)
		if err != nil {
			return ptype.Descriptor{}, fmt.Errorf("default_value: %w", err)
		}
		d.Default = v
	}

	if f.Validation != nil {
		v, err := compileValidation(kind, *f.Validation)
		if err != nil {
			return ptype.Descriptor{}, fmt.Errorf("validation: %w", err)
		}
		d.Validation = v
	}

	return d, nil
}

func compileValidation(kind ptype.Kind, v Validation) (ptype.Validation, error) {
	switch v.Mode {
	case "", "none":
		return ptype.Validation{Mode: ptype.ValidationNone}, nil
	case "range":
		min, err := coerceDefault(kind, v.Min)
		if err != nil {
			return ptype.Validation{}, fmt.Errorf("min: %w", err)
		}
		max, err := coerceDefault(kind, v.Max)
		if err != nil {
			return ptype.Validation{}, fmt.Errorf("max: %w", err)
		}
		switch kind {
		case ptype.KindString, ptype.KindPath, ptype.KindBlob, ptype.KindBool, ptype.KindCustomEnum:
			return ptype.Validation{}, fmt.Errorf("range validation requires a numeric kind, got %s", kind)
		}
		return ptype.Validation{Mode: ptype.ValidationRange, Min: min, Max: max}, nil
	case "allowed_values":
		if len(v.Allowed) == 0 {
			return ptype.Validation{}, fmt.Errorf("allowed_values requires at least one entry")
		}
		allowed := make([]ptype.Value, 0, len(v.Allowed))
		for _, raw := range v.Allowed {
			val, err := coerceDefault(kind, raw)
			if err != nil {
				return ptype.Validation{}, fmt.Errorf("allowed_values item: %w", err)
			}
			allowed = append(allowed, val)
		}
		return ptype.Validation{Mode: ptype.ValidationAllowedValues, Allowed: allowed}, nil
	case "custom_callback":
		// Reserved: spec.md §9 open question. Accept everything until
		// specified.
		return ptype.Validation{Mode: ptype.ValidationCustomCallback, CustomCallback: v.CustomCallback}, nil
	default:
		return ptype.Validation{}, fmt.Errorf("unknown validation mode %q", v.Mode)
	}
}

// coerceDefault converts a YAML-decoded scalar (bool, int, float64, string)
// into a Value of the given kind, rejecting any value whose YAML type
// disagrees with kind.
func coerceDefault(kind ptype.Kind, raw any) (ptype.Value, error) {
	switch kind {
	case ptype.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return ptype.Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return ptype.BoolValue(b), nil
	case ptype.KindInt32, ptype.KindUint32, ptype.KindInt64, ptype.KindUint64, ptype.KindCustomEnum:
		n, err := asInt(raw)
		if err != nil {
			return ptype.Value{}, err
		}
		switch kind {
		case ptype.KindInt32:
			return ptype.Int32Value(int32(n)), nil
		case ptype.KindUint32:
			return ptype.Uint32Value(uint32(n)), nil
		case ptype.KindInt64:
			return ptype.Int64Value(n), nil
		case ptype.KindUint64:
			return ptype.Uint64Value(uint64(n)), nil
		default:
			return ptype.EnumValue(n), nil
		}
	case ptype.KindFloat32, ptype.KindFloat64:
		f, err := asFloat(raw)
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
			return ptype.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return ptype.StringValue(s), nil
	case ptype.KindPath:
		s, ok := raw.(string)
		if !ok {
			return ptype.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return ptype.PathValue(s), nil
	default:
		return ptype.Value{}, fmt.Errorf("kind %s has no scalar default form", kind)
	}
}

func asInt(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func asFloat(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}
