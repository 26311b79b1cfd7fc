package schema

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/paramhub/paramhub/internal/ptype"
)

// Generate renders the build-time artifacts of spec.md §4.A for a compiled
// Table: a Go source file with the dense ID enum and the typed accessor
// pairs, and a matching C header. A third artifact, the cgo export glue
// that backs that header against internal/cabi's handle table, is rendered
// separately by GenerateCABI since it belongs in package cabi rather than
// the caller-chosen accessor package. Generation has no third-party
// templating dependency worth pulling in for three small text/template
// templates — see DESIGN.md.
type Generated struct {
	GoSource string
	CHeader  string
}

func Generate(pkg string, t *Table) (*Generated, error) {
	goSrc, err := renderGo(pkg, t)
	if err != nil {
		return nil, fmt.Errorf("schema: generate go: %w", err)
	}
	cHeader, err := renderCHeader(t)
	if err != nil {
		return nil, fmt.Errorf("schema: generate c header: %w", err)
	}
	return &Generated{GoSource: goSrc, CHeader: cHeader}, nil
}

// GenerateCABI renders params_gen_cabi.go: one //export get/set pair per
// parameter, dispatching through the handle table internal/cabi.go
// maintains. It must be written into internal/cabi itself (its package
// clause is fixed at "cabi") since cgo exports have to live beside the
// lookup/statusOf/copy helpers they call.
func GenerateCABI(t *Table) (string, error) {
	tmpl, err := template.New("cabi").Parse(cabiTemplate)
	if err != nil {
		return "", err
	}
	fs := fields(t)
	gfs := make([]goTemplateField, len(fs))
	anyBlob := false
	for i, f := range fs {
		gfs[i] = goTemplateField{templateField: f, CodecSuffix: codecSuffix(f.Kind)}
		if f.CType == "uint8_t*" {
			anyBlob = true
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		Fields  []goTemplateField
		AnyBlob bool
	}{Fields: gfs, AnyBlob: anyBlob}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type templateField struct {
	ptype.Descriptor
	ConstName string
	FuncName  string
	GoType    string
	CType     string
}

func fields(t *Table) []templateField {
	out := make([]templateField, 0, len(t.Descriptors))
	for _, d := range t.Descriptors {
		out = append(out, templateField{
			Descriptor: d,
			ConstName:  "Param" + camel(d.Group) + camel(d.Name),
			FuncName:   camel(d.Group) + "_" + camel(d.Name),
			GoType:     goType(d.Kind),
			CType:      cType(d.Kind),
		})
	}
	return out
}

func camel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func goType(k ptype.Kind) string {
	switch k {
	case ptype.KindBool:
		return "bool"
	case ptype.KindInt32, ptype.KindCustomEnum:
		return "int32"
	case ptype.KindUint32:
		return "uint32"
	case ptype.KindInt64:
		return "int64"
	case ptype.KindUint64:
		return "uint64"
	case ptype.KindFloat32:
		return "float32"
	case ptype.KindFloat64:
		return "float64"
	case ptype.KindString, ptype.KindPath:
		return "string"
	case ptype.KindBlob:
		return "[]byte"
	default:
		return "any"
	}
}

func cType(k ptype.Kind) string {
	switch k {
	case ptype.KindBool:
		return "int"
	case ptype.KindInt32, ptype.KindCustomEnum:
		return "int32_t"
	case ptype.KindUint32:
		return "uint32_t"
	case ptype.KindInt64:
		return "int64_t"
	case ptype.KindUint64:
		return "uint64_t"
	case ptype.KindFloat32:
		return "float"
	case ptype.KindFloat64:
		return "double"
	case ptype.KindString, ptype.KindPath:
		return "char*"
	case ptype.KindBlob:
		return "uint8_t*"
	default:
		return "void*"
	}
}

const goTemplate = `// Code generated by cmd/paramgen from a schema file. DO NOT EDIT.

package {{.Pkg}}

import "github.com/paramhub/paramhub/internal/instance"

// Dense parameter ID constants, one per compiled parameter.
const (
{{- range .Fields}}
	{{.ConstName}} = {{.ID}}
{{- end}}
	paramCount = {{len .Fields}}
)

{{range .Fields}}
// Get{{.FuncName}} returns the current value of {{.QualifiedName}}.
func Get{{.FuncName}}(inst *instance.Instance) ({{.GoType}}, error) {
	return instance.Get{{.CodecSuffix}}(inst, {{.ConstName}})
}

// Set{{.FuncName}} writes a new value for {{.QualifiedName}}.
func Set{{.FuncName}}(inst *instance.Instance, v {{.GoType}}) error {
	return instance.Set{{.CodecSuffix}}(inst, {{.ConstName}}, v)
}
{{end}}
`

type goTemplateField struct {
	templateField
	CodecSuffix string
}

func codecSuffix(k ptype.Kind) string {
	switch k {
	case ptype.KindBool:
		return "Bool"
	case ptype.KindInt32:
		return "Int32"
	case ptype.KindUint32:
		return "Uint32"
	case ptype.KindInt64:
		return "Int64"
	case ptype.KindUint64:
		return "Uint64"
	case ptype.KindFloat32:
		return "Float32"
	case ptype.KindFloat64:
		return "Float64"
	case ptype.KindString, ptype.KindPath:
		return "String"
	case ptype.KindBlob:
		return "Blob"
	case ptype.KindCustomEnum:
		return "Enum"
	default:
		return "Invalid"
	}
}

func renderGo(pkg string, t *Table) (string, error) {
	tmpl, err := template.New("go").Parse(goTemplate)
	if err != nil {
		return "", err
	}
	fs := fields(t)
	gfs := make([]goTemplateField, len(fs))
	for i, f := range fs {
		gfs[i] = goTemplateField{templateField: f, CodecSuffix: codecSuffix(f.Kind)}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		Pkg    string
		Fields []goTemplateField
	}{Pkg: pkg, Fields: gfs}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const cTemplate = `/* Code generated by cmd/paramgen from a schema file. DO NOT EDIT. */
#ifndef PARAMHUB_GENERATED_H
#define PARAMHUB_GENERATED_H

#include <stdint.h>

/* An opened instance is an opaque int32 handle, not a pointer: the Go side
 * keeps the real *instance.Instance in a handle table so no Go pointer ever
 * crosses the cgo boundary. */
typedef int32_t paramhub_handle;

typedef enum {
	PARAMHUB_OK = 0,
	PARAMHUB_NOT_FOUND,
	PARAMHUB_TYPE_MISMATCH,
	PARAMHUB_OUT_OF_RANGE,
	PARAMHUB_NOT_ALLOWED,
	PARAMHUB_CONST_PARAMETER,
	PARAMHUB_IO_ERROR,
	PARAMHUB_DB_ERROR,
	PARAMHUB_SERIALIZATION_ERROR,
	PARAMHUB_NETWORK_ERROR,
	PARAMHUB_INVALID_STATE,
	PARAMHUB_INTERNAL
} paramhub_status;

typedef enum {
{{- range .Fields}}
	{{.ConstName}} = {{.ID}},
{{- end}}
	PARAMHUB_PARAM_COUNT = {{len .Fields}}
} paramhub_param_id;

typedef void (*paramhub_callback)(int32_t id, void *user_arg);

paramhub_status paramhub_init(const char *working_path, const char *backup_path, const char *default_assets_path, const char *schema_path, paramhub_handle *out);
void paramhub_close(paramhub_handle h);
paramhub_status paramhub_add_callback(paramhub_handle h, int32_t id, paramhub_callback fn, void *user_arg);
paramhub_status paramhub_set_up_timer_poll(paramhub_handle h, int32_t interval_ms);
paramhub_status paramhub_update_poll(paramhub_handle h);
paramhub_status paramhub_save(paramhub_handle h);
paramhub_status paramhub_restore(paramhub_handle h);
paramhub_status paramhub_factory_reset(paramhub_handle h);

{{range .Fields}}
{{if eq .CType "char*"}}
paramhub_status paramhub_get_{{.FuncName}}(paramhub_handle h, char *out, int32_t out_len);
paramhub_status paramhub_set_{{.FuncName}}(paramhub_handle h, const char *in);
{{else if eq .CType "uint8_t*"}}
paramhub_status paramhub_get_{{.FuncName}}(paramhub_handle h, uint8_t *out, int32_t out_len, int32_t *out_written);
paramhub_status paramhub_set_{{.FuncName}}(paramhub_handle h, const uint8_t *in, int32_t in_len);
{{else}}
paramhub_status paramhub_get_{{.FuncName}}(paramhub_handle h, {{.CType}} *out);
paramhub_status paramhub_set_{{.FuncName}}(paramhub_handle h, {{.CType}} in);
{{end}}
{{end}}
#endif /* PARAMHUB_GENERATED_H */
`

// cabiTemplate renders one //export get/set pair per field, matching
// cTemplate's prototypes exactly against internal/cabi.go's handle table
// and copyCString/copyCBytes/boolToCInt helpers.
const cabiTemplate = `// Code generated by cmd/paramgen from a schema file. DO NOT EDIT.

package cabi

/*
#include <stdint.h>
*/
import "C"

import (
{{if .AnyBlob}}	"unsafe"

{{end}}	"github.com/paramhub/paramhub/internal/instance"
	"github.com/paramhub/paramhub/internal/ptype"
)
{{range .Fields}}
//export paramhub_get_{{.FuncName}}
{{if eq .CType "char*"}}func paramhub_get_{{.FuncName}}(h C.int32_t, out *C.char, outLen C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	v, err := instance.Get{{.CodecSuffix}}(inst, {{.ID}})
	if err != nil {
		return statusOf(err)
	}
	copyCString(out, outLen, v)
	return C.int(ptype.Ok)
}
{{else if eq .CType "uint8_t*"}}func paramhub_get_{{.FuncName}}(h C.int32_t, out *C.uint8_t, outLen C.int32_t, written *C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	v, err := instance.Get{{.CodecSuffix}}(inst, {{.ID}})
	if err != nil {
		return statusOf(err)
	}
	*written = C.int32_t(copyCBytes(out, outLen, v))
	return C.int(ptype.Ok)
}
{{else if eq .CType "int"}}func paramhub_get_{{.FuncName}}(h C.int32_t, out *C.int) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	v, err := instance.Get{{.CodecSuffix}}(inst, {{.ID}})
	if err != nil {
		return statusOf(err)
	}
	*out = boolToCInt(v)
	return C.int(ptype.Ok)
}
{{else}}func paramhub_get_{{.FuncName}}(h C.int32_t, out *C.{{.CType}}) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	v, err := instance.Get{{.CodecSuffix}}(inst, {{.ID}})
	if err != nil {
		return statusOf(err)
	}
	*out = C.{{.CType}}(v)
	return C.int(ptype.Ok)
}
{{end}}
//export paramhub_set_{{.FuncName}}
{{if eq .CType "char*"}}func paramhub_set_{{.FuncName}}(h C.int32_t, in *C.char) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(instance.Set{{.CodecSuffix}}(inst, {{.ID}}, C.GoString(in)))
}
{{else if eq .CType "uint8_t*"}}func paramhub_set_{{.FuncName}}(h C.int32_t, in *C.uint8_t, inLen C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(instance.Set{{.CodecSuffix}}(inst, {{.ID}}, C.GoBytes(unsafe.Pointer(in), C.int(inLen))))
}
{{else if eq .CType "int"}}func paramhub_set_{{.FuncName}}(h C.int32_t, in C.int) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(instance.Set{{.CodecSuffix}}(inst, {{.ID}}, in != 0))
}
{{else}}func paramhub_set_{{.FuncName}}(h C.int32_t, in C.{{.CType}}) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(instance.Set{{.CodecSuffix}}(inst, {{.ID}}, {{.GoType}}(in)))
}
{{end}}
{{end}}
`

func renderCHeader(t *Table) (string, error) {
	tmpl, err := template.New("c").Parse(cTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Fields []templateField }{Fields: fields(t)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
