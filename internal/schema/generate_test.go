package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	f := &File{
		Messages: []Message{
			{
				Name: "image_acquisition",
				Fields: []Field{
					{Name: "image_width", Kind: "int32", Default: 256},
					{Name: "auto_focus", Kind: "bool", Default: true},
					{Name: "device_name", Kind: "string", Default: "cam0"},
					{Name: "calibration", Kind: "blob", Default: "blob"},
				},
			},
		},
	}
	table, err := Compile(f)
	require.NoError(t, err)
	return table
}

func TestGenerateProducesHandleBasedHeader(t *testing.T) {
	table := testTable(t)
	gen, err := Generate("paramgen", table)
	require.NoError(t, err)

	require.Contains(t, gen.CHeader, "typedef int32_t paramhub_handle;")
	require.Contains(t, gen.CHeader, "paramhub_init(const char *working_path, const char *backup_path, const char *default_assets_path, const char *schema_path, paramhub_handle *out)")
	require.NotContains(t, gen.CHeader, "paramhub_instance")
}

// TestHeaderAndCABIAgreeOnFuncNames guards against the header and the cgo
// export glue drifting apart: every get/set prototype the header declares
// must have a matching //export in the generated cabi source.
func TestHeaderAndCABIAgreeOnFuncNames(t *testing.T) {
	table := testTable(t)
	gen, err := Generate("paramgen", table)
	require.NoError(t, err)
	cabiSrc, err := GenerateCABI(table)
	require.NoError(t, err)

	for _, f := range fields(table) {
		getSig := "paramhub_get_" + f.FuncName
		setSig := "paramhub_set_" + f.FuncName
		require.Contains(t, gen.CHeader, getSig, "header missing getter for %s", f.FuncName)
		require.Contains(t, gen.CHeader, setSig, "header missing setter for %s", f.FuncName)
		require.Contains(t, cabiSrc, "//export "+getSig)
		require.Contains(t, cabiSrc, "//export "+setSig)
	}
}

func TestGenerateCABIHandlesEveryKind(t *testing.T) {
	table := testTable(t)
	cabiSrc, err := GenerateCABI(table)
	require.NoError(t, err)

	require.Contains(t, cabiSrc, "package cabi")
	require.Contains(t, cabiSrc, "C.GoString(in)") // string setter
	require.Contains(t, cabiSrc, "C.GoBytes(")     // blob setter
	require.Contains(t, cabiSrc, "in != 0")        // bool setter
	require.True(t, strings.Contains(cabiSrc, "\"unsafe\""), "blob field should pull in unsafe")
}
