// Package schema implements the build-time compiler of spec.md §4.A: it
// turns a user-authored YAML interface description into a flat, ordered
// parameter table plus (via Generate, in generate.go) typed Go accessors
// and a C header.
//
// The root of a schema file always describes the well-known `Configuration`
// message; its immediate fields are groups (themselves messages), and each
// group's leaf fields are parameters. Nesting beyond that one level is
// rejected — sub-message parameters are out of scope (spec.md §1).
package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/paramhub/paramhub/internal/ptype"
)

// File is the raw YAML shape of a schema file. The root message is always
// named Configuration implicitly; Messages lists its immediate fields
// (the groups) in declaration order, which doubles as discovery order for
// ID assignment.
type File struct {
	Messages []Message `yaml:"messages"`
}

// Message is one group: the enclosing message's fields become parameters.
type Message struct {
	Name    string  `yaml:"name"`
	Comment string  `yaml:"comment"`
	Fields  []Field `yaml:"fields"`
}

// Field is one parameter, in the field-option-rich shape of spec.md §6.1.
type Field struct {
	Name          string     `yaml:"name"`
	Kind          string     `yaml:"kind"`
	Default       any        `yaml:"default"`
	DefaultPath   string     `yaml:"default_path"` // blob only
	Title         string     `yaml:"title"`
	Comment       string     `yaml:"comment"`
	Tags          []string   `yaml:"tags"`
	Validation    *Validation `yaml:"validation"`
	IsConst       bool       `yaml:"is_const"`
	Runtime       bool       `yaml:"runtime"`
	ReadOnly      bool       `yaml:"readonly"`
	Internal      bool       `yaml:"internal"`
	WriteOnly     bool       `yaml:"writeonly"`
}

// Validation mirrors the `validation` field option. Mode is one of "none"
// (the default when the field is omitted entirely), "range",
// "allowed_values" or "custom_callback".
type Validation struct {
	Mode           string `yaml:"mode"`
	Min            any    `yaml:"min"`
	Max            any    `yaml:"max"`
	Allowed        []any  `yaml:"allowed_values"`
	CustomCallback string `yaml:"custom_callback"`
}

// Load reads and parses a schema file from path. It does not validate the
// invariants of spec.md §3.1 — call Compile for that.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return &f, nil
}

// normalizeName lowercases and underscore-separates a name, per the
// "names are normalised to lowercase underscore form for uniqueness" rule
// of spec.md §4.A.
func normalizeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ToLower(s)
}

var kindAliases = map[string]ptype.Kind{
	"bool":        ptype.KindBool,
	"int32":       ptype.KindInt32,
	"uint32":      ptype.KindUint32,
	"int64":       ptype.KindInt64,
	"uint64":      ptype.KindUint64,
	"float32":     ptype.KindFloat32,
	"float64":     ptype.KindFloat64,
	"string":      ptype.KindString,
	"path":        ptype.KindPath,
	"blob":        ptype.KindBlob,
	"custom_enum": ptype.KindCustomEnum,
}
