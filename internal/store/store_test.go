package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paramhub/paramhub/internal/ptype"
	"github.com/paramhub/paramhub/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	f := &schema.File{
		Messages: []schema.Message{
			{
				Name: "image_acquisition",
				Fields: []schema.Field{
					{
						Name: "image_width", Kind: "int32", Default: 256,
						Validation: &schema.Validation{Mode: "range", Min: 256, Max: 2048},
					},
					{
						Name: "resolution", Kind: "int32", Default: 256,
						Validation: &schema.Validation{Mode: "allowed_values", Allowed: []any{256, 512, 1024}},
					},
				},
			},
			{
				Name: "device",
				Fields: []schema.Field{
					{Name: "serial_number", Kind: "string", Default: ""},
					{Name: "locked", Kind: "bool", Default: false, IsConst: true},
					{Name: "status", Kind: "string", Default: "idle", Runtime: true},
				},
			},
		},
	}
	table, err := schema.Compile(f)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return schema.NewRegistry(table)
}

func openTestStore(t *testing.T, reg *schema.Registry) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, reg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustID(t *testing.T, reg *schema.Registry, qn string) int {
	t.Helper()
	d, err := reg.DescriptorByName(qn)
	if err != nil {
		t.Fatalf("DescriptorByName(%s): %v", qn, err)
	}
	return d.ID
}

func TestDefaultAbsence(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)

	empty, err := s.Empty(ctx)
	if err != nil || !empty {
		t.Fatalf("Empty: %v %v", empty, err)
	}

	for _, d := range reg.All() {
		v, err := s.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("Get(%s): %v", d.QualifiedName(), err)
		}
		if !v.Equal(d.Default) {
			t.Errorf("%s: got %+v, want default %+v", d.QualifiedName(), v, d.Default)
		}
	}
}

func TestRangeValidation_S1(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)
	id := mustID(t, reg, "image_acquisition@image_width")

	if err := s.Set(ctx, id, ptype.Int32Value(256)); err != nil {
		t.Fatalf("set 256: %v", err)
	}
	empty, _ := s.Empty(ctx)
	if !empty {
		t.Error("default-valued set must not create a row")
	}

	if err := s.Set(ctx, id, ptype.Int32Value(2048)); err != nil {
		t.Fatalf("set 2048: %v", err)
	}
	empty, _ = s.Empty(ctx)
	if empty {
		t.Error("non-default set must create a row")
	}

	if err := s.Set(ctx, id, ptype.Int32Value(255)); ptype.KindOf(err) != ptype.OutOfRange {
		t.Fatalf("set 255: want OutOfRange, got %v", err)
	}
	v, _ := s.Get(ctx, id)
	if v.I32 != 2048 {
		t.Errorf("value after rejected set: got %d, want 2048", v.I32)
	}

	if err := s.Set(ctx, id, ptype.Int32Value(2049)); ptype.KindOf(err) != ptype.OutOfRange {
		t.Fatalf("set 2049: want OutOfRange, got %v", err)
	}
}

func TestAllowedValues_S2(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)
	id := mustID(t, reg, "image_acquisition@resolution")

	if err := s.Set(ctx, id, ptype.Int32Value(512)); err != nil {
		t.Fatalf("set 512: %v", err)
	}
	if err := s.Set(ctx, id, ptype.Int32Value(300)); ptype.KindOf(err) != ptype.NotAllowed {
		t.Fatalf("set 300: want NotAllowed, got %v", err)
	}
	v, _ := s.Get(ctx, id)
	if v.I32 != 512 {
		t.Errorf("got %d, want 512", v.I32)
	}
}

func TestConstImmutability(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)
	id := mustID(t, reg, "device@locked")

	if err := s.Set(ctx, id, ptype.BoolValue(true)); ptype.KindOf(err) != ptype.ConstParameter {
		t.Fatalf("want ConstParameter, got %v", err)
	}
	v, _ := s.Get(ctx, id)
	if v.B != false {
		t.Error("const parameter must keep its default")
	}
}

func TestNonDefaultOnlyStorage(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)
	widthID := mustID(t, reg, "image_acquisition@image_width")
	serialID := mustID(t, reg, "device@serial_number")

	s.Set(ctx, widthID, ptype.Int32Value(1024))
	s.Set(ctx, serialID, ptype.StringValue("ABC-123"))

	rows, err := s.allRows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}

	s.Set(ctx, widthID, ptype.Int32Value(256)) // restore default
	rows, _ = s.allRows(ctx)
	if len(rows) != 1 {
		t.Fatalf("want 1 row after restoring default, got %d", len(rows))
	}
}

func TestSaveRestore_S4(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	working := openTestStore(t, reg)
	backup := openTestStore(t, reg)

	serialID := mustID(t, reg, "device@serial_number")
	statusID := mustID(t, reg, "device@status")

	working.Set(ctx, serialID, ptype.StringValue("ABC-123"))
	working.Set(ctx, statusID, ptype.StringValue("ready"))

	if err := working.Save(ctx, backup); err != nil {
		t.Fatalf("Save: %v", err)
	}

	working.Set(ctx, serialID, ptype.StringValue("CHANGED"))
	working.Set(ctx, statusID, ptype.StringValue("busy"))

	if err := working.Restore(ctx, backup); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	v, _ := working.Get(ctx, serialID)
	if v.Str != "ABC-123" {
		t.Errorf("serial_number after restore: got %q, want ABC-123", v.Str)
	}

	// status is runtime: restore must not touch it.
	v, _ = working.Get(ctx, statusID)
	if v.Str != "busy" {
		t.Errorf("runtime status after restore: got %q, want busy (untouched)", v.Str)
	}
}

func TestRestore_FullReplacement_Property9(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	working := openTestStore(t, reg)
	backup := openTestStore(t, reg)

	widthID := mustID(t, reg, "image_acquisition@image_width")
	serialID := mustID(t, reg, "device@serial_number")

	// image_width is at its default (256) when Save runs, so backup gets
	// no row for it at all.
	working.Set(ctx, serialID, ptype.StringValue("ABC-123"))
	if err := working.Save(ctx, backup); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// mutate_all(): image_width moves away from default after the save.
	if err := working.Set(ctx, widthID, ptype.Int32Value(2048)); err != nil {
		t.Fatalf("set 2048: %v", err)
	}

	if err := working.Restore(ctx, backup); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	v, _ := working.Get(ctx, widthID)
	if v.I32 != 256 {
		t.Errorf("image_width after restore: got %d, want default 256 (key-matching upsert would leave 2048)", v.I32)
	}
	v, _ = working.Get(ctx, serialID)
	if v.Str != "ABC-123" {
		t.Errorf("serial_number after restore: got %q, want ABC-123", v.Str)
	}
}

func TestFactoryReset_S5(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)

	widthID := mustID(t, reg, "image_acquisition@image_width")
	s.Set(ctx, widthID, ptype.Int32Value(1024))

	gen0, _ := s.Generation(ctx)
	if err := s.FactoryReset(ctx); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}

	empty, _ := s.Empty(ctx)
	if !empty {
		t.Error("factory_reset must leave no rows")
	}
	v, _ := s.Get(ctx, widthID)
	if v.I32 != 256 {
		t.Errorf("got %d, want default 256", v.I32)
	}
	gen1, _ := s.Generation(ctx)
	if gen1 <= gen0 {
		t.Errorf("generation must advance: %d -> %d", gen0, gen1)
	}
}

func TestChangedSinceOrdering(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := openTestStore(t, reg)

	widthID := mustID(t, reg, "image_acquisition@image_width")
	serialID := mustID(t, reg, "device@serial_number")

	tick := int64(1000)
	s.now = func() int64 { tick++; return tick }

	s.Set(ctx, widthID, ptype.Int32Value(300))
	s.Set(ctx, serialID, ptype.StringValue("X"))

	changes, err := s.ChangedSince(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("want 2 changes, got %d", len(changes))
	}
	if changes[0].ID != widthID || changes[1].ID != serialID {
		t.Errorf("changes not ordered by timestamp: %+v", changes)
	}
}
