package instance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

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
				},
			},
			{
				Name: "device",
				Fields: []schema.Field{
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

func openTestInstance(t *testing.T, withBackup bool) *Instance {
	t.Helper()
	reg := testRegistry(t)
	opts := Options{WorkingPath: filepath.Join(t.TempDir(), "working.db")}
	if withBackup {
		opts.BackupPath = filepath.Join(t.TempDir(), "backup.db")
	}
	inst, err := Open(reg, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestSetFiresCallbackSynchronously(t *testing.T) {
	inst := openTestInstance(t, false)
	d, err := inst.Registry.DescriptorByName("image_acquisition@image_width")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var gotID int
	fired := false
	inst.AddCallback(d.ID, nil, func(id int, userArg any) {
		mu.Lock()
		defer mu.Unlock()
		gotID, fired = id, true
	})

	if err := SetInt32(inst, d.ID, 1024); err != nil {
		t.Fatalf("SetInt32: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !fired || gotID != d.ID {
		t.Errorf("callback did not fire for id %d: fired=%v got=%d", d.ID, fired, gotID)
	}
}

func TestSetToDefaultDoesNotSkipCallback(t *testing.T) {
	inst := openTestInstance(t, false)
	d, _ := inst.Registry.DescriptorByName("image_acquisition@image_width")

	calls := 0
	inst.AddCallback(d.ID, nil, func(id int, userArg any) { calls++ })

	SetInt32(inst, d.ID, 1024)
	SetInt32(inst, d.ID, 256) // back to default

	if calls != 2 {
		t.Errorf("want 2 callback firings, got %d", calls)
	}
}

func TestFactoryResetFiresWatchedCallbacks(t *testing.T) {
	inst := openTestInstance(t, false)
	d, _ := inst.Registry.DescriptorByName("image_acquisition@image_width")

	calls := 0
	inst.AddCallback(d.ID, nil, func(id int, userArg any) { calls++ })
	SetInt32(inst, d.ID, 1024)
	calls = 0

	if err := inst.FactoryReset(context.Background()); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}
	if calls != 1 {
		t.Errorf("want factory reset to re-dispatch watched callbacks, got %d calls", calls)
	}
	v, _ := GetInt32(inst, d.ID)
	if v != 256 {
		t.Errorf("got %d, want default 256", v)
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	inst := openTestInstance(t, true)
	d, _ := inst.Registry.DescriptorByName("image_acquisition@image_width")

	SetInt32(inst, d.ID, 512)
	if err := inst.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	SetInt32(inst, d.ID, 1024)
	if err := inst.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	v, _ := GetInt32(inst, d.ID)
	if v != 512 {
		t.Errorf("got %d, want 512 after restore", v)
	}
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	inst := openTestInstance(t, false)
	if err := inst.Restore(context.Background()); err == nil {
		t.Error("Restore without a backup database must fail")
	}
}
