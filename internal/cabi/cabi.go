// Package cabi implements the C-ABI façade of spec.md §4.F: a flat,
// cgo-exported function surface wrapping internal/instance behind an opaque
// handle, so the parameters compiled from a schema file are reachable from
// C and any language with a C FFI.
//
// No repo in this codebase's dependency pack uses cgo — a C-ABI façade is,
// by definition, something only the Go compiler and the cgo tool itself can
// provide; there is no third-party library that substitutes for "export
// this Go function under the C calling convention" (see DESIGN.md).
// Everything downstream of the cgo boundary — validation, storage,
// notification, dispatch — is the same internal/instance code the Go and
// RPC façades use.
package cabi

/*
#include <stdint.h>

typedef void (*paramhub_callback_t)(int32_t id, void *user_arg);

static inline void call_paramhub_callback(paramhub_callback_t fn, int32_t id, void *user_arg) {
	fn(id, user_arg);
}
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/paramhub/paramhub/internal/instance"
	"github.com/paramhub/paramhub/internal/ptype"
	"github.com/paramhub/paramhub/internal/schema"
)

// handles maps the opaque int32 handle values returned to C callers onto
// live *instance.Instance values, since cgo cannot pass a Go pointer back
// into C and have it travel safely through foreign code (spec.md §4.F's
// "no Go pointers cross the boundary").
var (
	handlesMu sync.Mutex
	handles   = map[int32]*instance.Instance{}
	nextID    int32
)

func statusOf(err error) C.int {
	return C.int(ptype.KindOf(err))
}

func register(inst *instance.Instance) int32 {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	nextID++
	handles[nextID] = inst
	return nextID
}

func lookup(h C.int32_t) (*instance.Instance, bool) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	inst, ok := handles[int32(h)]
	return inst, ok
}

func release(h C.int32_t) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	delete(handles, int32(h))
}

// registryFor is overridden in tests; production callers supply the
// schema.Registry compiled from their generated parameter table at link
// time, since cgo builds cannot import a caller-specific generated package
// from within this one.
var registryFor func(schemaPath string) (*schema.Registry, error)

//export paramhub_init
func paramhub_init(workingPath, backupPath, defaultAssetsPath, schemaPath *C.char, out *C.int32_t) C.int {
	if registryFor == nil {
		return C.int(ptype.Internal)
	}
	reg, err := registryFor(C.GoString(schemaPath))
	if err != nil {
		return statusOf(err)
	}

	opts := instance.Options{
		WorkingPath:       C.GoString(workingPath),
		DefaultAssetsPath: C.GoString(defaultAssetsPath),
	}
	if backupPath != nil {
		opts.BackupPath = C.GoString(backupPath)
	}

	inst, err := instance.Open(reg, opts)
	if err != nil {
		return statusOf(err)
	}
	if err := inst.Start(context.Background()); err != nil {
		inst.Close()
		return statusOf(err)
	}

	*out = C.int32_t(register(inst))
	return C.int(ptype.Ok)
}

//export paramhub_close
func paramhub_close(h C.int32_t) {
	inst, ok := lookup(h)
	if !ok {
		return
	}
	inst.Close()
	release(h)
}

//export paramhub_save
func paramhub_save(h C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(inst.Save(context.Background()))
}

//export paramhub_restore
func paramhub_restore(h C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(inst.Restore(context.Background()))
}

//export paramhub_factory_reset
func paramhub_factory_reset(h C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(inst.FactoryReset(context.Background()))
}

//export paramhub_set_up_timer_poll
func paramhub_set_up_timer_poll(h C.int32_t, intervalMS C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(inst.SetUpTimerPoll(context.Background(), int(intervalMS)))
}

//export paramhub_update_poll
func paramhub_update_poll(h C.int32_t) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}
	return statusOf(inst.UpdatePoll(context.Background()))
}

// trampolines holds the C function pointer and user_arg for every
// registered callback keyed by (handle, id), since cgo callbacks must be
// invoked through a single exported Go trampoline rather than a stored
// function value.
type trampolineKey struct {
	handle int32
	id     int32
}

type cCallback struct {
	fn      C.paramhub_callback_t
	userArg unsafe.Pointer
}

var (
	trampolinesMu sync.Mutex
	trampolines   = map[trampolineKey]cCallback{}
)

//export paramhub_add_callback
func paramhub_add_callback(h C.int32_t, id C.int32_t, fn C.paramhub_callback_t, userArg unsafe.Pointer) C.int {
	inst, ok := lookup(h)
	if !ok {
		return C.int(ptype.InvalidState)
	}

	key := trampolineKey{handle: int32(h), id: int32(id)}
	trampolinesMu.Lock()
	trampolines[key] = cCallback{fn: fn, userArg: userArg}
	trampolinesMu.Unlock()

	err := inst.AddCallback(int(id), key, func(paramID int, _ any) {
		trampolinesMu.Lock()
		cb, ok := trampolines[key]
		trampolinesMu.Unlock()
		if !ok {
			return
		}
		invokeCCallback(cb.fn, C.int32_t(paramID), cb.userArg)
	})
	if err != nil {
		return statusOf(err)
	}
	return C.int(ptype.Ok)
}

func invokeCCallback(fn C.paramhub_callback_t, id C.int32_t, userArg unsafe.Pointer) {
	if fn == nil {
		return
	}
	C.call_paramhub_callback(fn, id, userArg)
}

// copyCString writes s into a caller-owned C buffer, NUL-terminated and
// truncated to fit, the way the generated per-field string getters in
// params_gen_cabi.go report a value back across the boundary.
func copyCString(out *C.char, outLen C.int32_t, s string) {
	if out == nil || outLen <= 0 {
		return
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(out)), int(outLen))
	n := copy(buf, s)
	if n >= int(outLen) {
		n = int(outLen) - 1
	}
	buf[n] = 0
}

// copyCBytes writes b into a caller-owned C buffer, truncated to fit, and
// returns the number of bytes actually copied.
func copyCBytes(out *C.uint8_t, outLen C.int32_t, b []byte) int {
	if out == nil || outLen <= 0 {
		return 0
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(out)), int(outLen))
	return copy(buf, b)
}

func boolToCInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
