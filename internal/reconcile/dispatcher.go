// Package reconcile implements the change-callback dispatcher and the two
// reconciliation paths (multicast-hinted and timer-polled) of spec.md §4.E.
//
// Dispatcher is grounded on the teacher's ModuleManager
// (internal/core/modules.go): a map keyed by an event identifier to a
// priority-ordered list of handlers, invoked sequentially with per-handler
// panic and error isolation logged rather than propagated. Here the key is
// a parameter ID instead of an event name, and registration replaces by
// (id, user_arg) instead of appending, per spec.md §4.E's
// "re-registering the same (id, user_arg) pair replaces the existing
// callback" rule.
package reconcile

import (
	"fmt"
	"log/slog"
	"sync"
)

// Callback is invoked when a parameter's value changes. id is the parameter
// whose value changed; userArg is whatever opaque value was passed to
// AddCallback at registration time.
type Callback func(id int, userArg any)

type registration struct {
	userArg any
	fn      Callback
}

// Dispatcher holds the callback table and runs callbacks sequentially,
// isolating each from the others' panics and errors (spec.md §4.E:
// "a callback that panics or blocks must not prevent other callbacks for
// other parameters from running").
type Dispatcher struct {
	mu    sync.RWMutex
	byID  map[int][]*registration
	index map[int]map[any]*registration // id -> userArg -> registration, for replace-on-reregister

	log *slog.Logger
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		byID:  make(map[int][]*registration),
		index: make(map[int]map[any]*registration),
		log:   log.With("component", "dispatcher"),
	}
}

// Register adds or replaces the callback for (id, userArg).
func (d *Dispatcher) Register(id int, userArg any, fn Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index[id] == nil {
		d.index[id] = make(map[any]*registration)
	}
	if existing, ok := d.index[id][userArg]; ok {
		existing.fn = fn
		return
	}

	reg := &registration{userArg: userArg, fn: fn}
	d.index[id][userArg] = reg
	d.byID[id] = append(d.byID[id], reg)
}

// Remove deregisters the callback for (id, userArg), if any.
func (d *Dispatcher) Remove(id int, userArg any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.index[id][userArg]
	if !ok {
		return
	}
	delete(d.index[id], userArg)

	regs := d.byID[id]
	for i, r := range regs {
		if r == target {
			d.byID[id] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
}

// Dispatch runs every callback registered for id, in registration order,
// each isolated from the others by a recover. Dispatch never returns an
// error: a misbehaving callback is logged and skipped, matching the
// teacher's logDebug-and-continue handling of a failing hook.
func (d *Dispatcher) Dispatch(id int) {
	d.mu.RLock()
	regs := append([]*registration(nil), d.byID[id]...)
	d.mu.RUnlock()

	for _, r := range regs {
		d.invoke(id, r)
	}
}

func (d *Dispatcher) invoke(id int, r *registration) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("callback panicked", "id", id, "panic", fmt.Sprint(rec))
		}
	}()
	r.fn(id, r.userArg)
}

// HasCallbacks reports whether any callback is registered for id, so the
// reconciler can skip dispatch work for parameters nobody is watching.
func (d *Dispatcher) HasCallbacks(id int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID[id]) > 0
}

// watchedIDs returns every parameter ID with at least one registered
// callback, for the generation-bump re-dispatch path.
func (d *Dispatcher) watchedIDs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int, 0, len(d.byID))
	for id, regs := range d.byID {
		if len(regs) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
