package schema

import (
	"fmt"
	"sync"

	"github.com/paramhub/paramhub/internal/ptype"
)

// Registry is the runtime-side view of a compiled Table: a descriptor
// lookup keyed by ID and by qualified name, safe for concurrent readers.
// It mirrors the hot-reloadable registry pattern used elsewhere in this
// codebase for small, rarely-changing lookup tables, but a Table itself
// never changes after compilation — Reload exists only so a long-lived
// process can pick up a freshly regenerated table without restarting.
type Registry struct {
	mu    sync.RWMutex
	table *Table
}

// NewRegistry wraps a compiled Table.
func NewRegistry(t *Table) *Registry {
	return &Registry{table: t}
}

// Reload swaps in a newly compiled Table atomically.
func (r *Registry) Reload(t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = t
}

// Descriptor looks up a parameter by ID.
func (r *Registry) Descriptor(id int) (ptype.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.table.ByID(id)
	if !ok {
		return ptype.Descriptor{}, ptype.NewError("Descriptor", ptype.NotFound, fmt.Errorf("parameter id %d", id))
	}
	return d, nil
}

// DescriptorByName looks up a parameter by its "{group}@{name}" key.
func (r *Registry) DescriptorByName(qualifiedName string) (ptype.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.table.ByQualifiedName(qualifiedName)
	if !ok {
		return ptype.Descriptor{}, ptype.NewError("DescriptorByName", ptype.NotFound, fmt.Errorf("parameter %q", qualifiedName))
	}
	return d, nil
}

// All returns every descriptor, ordered by ID.
func (r *Registry) All() []ptype.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ptype.Descriptor, len(r.table.Descriptors))
	copy(out, r.table.Descriptors)
	return out
}

// NonRuntimeKeys returns the qualified names of every non-runtime
// parameter, the set Save/Restore copy between working and backup.
func (r *Registry) NonRuntimeKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for _, d := range r.table.Descriptors {
		if d.Flags.Runtime {
			continue
		}
		keys = append(keys, d.QualifiedName())
	}
	return keys
}

// Len returns the number of compiled parameters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table.Descriptors)
}
