// Package ids interns external string identifiers into dense, process-wide
// integer handles, one registry per entity kind (node, link, person, vehicle,
// vehicle type).
package ids

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
)

// ID is an opaque dense handle with a type tag. Two IDs are equal iff their
// Kind and index agree; comparison and hashing are both constant-time field
// comparisons.
type ID struct {
	Kind  Kind
	index uint32
}

// String renders the handle itself (kind:index), not the external name —
// callers that need the original string must resolve it through the owning
// Registry's ByHandle.
func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.index)
}

// Kind tags which registry an ID belongs to.
type Kind uint8

const (
	KindNode Kind = iota
	KindLink
	KindPerson
	KindVehicle
	KindVehicleType
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindLink:
		return "link"
	case KindPerson:
		return "person"
	case KindVehicle:
		return "vehicle"
	case KindVehicleType:
		return "vehicle-type"
	default:
		return "unknown"
	}
}

// Registry interns external names into dense handles for exactly one Kind.
// All writes are expected to happen at load time, before worker threads
// start; subsequent reads never mutate the map and need no lock, but the
// mutex is kept so Create remains safe if new entities appear mid-run
// (e.g. vehicles spawned from an activity).
type Registry struct {
	kind  Kind
	mu    sync.RWMutex
	byStr map[string]ID
	names []string
}

// NewRegistry constructs an empty registry for the given kind.
func NewRegistry(kind Kind) *Registry {
	return &Registry{
		kind:  kind,
		byStr: make(map[string]ID),
	}
}

// Create interns name, returning the existing handle if name was already
// registered (idempotent by external name).
func (r *Registry) Create(name string) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byStr[name]; ok {
		return id
	}
	id := ID{Kind: r.kind, index: uint32(len(r.names))}
	r.names = append(r.names, name)
	r.byStr[name] = id
	return id
}

// Get returns the handle for name, panicking if it was never created. Use
// this for lookups that must already have happened at load time.
func (r *Registry) Get(name string) ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byStr[name]
	if !ok {
		panic(fmt.Sprintf("ids: %s registry has no entry named %q", r.kind, name))
	}
	return id
}

// Lookup is the non-panicking counterpart of Get.
func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byStr[name]
	return id, ok
}

// ByHandle retrieves the external name for a previously created ID.
func (r *Registry) ByHandle(id ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id.Kind != r.kind || int(id.index) >= len(r.names) {
		panic(fmt.Sprintf("ids: handle %v is not a valid %s handle", id, r.kind))
	}
	return r.names[id.index]
}

// ByHandleOrBlank is the non-panicking counterpart of ByHandle, returning ""
// for a handle from a different kind or registry.
func (r *Registry) ByHandleOrBlank(id ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id.Kind != r.kind || int(id.index) >= len(r.names) {
		return ""
	}
	return r.names[id.index]
}

// Len reports how many entries have been interned.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// gobRegistry is the on-disk shape for one Registry, used by Dump/Load below.
type gobRegistry struct {
	Kind  Kind
	Names []string
}

// Dump persists every kind's registry to w in one gob stream, so handle
// assignment is reproducible across runs and across partitions.
func Dump(w io.Writer, registries map[Kind]*Registry) error {
	bw := bufio.NewWriter(w)
	enc := gob.NewEncoder(bw)
	ordered := make([]gobRegistry, 0, len(registries))
	for k, r := range registries {
		r.mu.RLock()
		names := append([]string(nil), r.names...)
		r.mu.RUnlock()
		ordered = append(ordered, gobRegistry{Kind: k, Names: names})
	}
	if err := enc.Encode(ordered); err != nil {
		return fmt.Errorf("ids: dump registries: %w", err)
	}
	return bw.Flush()
}

// Load rebuilds the full set of per-kind registries from a stream written by
// Dump, preserving handle assignment.
func Load(r io.Reader) (map[Kind]*Registry, error) {
	dec := gob.NewDecoder(bufio.NewReader(r))
	var ordered []gobRegistry
	if err := dec.Decode(&ordered); err != nil {
		return nil, fmt.Errorf("ids: load registries: %w", err)
	}
	out := make(map[Kind]*Registry, len(ordered))
	for _, gr := range ordered {
		reg := NewRegistry(gr.Kind)
		reg.names = append(reg.names, gr.Names...)
		for i, name := range reg.names {
			reg.byStr[name] = ID{Kind: gr.Kind, index: uint32(i)}
		}
		out[gr.Kind] = reg
	}
	return out, nil
}
