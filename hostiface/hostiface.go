// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostiface declares the narrow interfaces this module consumes
// from the host binary-analysis framework it is embedded in. The framework
// itself (symbol tables, section maps, a GUI) is out of scope; these types
// let a host describe its own BinaryView, architecture table, and
// platform-to-adapter mapping, mirroring how golang-debug's
// arch.Architecture is consumed by value rather than owned by the debugger
// core. adapter.Registry and package stepover do not consult ArchRegistry
// or PlatformRegistry themselves: the registry's predicates take an
// adapter.BinaryView, and stepover.Do takes its disasm.Disassembler as an
// argument.
package hostiface

import (
	"fmt"
	"sync"

	"nativedbg/adapter"
	"nativedbg/disasm"
)

// BinaryView is the full host-side view of a loaded binary. It embeds
// adapter.BinaryView (the minimal slice the registry's selection
// predicates need) so a host can satisfy both with one type.
type BinaryView interface {
	adapter.BinaryView
}

// ArchRegistry looks up the disassembler for a given architecture name
// (e.g. "x86", "x86_64", "arm64"), the same role golang-debug's per-arch
// arch.Architecture values play for pointer size and byte order.
type ArchRegistry struct {
	mu  sync.RWMutex
	byArch map[string]disasm.Disassembler
}

// NewArchRegistry returns an empty registry.
func NewArchRegistry() *ArchRegistry {
	return &ArchRegistry{byArch: make(map[string]disasm.Disassembler)}
}

// Register associates a disassembler with an architecture name.
func (r *ArchRegistry) Register(arch string, d disasm.Disassembler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byArch[arch] = d
}

// DisassemblerFor returns the registered disassembler for arch, if any.
func (r *ArchRegistry) DisassemblerFor(arch string) (disasm.Disassembler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byArch[arch]
	return d, ok
}

// DefaultArchRegistry is pre-populated with the one disassembler this
// module ships: x86/x86_64 via golang.org/x/arch. A host with ARM or other
// targets registers additional entries at startup.
var DefaultArchRegistry = func() *ArchRegistry {
	r := NewArchRegistry()
	r.Register("x86", disasm.X86{})
	r.Register("x86_64", disasm.X86{})
	r.Register("i386", disasm.X86{})
	return r
}()

// PlatformKey formats the <os>-<arch> key PlatformRegistry is indexed by.
func PlatformKey(goos, arch string) string {
	return fmt.Sprintf("%s-%s", goos, arch)
}

// PlatformRegistry maps a host "<os>-<arch>" key to the preferred adapter
// name for that platform. adapter.Registry.DefaultName does not read it; a
// host that wants a per-platform choice looks the key up here and passes
// the name to adapter.Registry.New itself.
type PlatformRegistry struct {
	mu   sync.RWMutex
	byKey map[string]string
}

// NewPlatformRegistry returns an empty registry.
func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{byKey: make(map[string]string)}
}

// Register sets the preferred adapter name for the given "<os>-<arch>" key.
func (r *PlatformRegistry) Register(key, adapterName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = adapterName
}

// PreferredAdapter returns the adapter name registered for key, if any.
func (r *PlatformRegistry) PreferredAdapter(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byKey[key]
	return name, ok
}
