// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import "context"

// Adapter is the operation set every backend (GDB remote stub, LLDB remote
// stub, Windows DbgEng) realizes. It is the single contract the rest of the
// system programs against; callers hold it as an opaque interface value,
// never a concrete backend type.
type Adapter interface {
	// Session establishment.
	Execute(ctx context.Context, path string, cfg LaunchConfig) (bool, error)
	ExecuteWithArgs(ctx context.Context, path string, args []string, cfg LaunchConfig) (bool, error)
	Attach(ctx context.Context, pid uint32) (bool, error)
	Connect(ctx context.Context, host string, port uint16) (bool, error)
	Detach(ctx context.Context) error
	Quit(ctx context.Context) error

	// Execution control.
	Go(ctx context.Context) (StopReason, error)
	StepInto(ctx context.Context) (StopReason, error)
	StepOver(ctx context.Context) (StopReason, error)
	BreakInto() error

	// Threads.
	ThreadList(ctx context.Context) ([]Thread, error)
	ActiveThread() Thread
	SetActiveThread(Thread) error

	// Registers.
	ReadRegister(ctx context.Context, name string) (Register, error)
	WriteRegister(ctx context.Context, name string, value uint64) error
	RegisterList(ctx context.Context) ([]string, error)

	// Memory.
	ReadMemory(ctx context.Context, addr uint64, size int) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint64, data []byte) error

	// Breakpoints.
	AddBreakpoint(ctx context.Context, addr uint64) (Breakpoint, error)
	RemoveBreakpoint(ctx context.Context, addr uint64) error
	BreakpointList() []Breakpoint

	// Modules.
	ModuleList(ctx context.Context) ([]Module, error)

	// Introspection.
	TargetArchitecture() (string, error)
	Supports(Capability) bool
}
