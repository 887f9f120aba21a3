// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stepover

import (
	"context"
	"fmt"
	"testing"

	"nativedbg/adapter"
	"nativedbg/disasm"
)

// fakeAdapter is a minimal adapter.Adapter double recording the calls the
// step-over algorithm makes, enough to drive the two scenarios in spec.md §8.
type fakeAdapter struct {
	arch string
	ip   uint64
	code []byte

	stepIntoCalls int
	addedBP       uint64
	removedBP     uint64
	wentOnce      bool

	// failAddBreakpoint, when non-nil, is returned by AddBreakpoint instead
	// of installing a breakpoint, simulating an unmapped fall-through
	// address.
	failAddBreakpoint error
}

var _ adapter.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Execute(context.Context, string, adapter.LaunchConfig) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) ExecuteWithArgs(context.Context, string, []string, adapter.LaunchConfig) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) Attach(context.Context, uint32) (bool, error)          { return true, nil }
func (f *fakeAdapter) Connect(context.Context, string, uint16) (bool, error) { return true, nil }
func (f *fakeAdapter) Detach(context.Context) error                         { return nil }
func (f *fakeAdapter) Quit(context.Context) error                           { return nil }

func (f *fakeAdapter) Go(context.Context) (adapter.StopReason, error) {
	f.wentOnce = true
	return adapter.StopReason{Kind: adapter.StopBreakpoint, Address: f.addedBP}, nil
}
func (f *fakeAdapter) StepInto(context.Context) (adapter.StopReason, error) {
	f.stepIntoCalls++
	return adapter.StopReason{Kind: adapter.StopSingleStep}, nil
}
func (f *fakeAdapter) StepOver(ctx context.Context) (adapter.StopReason, error) {
	return Do(ctx, f, disasm.X86{})
}
func (f *fakeAdapter) BreakInto() error { return nil }

func (f *fakeAdapter) ThreadList(context.Context) ([]adapter.Thread, error) { return nil, nil }
func (f *fakeAdapter) ActiveThread() adapter.Thread                        { return adapter.Thread{} }
func (f *fakeAdapter) SetActiveThread(adapter.Thread) error                { return nil }

func (f *fakeAdapter) ReadRegister(_ context.Context, name string) (adapter.Register, error) {
	if name == "rip" || name == "eip" {
		return adapter.Register{Name: name, Value: f.ip, BitWidth: 64}, nil
	}
	return adapter.Register{}, nil
}
func (f *fakeAdapter) WriteRegister(context.Context, string, uint64) error { return nil }
func (f *fakeAdapter) RegisterList(context.Context) ([]string, error)     { return nil, nil }

func (f *fakeAdapter) ReadMemory(_ context.Context, addr uint64, size int) ([]byte, error) {
	if addr != f.ip {
		return nil, nil
	}
	if size > len(f.code) {
		size = len(f.code)
	}
	return f.code[:size], nil
}
func (f *fakeAdapter) WriteMemory(context.Context, uint64, []byte) error { return nil }

func (f *fakeAdapter) AddBreakpoint(_ context.Context, addr uint64) (adapter.Breakpoint, error) {
	if f.failAddBreakpoint != nil {
		return adapter.Breakpoint{}, f.failAddBreakpoint
	}
	f.addedBP = addr
	return adapter.Breakpoint{Address: addr, ID: 1, Active: true}, nil
}
func (f *fakeAdapter) RemoveBreakpoint(_ context.Context, addr uint64) error {
	f.removedBP = addr
	return nil
}
func (f *fakeAdapter) BreakpointList() []adapter.Breakpoint { return nil }

func (f *fakeAdapter) ModuleList(context.Context) ([]adapter.Module, error) { return nil, nil }

func (f *fakeAdapter) TargetArchitecture() (string, error) { return f.arch, nil }
func (f *fakeAdapter) Supports(adapter.Capability) bool     { return true }

// TestDoSingleStepsOverNonCall reproduces spec.md §8: a NOP at the IP means
// step-over behaves like a plain single-step, never touching breakpoints.
func TestDoSingleStepsOverNonCall(t *testing.T) {
	f := &fakeAdapter{arch: "x86-64", ip: 0x400000, code: []byte{0x90, 0, 0, 0, 0, 0, 0, 0}}
	reason, err := Do(context.Background(), f, disasm.X86{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if f.stepIntoCalls != 1 {
		t.Fatalf("stepIntoCalls = %d, want 1", f.stepIntoCalls)
	}
	if f.wentOnce {
		t.Fatal("Go should not be called for a non-call instruction")
	}
	if reason.Kind != adapter.StopSingleStep {
		t.Fatalf("reason.Kind = %v, want StopSingleStep", reason.Kind)
	}
}

// TestDoBreaksPastCall reproduces spec.md §8: a 5-byte CALL at 0x400000
// means an ephemeral breakpoint is planted at 0x400005, Go() is used to run
// to it, and the breakpoint is removed afterward.
func TestDoBreaksPastCall(t *testing.T) {
	f := &fakeAdapter{arch: "x86-64", ip: 0x400000, code: []byte{0xE8, 0, 0, 0, 0, 0, 0, 0}}
	reason, err := Do(context.Background(), f, disasm.X86{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if f.stepIntoCalls != 0 {
		t.Fatalf("stepIntoCalls = %d, want 0", f.stepIntoCalls)
	}
	if !f.wentOnce {
		t.Fatal("Go should be called for a call instruction")
	}
	if f.addedBP != 0x400005 {
		t.Fatalf("addedBP = %#x, want 0x400005", f.addedBP)
	}
	if f.removedBP != 0x400005 {
		t.Fatalf("removedBP = %#x, want 0x400005", f.removedBP)
	}
	if reason.Kind != adapter.StopBreakpoint {
		t.Fatalf("reason.Kind = %v, want StopBreakpoint", reason.Kind)
	}
}

// TestDoDegradesToStepIntoWhenFallThroughIsUnmapped reproduces spec.md §4.5:
// a CALL whose fall-through address cannot take a breakpoint degrades to a
// plain step-into instead of failing the step.
func TestDoDegradesToStepIntoWhenFallThroughIsUnmapped(t *testing.T) {
	f := &fakeAdapter{
		arch:              "x86-64",
		ip:                0x400000,
		code:              []byte{0xE8, 0, 0, 0, 0, 0, 0, 0},
		failAddBreakpoint: fmt.Errorf("breakpoint: unmapped address"),
	}
	reason, err := Do(context.Background(), f, disasm.X86{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if f.wentOnce {
		t.Fatal("Go should not be called when the breakpoint could not be installed")
	}
	if f.stepIntoCalls != 1 {
		t.Fatalf("stepIntoCalls = %d, want 1", f.stepIntoCalls)
	}
	if reason.Kind != adapter.StopSingleStep {
		t.Fatalf("reason.Kind = %v, want StopSingleStep", reason.Kind)
	}
}
