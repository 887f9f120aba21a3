// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stepover implements the shared step-over algorithm: disassemble
// the instruction at the program counter, and either single-step over it (it
// isn't a call) or run to its fall-through address via an ephemeral
// breakpoint (it is). gdbadapter, lldbadapter and the Windows dbgeng adapter
// all drive their Adapter.StepOver through this package.
package stepover

import (
	"context"

	"nativedbg/adapter"
	"nativedbg/disasm"
)

// instructionPointerRegister returns the architecture's program-counter
// register name, matching GdbAdapter::GetInstructionOffset in the original
// source (eip on 32-bit x86, rip everywhere else this core supports).
func instructionPointerRegister(arch string) string {
	if arch == "x86" {
		return "eip"
	}
	return "rip"
}

// modeForArch maps a TargetArchitecture() string onto the disassembler mode.
func modeForArch(arch string) disasm.Mode {
	switch arch {
	case "x86":
		return disasm.Mode32
	default:
		return disasm.Mode64
	}
}

// Do runs one step-over at the adapter's current program counter using d to
// classify the instruction. It mirrors GdbAdapter::StepOver: read the IP,
// read up to disasm.MaxInstructionLength bytes, disassemble once, and either
// single-step (non-call) or install an ephemeral breakpoint at the
// fall-through address and run to it (call).
func Do(ctx context.Context, a adapter.Adapter, d disasm.Disassembler) (adapter.StopReason, error) {
	arch, err := a.TargetArchitecture()
	if err != nil {
		return adapter.StopReason{}, err
	}

	ipReg := instructionPointerRegister(arch)
	ip, err := a.ReadRegister(ctx, ipReg)
	if err != nil {
		return adapter.StopReason{}, err
	}

	code, err := a.ReadMemory(ctx, ip.Value, disasm.MaxInstructionLength)
	if err != nil {
		return adapter.StopReason{}, err
	}

	inst, err := d.Decode(code, modeForArch(arch))
	if err != nil {
		return adapter.StopReason{}, err
	}

	if !inst.IsCall {
		return a.StepInto(ctx)
	}

	fallThrough := ip.Value + uint64(inst.Length)
	bp, err := a.AddBreakpoint(ctx, fallThrough)
	if err != nil {
		// The fall-through address is unmapped (or otherwise unusable as a
		// breakpoint site): degrade to step-into rather than failing the
		// step outright, per spec.md §4.5.
		return a.StepInto(ctx)
	}
	reason, err := a.Go(ctx)
	if removeErr := a.RemoveBreakpoint(ctx, bp.Address); removeErr != nil && err == nil {
		err = removeErr
	}
	return reason, err
}
