// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import "testing"

func TestRegisterMask(t *testing.T) {
	cases := []struct {
		bitWidth uint16
		in, want uint64
	}{
		{32, 0xFFFFFFFFFFFFFFFF, 0xFFFFFFFF},
		{16, 0xFFFFFFFFFFFFFFFF, 0xFFFF},
		{8, 0xFF00, 0},
		{64, 0xDEADBEEFDEADBEEF, 0xDEADBEEFDEADBEEF},
	}
	for _, c := range cases {
		r := Register{BitWidth: c.bitWidth}
		if got := r.Mask(c.in); got != c.want {
			t.Errorf("Mask(bitWidth=%d, %#x) = %#x, want %#x", c.bitWidth, c.in, got, c.want)
		}
	}
}

func TestStepOutBreakpointIDReserved(t *testing.T) {
	if StepOutBreakpointID != 0x5BE9C948 {
		t.Fatalf("StepOutBreakpointID = %#x, want 0x5BE9C948", StepOutBreakpointID)
	}
}

func TestStopReasonString(t *testing.T) {
	cases := []struct {
		sr   StopReason
		want string
	}{
		{StopReason{Kind: StopProcessExited, ExitCode: 2}, "process exited (2)"},
		{StopReason{Kind: StopBreakpoint, Address: 0x400000}, "breakpoint at 0x400000"},
		{StopReason{Kind: StopSingleStep}, "single-step"},
	}
	for _, c := range cases {
		if got := c.sr.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}
