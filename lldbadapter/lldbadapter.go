// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lldbadapter implements adapter.Adapter against lldb-server's
// gdbserver-compatible mode. It is a thin configuration of gdbadapter: the
// RSP wire protocol, register cache, and step-over algorithm are identical;
// only the spawned binary and its argv convention differ, grounded on
// mihaihuluta-delve's LLDBLaunch/LLDBAttach (pkg/proc/gdbserver.go).
package lldbadapter

import (
	"os/exec"

	"nativedbg/gdbadapter"
)

// New returns an adapter.Adapter that spawns "lldb-server gdbserver
// <listen-addr> <path> [args...]", matching LLDBLaunch's argv shape.
func New() *gdbadapter.Adapter {
	return gdbadapter.NewWithStub("lldb-server", exec.LookPath, argv, "lldb")
}

func argv(listenAddr, path string, args []string) []string {
	out := append([]string{"gdbserver", listenAddr, path}, args...)
	return out
}
