// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows

// Package dbgeng implements adapter.Adapter on top of Windows' DbgEng COM
// engine. On non-Windows hosts the engine cannot exist at all, so every
// operation reports dbgerr.NotInstalled rather than attempting anything.
package dbgeng

import (
	"context"
	"fmt"

	"nativedbg/adapter"
	"nativedbg/dbgerr"
)

// Adapter is the non-Windows stand-in: every method fails with
// dbgerr.NotInstalled. It still satisfies adapter.Adapter so the registry
// and CLI can be built and tested on any host.
type Adapter struct{}

var _ adapter.Adapter = (*Adapter)(nil)

var errNotInstalled = dbgerr.New(dbgerr.NotInstalled, fmt.Errorf("dbgeng: only available on windows"))

// New returns an error on any non-Windows host.
func New() (*Adapter, error) { return nil, errNotInstalled }

func (*Adapter) Execute(context.Context, string, adapter.LaunchConfig) (bool, error) {
	return false, errNotInstalled
}
func (*Adapter) ExecuteWithArgs(context.Context, string, []string, adapter.LaunchConfig) (bool, error) {
	return false, errNotInstalled
}
func (*Adapter) Attach(context.Context, uint32) (bool, error)          { return false, errNotInstalled }
func (*Adapter) Connect(context.Context, string, uint16) (bool, error) { return false, errNotInstalled }
func (*Adapter) Detach(context.Context) error                          { return errNotInstalled }
func (*Adapter) Quit(context.Context) error                            { return errNotInstalled }

func (*Adapter) Go(context.Context) (adapter.StopReason, error)       { return adapter.StopReason{}, errNotInstalled }
func (*Adapter) StepInto(context.Context) (adapter.StopReason, error) { return adapter.StopReason{}, errNotInstalled }
func (*Adapter) StepOver(context.Context) (adapter.StopReason, error) { return adapter.StopReason{}, errNotInstalled }
func (*Adapter) BreakInto() error                                     { return errNotInstalled }

func (*Adapter) ThreadList(context.Context) ([]adapter.Thread, error) { return nil, errNotInstalled }
func (*Adapter) ActiveThread() adapter.Thread                         { return adapter.Thread{} }
func (*Adapter) SetActiveThread(adapter.Thread) error                 { return errNotInstalled }

func (*Adapter) ReadRegister(context.Context, string) (adapter.Register, error) {
	return adapter.Register{}, errNotInstalled
}
func (*Adapter) WriteRegister(context.Context, string, uint64) error { return errNotInstalled }
func (*Adapter) RegisterList(context.Context) ([]string, error)      { return nil, errNotInstalled }

func (*Adapter) ReadMemory(context.Context, uint64, int) ([]byte, error) {
	return nil, errNotInstalled
}
func (*Adapter) WriteMemory(context.Context, uint64, []byte) error { return errNotInstalled }

func (*Adapter) AddBreakpoint(context.Context, uint64) (adapter.Breakpoint, error) {
	return adapter.Breakpoint{}, errNotInstalled
}
func (*Adapter) RemoveBreakpoint(context.Context, uint64) error { return errNotInstalled }
func (*Adapter) BreakpointList() []adapter.Breakpoint           { return nil }

func (*Adapter) ModuleList(context.Context) ([]adapter.Module, error) { return nil, errNotInstalled }

func (*Adapter) TargetArchitecture() (string, error) { return "", errNotInstalled }
func (*Adapter) Supports(adapter.Capability) bool    { return false }
