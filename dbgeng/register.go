// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbgeng

import (
	"context"
	"runtime"

	"nativedbg/adapter"
)

func init() {
	adapter.Default.Register(adapter.TypeEntry{
		Name:           adapter.NameLocalDbgEng,
		IsValidForData: func(adapter.BinaryView) bool { return true },
		CanExecute:     func(adapter.BinaryView) bool { return runtime.GOOS == "windows" },
		New: func() adapter.Adapter {
			a, err := New()
			if err != nil {
				// Every call against a failed construction reports the same
				// NotInstalled error the registry predicate already screened
				// for; returning a usable-but-broken value keeps New's Factory
				// signature error-free, matching adapter.Factory's contract.
				return failedAdapter{err: err}
			}
			return a
		},
	})
}

// failedAdapter satisfies adapter.Adapter when New() could not acquire the
// DbgEng interfaces (wrong OS, dbgeng.dll missing); every call reports the
// original construction error.
type failedAdapter struct{ err error }

var _ adapter.Adapter = failedAdapter{}

func (f failedAdapter) Execute(context.Context, string, adapter.LaunchConfig) (bool, error) {
	return false, f.err
}
func (f failedAdapter) ExecuteWithArgs(context.Context, string, []string, adapter.LaunchConfig) (bool, error) {
	return false, f.err
}
func (f failedAdapter) Attach(context.Context, uint32) (bool, error)          { return false, f.err }
func (f failedAdapter) Connect(context.Context, string, uint16) (bool, error) { return false, f.err }
func (f failedAdapter) Detach(context.Context) error                         { return f.err }
func (f failedAdapter) Quit(context.Context) error                           { return f.err }

func (f failedAdapter) Go(context.Context) (adapter.StopReason, error) {
	return adapter.StopReason{}, f.err
}
func (f failedAdapter) StepInto(context.Context) (adapter.StopReason, error) {
	return adapter.StopReason{}, f.err
}
func (f failedAdapter) StepOver(context.Context) (adapter.StopReason, error) {
	return adapter.StopReason{}, f.err
}
func (f failedAdapter) BreakInto() error { return f.err }

func (f failedAdapter) ThreadList(context.Context) ([]adapter.Thread, error) { return nil, f.err }
func (f failedAdapter) ActiveThread() adapter.Thread                        { return adapter.Thread{} }
func (f failedAdapter) SetActiveThread(adapter.Thread) error                { return f.err }

func (f failedAdapter) ReadRegister(context.Context, string) (adapter.Register, error) {
	return adapter.Register{}, f.err
}
func (f failedAdapter) WriteRegister(context.Context, string, uint64) error { return f.err }
func (f failedAdapter) RegisterList(context.Context) ([]string, error)     { return nil, f.err }

func (f failedAdapter) ReadMemory(context.Context, uint64, int) ([]byte, error) {
	return nil, f.err
}
func (f failedAdapter) WriteMemory(context.Context, uint64, []byte) error { return f.err }

func (f failedAdapter) AddBreakpoint(context.Context, uint64) (adapter.Breakpoint, error) {
	return adapter.Breakpoint{}, f.err
}
func (f failedAdapter) RemoveBreakpoint(context.Context, uint64) error { return f.err }
func (f failedAdapter) BreakpointList() []adapter.Breakpoint          { return nil }

func (f failedAdapter) ModuleList(context.Context) ([]adapter.Module, error) { return nil, f.err }

func (f failedAdapter) TargetArchitecture() (string, error) { return "", f.err }
func (f failedAdapter) Supports(adapter.Capability) bool    { return false }
