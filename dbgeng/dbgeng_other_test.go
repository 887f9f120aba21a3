// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows

package dbgeng

import (
	"context"
	"testing"

	"nativedbg/adapter"
	"nativedbg/dbgerr"
)

func TestNewFailsOffWindows(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("New() succeeded on a non-Windows host")
	}
	if kind, ok := dbgerr.KindOf(err); !ok || kind != dbgerr.NotInstalled {
		t.Fatalf("KindOf(err) = %v, %v; want NotInstalled, true", kind, ok)
	}
}

func TestStubAdapterReportsNotInstalled(t *testing.T) {
	a := &Adapter{}
	if _, err := a.Go(context.Background()); err == nil {
		t.Fatal("Go() succeeded on stub adapter")
	}
	if a.Supports(0) {
		t.Fatal("stub adapter reports supporting a capability")
	}
}

func TestRegistryFactoryReturnsFailedAdapterCleanly(t *testing.T) {
	entry, ok := adapter.Default.ByName(adapter.NameLocalDbgEng)
	if !ok {
		t.Fatal("dbgeng adapter type not registered")
	}
	a := entry.New()
	if _, err := a.TargetArchitecture(); err == nil {
		t.Fatal("TargetArchitecture succeeded on an unregistered-platform adapter")
	}
}
