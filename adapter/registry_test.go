// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import "testing"

type fakeBinaryView struct {
	format string
	arch   string
}

func (f fakeBinaryView) Format() string       { return f.format }
func (f fakeBinaryView) Architecture() string { return f.arch }
func (f fakeBinaryView) EntryPoint() uint64   { return 0 }

func TestRegistryAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeEntry{
		Name:           NameLocalGDB,
		IsValidForData: func(bv BinaryView) bool { return bv.Format() == "ELF" },
		CanExecute:     func(bv BinaryView) bool { return true },
		New:            func() Adapter { return nil },
	})
	r.Register(TypeEntry{
		Name:           NameRemoteGDB,
		IsValidForData: func(bv BinaryView) bool { return true },
		CanConnect:     func(bv BinaryView) bool { return true },
		New:            func() Adapter { return nil },
	})
	r.Register(TypeEntry{
		Name:           NameLocalDbgEng,
		IsValidForData: func(bv BinaryView) bool { return true },
		CanExecute:     func(bv BinaryView) bool { return false },
		CanConnect:     func(bv BinaryView) bool { return false },
		New:            func() Adapter { return nil },
	})

	elf := fakeBinaryView{format: "ELF", arch: "x86_64"}
	got := r.Available(elf)
	if len(got) != 2 {
		t.Fatalf("Available() = %v, want 2 entries", got)
	}

	pe := fakeBinaryView{format: "PE", arch: "x86_64"}
	got = r.Available(pe)
	if len(got) != 1 || got[0] != NameRemoteGDB {
		t.Fatalf("Available(PE) = %v, want only %q", got, NameRemoteGDB)
	}
}

func TestRegistryDefaultNameFallsBackToFirstAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeEntry{
		Name:           NameRemoteLLDB,
		IsValidForData: func(bv BinaryView) bool { return true },
		CanConnect:     func(bv BinaryView) bool { return true },
		New:            func() Adapter { return nil },
	})
	bv := fakeBinaryView{format: "ELF", arch: "x86_64"}
	if got := r.DefaultName(bv); got != NameRemoteLLDB {
		t.Fatalf("DefaultName() = %q, want %q", got, NameRemoteLLDB)
	}
}

func TestRegistryByNameUnknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.ByName("nonexistent"); ok {
		t.Fatal("ByName(unknown) = ok, want !ok")
	}
	if _, err := r.New("nonexistent"); err == nil {
		t.Fatal("New(unknown) = nil error, want error")
	}
}
