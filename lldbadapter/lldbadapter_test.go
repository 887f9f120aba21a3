// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lldbadapter

import "testing"

func TestArgvPrependsGdbserverSubcommand(t *testing.T) {
	got := argv("localhost:31337", "/bin/echo", []string{"hi"})
	want := []string{"gdbserver", "localhost:31337", "/bin/echo", "hi"}
	if len(got) != len(want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv = %v, want %v", got, want)
		}
	}
}

func TestNewReturnsUsableAdapter(t *testing.T) {
	a := New()
	if a == nil {
		t.Fatal("New() returned nil")
	}
}
