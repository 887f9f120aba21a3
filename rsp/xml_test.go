// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import "testing"

// TestParseTargetXMLDerivesOffsetsWithGap reproduces spec.md §8's worked
// example: eax(regnum 0), ecx(regnum 1), eip(regnum 8), each 32 bits. Since
// regnums 2..7 are missing, only eax and ecx get offsets; eip has none.
func TestParseTargetXMLDerivesOffsetsWithGap(t *testing.T) {
	doc := []byte(`<?xml version="1.0"?>
<target>
  <architecture>i386:x86-64</architecture>
  <osabi>GNU/Linux</osabi>
  <feature name="org.gnu.gdb.i386.core">
    <reg name="eax" bitsize="32" regnum="0"/>
    <reg name="ecx" bitsize="32" regnum="1"/>
    <reg name="eip" bitsize="32" regnum="8"/>
  </feature>
</target>`)

	schema, err := ParseTargetXML(doc)
	if err != nil {
		t.Fatalf("ParseTargetXML: %v", err)
	}
	if schema.Architecture != "i386:x86-64" || schema.OSABI != "GNU/Linux" {
		t.Fatalf("unexpected schema header: %+v", schema)
	}

	offsets := map[string]int64{}
	for _, r := range schema.Registers {
		offsets[r.Name] = r.Offset
	}
	want := map[string]int64{"eax": 0, "ecx": 32, "eip": -1}
	for name, wantOff := range want {
		if got := offsets[name]; got != wantOff {
			t.Errorf("offset[%s] = %d, want %d", name, got, wantOff)
		}
	}
}

func TestParseTargetXMLImplicitRegnum(t *testing.T) {
	doc := []byte(`<target>
  <architecture>i386</architecture>
  <osabi>GNU/Linux</osabi>
  <feature name="org.gnu.gdb.i386.core">
    <reg name="eax" bitsize="32"/>
    <reg name="ecx" bitsize="32"/>
  </feature>
</target>`)
	schema, err := ParseTargetXML(doc)
	if err != nil {
		t.Fatalf("ParseTargetXML: %v", err)
	}
	if schema.Registers[0].RegNum != 0 || schema.Registers[1].RegNum != 1 {
		t.Fatalf("implicit regnums = %+v", schema.Registers)
	}
	if schema.Registers[0].Offset != 0 || schema.Registers[1].Offset != 32 {
		t.Fatalf("implicit-regnum offsets = %+v", schema.Registers)
	}
}

func TestParseTargetXMLMalformed(t *testing.T) {
	if _, err := ParseTargetXML([]byte("not xml")); err == nil {
		t.Fatal("ParseTargetXML accepted malformed input")
	}
}
