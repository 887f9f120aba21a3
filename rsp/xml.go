// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import (
	"encoding/xml"
	"sort"

	"nativedbg/dbgerr"
)

// RegisterInfo is the internal per-register schema derived from target.xml:
// bit size and regnum come straight off the wire; Offset is derived, never
// transmitted (spec.md §3).
type RegisterInfo struct {
	Name    string
	BitSize uint32
	RegNum  uint32
	// Offset is the bit position of this register inside the monolithic "g"
	// packet payload. -1 means "no offset": this register falls after a gap
	// in the regnum sequence and cannot be located in the "g" blob.
	Offset int64
}

// targetXML mirrors the subset of the GDB target description schema this
// core consumes: <target><architecture/><osabi/><feature><reg .../>...
type targetXML struct {
	XMLName      xml.Name `xml:"target"`
	Architecture string   `xml:"architecture"`
	OSABI        string   `xml:"osabi"`
	Features     []struct {
		Regs []struct {
			Name    string `xml:"name,attr"`
			BitSize uint32 `xml:"bitsize,attr"`
			RegNum  *uint32 `xml:"regnum,attr"`
		} `xml:"reg"`
	} `xml:"feature"`
}

// RegisterSchema is the result of parsing one target.xml document.
type RegisterSchema struct {
	Architecture string
	OSABI        string
	Registers    []RegisterInfo // ordered by appearance in the document
}

// ParseTargetXML parses a target.xml document (spec.md §4.3/§6) and derives
// per-register offsets.
//
// regnum defaults to one more than the previous register's regnum (0 for
// the first register) when the attribute is absent, matching gdb's own
// convention for the <reg> element.
func ParseTargetXML(doc []byte) (RegisterSchema, error) {
	var t targetXML
	if err := xml.Unmarshal(doc, &t); err != nil {
		return RegisterSchema{}, dbgerr.Newf(dbgerr.Protocol, "parsing target.xml: %v", err)
	}

	var regs []RegisterInfo
	var nextImplicitNum uint32
	for _, feature := range t.Features {
		for _, r := range feature.Regs {
			regNum := nextImplicitNum
			if r.RegNum != nil {
				regNum = *r.RegNum
			}
			regs = append(regs, RegisterInfo{
				Name:    r.Name,
				BitSize: r.BitSize,
				RegNum:  regNum,
			})
			nextImplicitNum = regNum + 1
		}
	}

	derived := deriveOffsets(regs)
	return RegisterSchema{
		Architecture: t.Architecture,
		OSABI:        t.OSABI,
		Registers:    derived,
	}, nil
}

// deriveOffsets computes offset(i+1) = offset(i) + bitsize(i) over the
// contiguous prefix of regnums (sorted ascending) whose widths are all
// known, stopping at the first gap, per spec.md §4.3.
func deriveOffsets(regs []RegisterInfo) []RegisterInfo {
	sorted := make([]RegisterInfo, len(regs))
	copy(sorted, regs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RegNum < sorted[j].RegNum })

	byName := make(map[string]int64, len(sorted))
	var offset int64
	expected := uint32(0)
	if len(sorted) > 0 {
		expected = sorted[0].RegNum
	}
	inPrefix := true
	for _, r := range sorted {
		if !inPrefix || r.RegNum != expected || r.BitSize == 0 {
			byName[r.Name] = -1
			inPrefix = false
			continue
		}
		byName[r.Name] = offset
		offset += int64(r.BitSize)
		expected++
	}

	out := make([]RegisterInfo, len(regs))
	for i, r := range regs {
		r.Offset = byName[r.Name]
		out[i] = r
	}
	return out
}
