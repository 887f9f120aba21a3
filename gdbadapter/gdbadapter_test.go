// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdbadapter

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"nativedbg/dbgerr"
	"nativedbg/rsp"
)

const testTargetXML = `<target>
  <architecture>i386:x86-64</architecture>
  <osabi>GNU/Linux</osabi>
  <feature name="org.gnu.gdb.i386.core">
    <reg name="rip" bitsize="64" regnum="0"/>
    <reg name="rax" bitsize="64" regnum="1"/>
  </feature>
</target>`

// fakeStub drives the server side of the RSP protocol far enough to bring
// up a gdbadapter.Adapter via Connect: qSupported, qXfer:features:read, the
// initial "?" status query, and an optional extra script of requests handed
// in by the caller. It speaks raw frames directly (ack, read "$...#xx",
// ack, write "$...#xx") rather than reusing Transport, which is a
// client-role abstraction.
func fakeStub(t *testing.T, conn net.Conn, extra func(r request) (reply string, ok bool)) {
	t.Helper()
	r := bufio.NewReader(conn)
	for {
		req, err := readStubFrame(r, conn)
		if err != nil {
			return
		}
		switch {
		case hasPrefix(req, "qSupported"):
			writeStubFrame(t, conn, "swbreak+;PacketSize=3fff")
		case hasPrefix(req, "qXfer:features:read:target.xml"):
			writeStubFrame(t, conn, "l"+testTargetXML)
		case req == "?":
			writeStubFrame(t, conn, "T05thread:1;")
		default:
			if extra != nil {
				if reply, ok := extra(request(req)); ok {
					writeStubFrame(t, conn, reply)
					continue
				}
			}
			writeStubFrame(t, conn, "")
			return
		}
	}
}

type request string

func hasPrefix(s, prefix string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }

func readStubFrame(r *bufio.Reader, conn net.Conn) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '$' {
			break
		}
	}
	var raw []byte
	raw = append(raw, '$')
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		raw = append(raw, b)
		if b == '#' {
			break
		}
	}
	var chk [2]byte
	if _, err := r.Read(chk[:]); err != nil {
		return "", err
	}
	raw = append(raw, chk[:]...)
	payload, err := rsp.Decode(raw)
	if err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte{'+'}); err != nil {
		return "", err
	}
	return string(payload), nil
}

func writeStubFrame(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	frame := rsp.Encode([]byte(s))
	if _, err := conn.Write(frame); err != nil {
		t.Errorf("writeStubFrame: %v", err)
		return
	}
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		t.Errorf("writeStubFrame ack: %v", err)
	}
}

func dialedAdapter(t *testing.T, extra func(request) (string, bool)) (*Adapter, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakeStub(t, conn, extra)
	}()

	a := New()
	port := ln.Addr().(*net.TCPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ok, err := a.Connect(ctx, "127.0.0.1", uint16(port))
	if err != nil || !ok {
		t.Fatalf("Connect: ok=%v err=%v", ok, err)
	}
	return a, ln
}

func TestConnectLoadsRegisterSchema(t *testing.T) {
	a, _ := dialedAdapter(t, nil)
	names, err := a.RegisterList(context.Background())
	if err != nil {
		t.Fatalf("RegisterList: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("RegisterList = %v, want 2 registers", names)
	}
}

func TestTargetArchitectureNormalizesColonAndDash(t *testing.T) {
	a, _ := dialedAdapter(t, nil)
	arch, err := a.TargetArchitecture()
	if err != nil {
		t.Fatalf("TargetArchitecture: %v", err)
	}
	if arch != "x86_64" {
		t.Fatalf("TargetArchitecture = %q, want x86_64", arch)
	}
}

func TestReadRegisterDecodesGPacket(t *testing.T) {
	// rip=0x4000000000000000 (64 bit), rax=0x0000000000000001, little-endian on
	// the wire: rip bytes then rax bytes.
	gPacket := "0000000000000040" + "0100000000000000"
	a, _ := dialedAdapter(t, func(r request) (string, bool) {
		if string(r) == "g" {
			return gPacket, true
		}
		return "", false
	})

	reg, err := a.ReadRegister(context.Background(), "rip")
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if reg.Value != 0x4000000000000000 {
		t.Fatalf("rip = %#x, want 0x4000000000000000", reg.Value)
	}

	reg, err = a.ReadRegister(context.Background(), "rax")
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if reg.Value != 1 {
		t.Fatalf("rax = %#x, want 1", reg.Value)
	}
}

// TestReadRegisterSkipsRegisterAfterGap reproduces spec.md §8 scenario 2: of
// three registers (eax/0, ecx/1, eip/8), eip falls after a gap in the
// regnum sequence and has no derived offset. Reading eax/ecx must still
// decode correctly off the "g" blob, and reading eip must fail rather than
// silently returning whatever hex happened to follow ecx.
func TestReadRegisterSkipsRegisterAfterGap(t *testing.T) {
	schema, err := rsp.ParseTargetXML([]byte(`<target>
  <architecture>i386</architecture>
  <feature name="org.gnu.gdb.i386.core">
    <reg name="eax" bitsize="32" regnum="0"/>
    <reg name="ecx" bitsize="32" regnum="1"/>
    <reg name="eip" bitsize="32" regnum="8"/>
  </feature>
</target>`))
	if err != nil {
		t.Fatalf("ParseTargetXML: %v", err)
	}

	client, stub := net.Pipe()
	defer client.Close()
	defer stub.Close()

	a := New()
	a.trans = rsp.NewTransport(client, nil)
	a.conn0 = rsp.NewConnector(a.trans, nil)
	for _, r := range schema.Registers {
		a.regsByName[r.Name] = r
	}

	go func() {
		br := bufio.NewReader(stub)
		for {
			req, err := readStubFrame(br, stub)
			if err != nil {
				return
			}
			if req == "g" {
				writeStubFrame(t, stub, "aabbccdd11223344")
				continue
			}
			return
		}
	}()

	eax, err := a.ReadRegister(context.Background(), "eax")
	if err != nil {
		t.Fatalf("ReadRegister(eax): %v", err)
	}
	if eax.Value != 0xddccbbaa {
		t.Fatalf("eax = %#x, want 0xddccbbaa", eax.Value)
	}

	ecx, err := a.ReadRegister(context.Background(), "ecx")
	if err != nil {
		t.Fatalf("ReadRegister(ecx): %v", err)
	}
	if ecx.Value != 0x44332211 {
		t.Fatalf("ecx = %#x, want 0x44332211", ecx.Value)
	}

	if _, err := a.ReadRegister(context.Background(), "eip"); err == nil {
		t.Fatal("expected error reading a register with no derived offset")
	} else if kind, ok := dbgerr.KindOf(err); !ok || kind != dbgerr.Unsupported {
		t.Fatalf("KindOf(err) = %v, %v; want Unsupported, true", kind, ok)
	}
}

func TestReadMemoryDecodesHex(t *testing.T) {
	a, _ := dialedAdapter(t, func(r request) (string, bool) {
		if hasPrefix(string(r), "m") {
			return "deadbeef", true
		}
		return "", false
	})
	data, err := a.ReadMemory(context.Background(), 0x400000, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if string(data) != string(want) {
		t.Fatalf("ReadMemory = %x, want %x", data, want)
	}
}

func TestAddBreakpointThenRemove(t *testing.T) {
	a, _ := dialedAdapter(t, func(r request) (string, bool) {
		switch {
		case hasPrefix(string(r), "Z0,"):
			return "OK", true
		case hasPrefix(string(r), "z0,"):
			return "OK", true
		}
		return "", false
	})
	bp, err := a.AddBreakpoint(context.Background(), 0x401000)
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if bp.Address != 0x401000 || !bp.Active {
		t.Fatalf("bp = %+v", bp)
	}
	if len(a.BreakpointList()) != 1 {
		t.Fatalf("BreakpointList = %v", a.BreakpointList())
	}
	if err := a.RemoveBreakpoint(context.Background(), 0x401000); err != nil {
		t.Fatalf("RemoveBreakpoint: %v", err)
	}
	if len(a.BreakpointList()) != 0 {
		t.Fatalf("BreakpointList after remove = %v", a.BreakpointList())
	}
}

func TestBreakIntoSendsRawInterrupt(t *testing.T) {
	client, stub := net.Pipe()
	defer client.Close()
	defer stub.Close()

	a := New()
	a.trans = rsp.NewTransport(client, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		if _, err := stub.Read(buf); err != nil {
			t.Errorf("stub read: %v", err)
			return
		}
		if buf[0] != 0x03 {
			t.Errorf("got byte %#x, want 0x03", buf[0])
		}
	}()

	if err := a.BreakInto(); err != nil {
		t.Fatalf("BreakInto: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stub did not observe interrupt byte")
	}
}

// TestConnectRetriesUntilStubIsListening exercises the connectRetries/
// connectBackoff loop: nothing accepts the first dial, the stub only starts
// listening on the same port partway through the retry window.
func TestConnectRetriesUntilStubIsListening(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().(*net.TCPAddr)
	port := addr.Port
	probe.Close()

	started := make(chan struct{})
	go func() {
		time.Sleep(connectBackoff + connectBackoff/2)
		ln, err := net.Listen("tcp", addr.String())
		if err != nil {
			t.Errorf("delayed listen: %v", err)
			close(started)
			return
		}
		defer ln.Close()
		close(started)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakeStub(t, conn, nil)
	}()

	a := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(connectRetries)*connectBackoff+2*time.Second)
	defer cancel()
	ok, err := a.Connect(ctx, "127.0.0.1", uint16(port))
	if err != nil || !ok {
		t.Fatalf("Connect: ok=%v err=%v", ok, err)
	}
	<-started
}
