// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rsp implements the GDB Remote Serial Protocol: a byte-oriented,
// checksummed, ack-based framing layer over a TCP socket (transport.go),
// and a stateful connector on top of it handling capability negotiation,
// target-description retrieval, and register-layout derivation
// (connector.go, xml.go).
package rsp

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"nativedbg/dbgerr"
)

const (
	maxTransmitAttempts = 3

	escapeByte  = '}'
	escapeXor   = 0x20
	startByte   = '$'
	endByte     = '#'
	rleByte     = '*'
	rleBaseRune = 29
)

// AckMode controls how Transport.TransmitAndReceive handles the reply to a
// packet whose stub may keep the target running for a while before
// replying (spec.md §4.2, "mixed output").
type AckMode int

const (
	// ModeNormal expects ack then one reply packet, synchronously.
	ModeNormal AckMode = iota
	// ModeMixedOutput expects ack, then zero or more 'O'-prefixed console
	// output packets interleaved with the eventual stop-reply packet; only
	// the stop-reply is returned to the caller.
	ModeMixedOutput
)

// Transport is the framing layer over one TCP connection to a GDB-RSP stub.
type Transport struct {
	conn net.Conn
	r    *bufio.Reader

	log *logrus.Entry

	// OutputSink, if set, receives the payload of each 'O'-prefixed console
	// output packet observed while draining ModeMixedOutput replies.
	OutputSink func(text string)
}

// NewTransport wraps an established connection. Callers typically get conn
// from net.Dial("tcp", ...) after gdbadapter.Connect's retry loop succeeds.
func NewTransport(conn net.Conn, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{conn: conn, r: bufio.NewReader(conn), log: log.WithField("component", "rsp-transport")}
}

// Close closes the underlying connection.
func (t *Transport) Close() error { return t.conn.Close() }

// Escape escapes '$', '#', '}' and '*' in payload per spec.md §4.2: each is
// replaced by '}' followed by the byte XOR 0x20.
func Escape(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case startByte, endByte, escapeByte, rleByte:
			out = append(out, escapeByte, b^escapeXor)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape and expands run-length compression ('*' followed
// by a byte encoding length+29, repeating the byte preceding the '*').
func Unescape(payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		switch b {
		case escapeByte:
			i++
			if i >= len(payload) {
				return nil, dbgerr.Newf(dbgerr.Protocol, "truncated escape sequence")
			}
			out = append(out, payload[i]^escapeXor)
		case rleByte:
			if len(out) == 0 {
				return nil, dbgerr.Newf(dbgerr.Protocol, "run-length marker with no preceding byte")
			}
			i++
			if i >= len(payload) {
				return nil, dbgerr.Newf(dbgerr.Protocol, "truncated run-length sequence")
			}
			count := int(payload[i]) - rleBaseRune
			if count < 0 {
				return nil, dbgerr.Newf(dbgerr.Protocol, "negative run-length count")
			}
			last := out[len(out)-1]
			for j := 0; j < count; j++ {
				out = append(out, last)
			}
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// checksum is the low byte of the sum of the (already-escaped) payload bytes.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode frames payload as "$<escaped payload>#<checksum>".
func Encode(payload []byte) []byte {
	escaped := Escape(payload)
	chk := checksum(escaped)
	out := make([]byte, 0, len(escaped)+4)
	out = append(out, startByte)
	out = append(out, escaped...)
	out = append(out, endByte)
	out = append(out, fmt.Sprintf("%02x", chk)...)
	return out
}

// Decode strips one "$<payload>#<checksum>" frame, verifies the checksum,
// and returns the unescaped payload.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 4 || frame[0] != startByte {
		return nil, dbgerr.Newf(dbgerr.Protocol, "malformed frame %q", frame)
	}
	hashIdx := -1
	for i := len(frame) - 3; i >= 1; i-- {
		if frame[i] == endByte {
			hashIdx = i
			break
		}
	}
	if hashIdx < 0 {
		return nil, dbgerr.Newf(dbgerr.Protocol, "missing checksum delimiter in %q", frame)
	}
	escaped := frame[1:hashIdx]
	var want byte
	if _, err := fmt.Sscanf(string(frame[hashIdx+1:hashIdx+3]), "%02x", &want); err != nil {
		return nil, dbgerr.Newf(dbgerr.Protocol, "malformed checksum in %q: %v", frame, err)
	}
	if got := checksum(escaped); got != want {
		return nil, dbgerr.Newf(dbgerr.Protocol, "checksum mismatch: got %02x want %02x", got, want)
	}
	return Unescape(escaped)
}

// readFrame reads one "$...#xx" frame from the connection, verifying and
// unescaping it, then ACKs or NAKs per spec.md §4.2 ("Receive: read until
// #, read two checksum nibbles, verify, respond + on success").
func (t *Transport) readFrame() ([]byte, error) {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '+' || b == '-' {
			// Stray ack/nak byte preceding the frame; ignore and continue.
			continue
		}
		if b != startByte {
			return nil, dbgerr.Newf(dbgerr.Protocol, "expected '$', got %q", b)
		}
		break
	}
	var raw []byte
	raw = append(raw, startByte)
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
		if b == endByte {
			break
		}
	}
	var chk [2]byte
	if _, err := io.ReadFull(t.r, chk[:]); err != nil {
		return nil, err
	}
	raw = append(raw, chk[:]...)

	payload, err := Decode(raw)
	if err != nil {
		_, _ = t.conn.Write([]byte{'-'})
		return nil, err
	}
	_, _ = t.conn.Write([]byte{'+'})
	return payload, nil
}

// sendFrame writes an encoded frame and waits (with bounded retries) for a
// '+' ack, per spec.md §4.2 ("Send: checksum, write, await + (with bounded
// retries), then await the reply packet").
func (t *Transport) sendFrame(payload []byte) error {
	frame := Encode(payload)
	for attempt := 0; attempt < maxTransmitAttempts; attempt++ {
		if _, err := t.conn.Write(frame); err != nil {
			return err
		}
		ack, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		switch ack {
		case '+':
			return nil
		case '-':
			t.log.Warnf("stub requested retransmit (attempt %d/%d)", attempt+1, maxTransmitAttempts)
			continue
		default:
			return dbgerr.Newf(dbgerr.Protocol, "unexpected ack byte %q", ack)
		}
	}
	return dbgerr.Newf(dbgerr.Protocol, "no ack after %d attempts", maxTransmitAttempts)
}

// SendRaw transmits a single byte with no framing, used for the async
// interrupt (0x03).
func (t *Transport) SendRaw(b byte) error {
	_, err := t.conn.Write([]byte{b})
	return err
}

// TransmitAndReceive sends payload and returns the stub's reply payload.
// In ModeMixedOutput, any 'O'-prefixed console packets observed before the
// final (non-'O') reply are routed to OutputSink and not returned.
func (t *Transport) TransmitAndReceive(payload []byte, mode AckMode) ([]byte, error) {
	t.log.Debugf("-> %s", payload)
	if err := t.sendFrame(payload); err != nil {
		return nil, err
	}
	for {
		reply, err := t.readFrame()
		if err != nil {
			return nil, err
		}
		t.log.Debugf("<- %s", reply)
		if mode == ModeMixedOutput && len(reply) > 0 && reply[0] == 'O' {
			if t.OutputSink != nil {
				if text, decErr := hexDecodeConsole(reply[1:]); decErr == nil {
					t.OutputSink(text)
				}
			}
			continue
		}
		return reply, nil
	}
}

func hexDecodeConsole(hexBytes []byte) (string, error) {
	if len(hexBytes)%2 != 0 {
		return "", dbgerr.Newf(dbgerr.Protocol, "odd-length console output payload")
	}
	out := make([]byte, len(hexBytes)/2)
	for i := range out {
		var v byte
		if _, err := fmt.Sscanf(string(hexBytes[2*i:2*i+2]), "%02x", &v); err != nil {
			return "", err
		}
		out[i] = v
	}
	return string(out), nil
}
