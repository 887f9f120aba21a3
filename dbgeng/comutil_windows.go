// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package dbgeng

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// guid mirrors the layout of a Windows GUID/IID for COM interface lookups.
type guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// The DbgEng interface IIDs, copied from dbgeng.h. Only the interfaces this
// adapter actually calls through are declared.
var (
	iidIDebugClient5    = guid{0xe3acb9d7, 0x7ec2, 0x4f0c, [8]byte{0xa0, 0xda, 0xe8, 0x1e, 0x0c, 0xbb, 0xe6, 0x28}}
	iidIDebugControl5   = guid{0xb2ffe162, 0x2412, 0x429f, [8]byte{0x8d, 0x1d, 0x5b, 0xf6, 0xdd, 0x82, 0x4c, 0xf6}}
	iidIDebugRegisters  = guid{0xce289126, 0x9e84, 0x45a7, [8]byte{0xba, 0xb8, 0xfd, 0xc8, 0x14, 0x71, 0x1d, 0x14}}
	iidIDebugDataSpaces = guid{0x88f7dfab, 0x3ea7, 0x4c3a, [8]byte{0xae, 0xfb, 0xc4, 0xe8, 0x10, 0x61, 0x73, 0xaa}}
	iidIDebugSymbols    = guid{0x8c31e98c, 0x983a, 0x48a5, [8]byte{0x90, 0x16, 0x6f, 0xe5, 0xd6, 0x67, 0xa9, 0x50}}
	iidIDebugSystemObjs = guid{0x6b86fe2c, 0x2c4f, 0x4f0c, [8]byte{0x9d, 0xa2, 0x17, 0x43, 0x10, 0xac, 0xc5, 0x0f}}
)

// comObject is a thin handle over a COM interface pointer: the vtable
// pointer followed by function pointer slots, standard COM ABI layout. This
// exists because the DbgEng SDK has no Go binding anywhere in the examples
// corpus; golang.org/x/sys/windows supplies the DLL-loading primitive
// (NewLazySystemDLL) and syscall.Syscall* the calls themselves, which this
// file builds the vtable caller on top of, matching how a cgo-free Windows
// COM client is written in Go.
type comObject struct {
	ptr uintptr
}

func (c comObject) vtableMethod(index int) uintptr {
	vtable := *(*uintptr)(unsafe.Pointer(c.ptr))
	return *(*uintptr)(unsafe.Pointer(vtable + uintptr(index)*unsafe.Sizeof(uintptr(0))))
}

// call invokes the COM method at vtable slot index with this object pointer
// as the implicit first argument (the "this" pointer convention for a COM
// stdcall method), plus up to 8 additional arguments.
func (c comObject) call(index int, args ...uintptr) (uintptr, error) {
	fn := c.vtableMethod(index)
	allArgs := append([]uintptr{c.ptr}, args...)
	var r1 uintptr
	var err error
	switch len(allArgs) {
	case 1:
		r1, _, _ = syscall.Syscall(fn, uintptr(len(allArgs)), allArgs[0], 0, 0)
	case 2:
		r1, _, _ = syscall.Syscall(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], 0)
	case 3:
		r1, _, _ = syscall.Syscall(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2])
	case 4:
		r1, _, _ = syscall.Syscall6(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], 0, 0)
	case 5:
		r1, _, _ = syscall.Syscall6(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], allArgs[4], 0)
	case 6:
		r1, _, _ = syscall.Syscall6(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], allArgs[4], allArgs[5])
	case 7:
		r1, _, _ = syscall.Syscall9(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], allArgs[4], allArgs[5], allArgs[6], 0, 0)
	case 8:
		r1, _, _ = syscall.Syscall9(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], allArgs[4], allArgs[5], allArgs[6], allArgs[7], 0)
	case 9:
		r1, _, _ = syscall.Syscall9(fn, uintptr(len(allArgs)), allArgs[0], allArgs[1], allArgs[2], allArgs[3], allArgs[4], allArgs[5], allArgs[6], allArgs[7], allArgs[8])
	default:
		return 0, errTooManyArgs
	}
	if hr := int32(r1); hr < 0 {
		err = hresultError(hr)
	}
	return r1, err
}

var errTooManyArgs = hresultError(-1)

// hresultError wraps a raw HRESULT as an error.
type hresultError int32

func (h hresultError) Error() string {
	return windows.Errno(uint32(h)).Error()
}

// release calls IUnknown::Release (vtable slot 2), standard across every COM
// interface regardless of its derived-interface-specific slots.
func (c comObject) release() {
	if c.ptr != 0 {
		c.call(2)
	}
}

var dbgengDLL = windows.NewLazySystemDLL("dbgeng.dll")
var procDebugCreate = dbgengDLL.NewProc("DebugCreate")

// debugCreate wraps dbgeng.dll's DebugCreate(IID*, void**) entry point,
// the sole non-COM-method entry point into the engine.
func debugCreate(iid *guid, out *uintptr) error {
	r1, _, _ := procDebugCreate.Call(uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(out)))
	if hr := int32(r1); hr < 0 {
		return hresultError(hr)
	}
	return nil
}
