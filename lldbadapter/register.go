// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lldbadapter

import (
	"runtime"

	"nativedbg/adapter"
)

func init() {
	adapter.Default.Register(adapter.TypeEntry{
		Name:           adapter.NameLocalLLDB,
		IsValidForData: func(adapter.BinaryView) bool { return true },
		CanExecute:     func(adapter.BinaryView) bool { return runtime.GOOS != "windows" },
		New:            func() adapter.Adapter { return New() },
	})
	adapter.Default.Register(adapter.TypeEntry{
		Name:           adapter.NameRemoteLLDB,
		IsValidForData: func(adapter.BinaryView) bool { return true },
		CanConnect:     func(adapter.BinaryView) bool { return true },
		New:            func() adapter.Adapter { return New() },
	})
}
