// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sync"

	"nativedbg/adapter"
)

// session holds the single debuggee session debugctl drives. A real host
// application would keep one per open binary view; this CLI only ever
// drives one target at a time.
type session struct {
	mu          sync.Mutex
	adapterName string
	active      adapter.Adapter
}

var sess session

func (s *session) get() (adapter.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, fmt.Errorf("no active session: run execute, attach, or connect first")
	}
	return s.active, nil
}

func (s *session) set(a adapter.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = a
}

func newAdapter() (adapter.Adapter, error) {
	name, err := resolveAdapterName()
	if err != nil {
		return nil, err
	}
	a, err := adapter.Default.New(name)
	if err != nil {
		return nil, err
	}
	return a, nil
}
