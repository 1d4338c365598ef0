// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package selectors

import (
	"sync"

	"github.com/glassdns/resolve/types"
)

// Single always selects the one upstream it was created with.
type Single struct {
	sync.Mutex
	up types.Upstream
}

// NewSingle returns a selector pinned to the provided upstream.
func NewSingle(up types.Upstream) *Single {
	return &Single{up: up}
}

// Select returns the pinned upstream.
func (s *Single) Select() types.Upstream {
	s.Lock()
	defer s.Unlock()

	return s.up
}

// Lookup returns the upstream when the address matches.
func (s *Single) Lookup(addr string) types.Upstream {
	s.Lock()
	defer s.Unlock()

	if s.up != nil && s.up.Address() == addr {
		return s.up
	}
	return nil
}

// Add replaces the pinned upstream when none is set.
func (s *Single) Add(up types.Upstream) {
	s.Lock()
	defer s.Unlock()

	if s.up == nil {
		s.up = up
	}
}

// All returns the pinned upstream.
func (s *Single) All() []types.Upstream {
	s.Lock()
	defer s.Unlock()

	if s.up == nil {
		return nil
	}
	return []types.Upstream{s.up}
}

// Len returns 1 when an upstream is pinned.
func (s *Single) Len() int {
	s.Lock()
	defer s.Unlock()

	if s.up == nil {
		return 0
	}
	return 1
}

// Close releases the pinned upstream.
func (s *Single) Close() {
	s.Lock()
	defer s.Unlock()

	s.up = nil
}
