// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package selectors provides the strategies for choosing the upstream
// server that receives the next query.
package selectors

import (
	"sync"

	"github.com/glassdns/resolve/types"
	"go.uber.org/zap"
)

// Scored picks the enabled, healthy upstream with the highest score,
// breaking ties in favor of the first-configured server. When every
// server is unhealthy, it flips all of them back to healthy and returns
// the first-configured one so an outage never requires intervention.
type Scored struct {
	sync.Mutex
	log    *zap.Logger
	list   []types.Upstream
	lookup map[string]types.Upstream
}

// NewScored returns a selector over the upstreams in configuration order.
func NewScored(log *zap.Logger, ups ...types.Upstream) *Scored {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scored{
		log:    log,
		lookup: make(map[string]types.Upstream),
	}
	for _, up := range ups {
		s.Add(up)
	}
	return s
}

// Select returns the best upstream for the next query.
func (s *Scored) Select() types.Upstream {
	s.Lock()
	defer s.Unlock()

	if len(s.list) == 0 {
		return nil
	}

	var chosen types.Upstream
	var best float64
	for _, up := range s.list {
		if !up.Enabled() || !up.Healthy() {
			continue
		}
		// Strictly greater keeps the first-configured winner on ties.
		if score := up.Score(); chosen == nil || score > best {
			chosen = up
			best = score
		}
	}

	if chosen == nil {
		return s.recover()
	}
	return chosen
}

// recover flips every upstream back to healthy and returns the first
// configured one. Callers must hold the lock.
func (s *Scored) recover() types.Upstream {
	s.log.Warn("no healthy upstream available, resetting all server health")

	for _, up := range s.list {
		up.ResetHealth()
	}
	return s.list[0]
}

// Lookup returns the upstream with the matching address.
func (s *Scored) Lookup(addr string) types.Upstream {
	s.Lock()
	defer s.Unlock()

	return s.lookup[addr]
}

// Add places an upstream under management, ignoring duplicate addresses.
func (s *Scored) Add(up types.Upstream) {
	s.Lock()
	defer s.Unlock()

	if _, found := s.lookup[up.Address()]; !found {
		s.list = append(s.list, up)
		s.lookup[up.Address()] = up
	}
}

// All returns the managed upstreams in configuration order.
func (s *Scored) All() []types.Upstream {
	s.Lock()
	defer s.Unlock()

	return append([]types.Upstream{}, s.list...)
}

// Len returns the number of managed upstreams.
func (s *Scored) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.list)
}

// Close releases all resources held by the selector.
func (s *Scored) Close() {
	s.Lock()
	defer s.Unlock()

	s.list = nil
	s.lookup = nil
}
