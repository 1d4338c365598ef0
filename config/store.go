// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"sync"

	"go.uber.org/zap"
)

// ChangeHandler is invoked with the new snapshot after every accepted
// update. It runs outside the store lock.
type ChangeHandler func(cfg Config)

// Store holds the current configuration snapshot and is the single
// change notifier. In-flight queries keep the snapshot captured at
// dispatch; a later update never affects them.
type Store struct {
	mu      sync.Mutex
	log     *zap.Logger
	current Config
	handler ChangeHandler
}

// NewStore returns a store seeded with the snapshot, which must validate.
func NewStore(cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Store{log: log, current: cfg.Clone()}, nil
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.Clone()
}

// Update validates and atomically swaps the snapshot, then invokes the
// registered change handler outside the lock. A rejected snapshot never
// replaces the current one.
func (s *Store) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		s.log.Error("configuration update rejected", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.current = cfg.Clone()
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(cfg.Clone())
	}

	s.log.Info("configuration update applied")
	return nil
}

// OnChange registers the change handler, replacing any previous one.
// Passing nil deregisters.
func (s *Store) OnChange(h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = h
}
