// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package registry maps plugin names to the factories that build query
// strategies and caches. Physical loading of external modules is not
// supported; factories are registered in-process.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/glassdns/resolve/config"
	"github.com/glassdns/resolve/types"
	"go.uber.org/zap"
)

// StrategyFactory builds a query strategy from a configuration snapshot.
type StrategyFactory func(cfg config.Config) (types.QueryStrategy, error)

// CacheFactory builds a cache from the cache section of a snapshot.
type CacheFactory func(cfg config.Cache) (types.Cache, error)

// Registry is the factory table. Registering an existing name replaces
// the previous factory.
type Registry struct {
	sync.Mutex
	log        *zap.Logger
	strategies map[string]StrategyFactory
	caches     map[string]CacheFactory
}

// New returns an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}

	return &Registry{
		log:        log,
		strategies: make(map[string]StrategyFactory),
		caches:     make(map[string]CacheFactory),
	}
}

// RegisterStrategy adds a query strategy factory under the name.
func (r *Registry) RegisterStrategy(name string, factory StrategyFactory) {
	r.Lock()
	defer r.Unlock()

	r.strategies[name] = factory
	r.log.Info("registered query strategy factory", zap.String("name", name))
}

// RegisterCache adds a cache factory under the name.
func (r *Registry) RegisterCache(name string, factory CacheFactory) {
	r.Lock()
	defer r.Unlock()

	r.caches[name] = factory
	r.log.Info("registered cache factory", zap.String("name", name))
}

// CreateStrategy builds a strategy by factory name.
func (r *Registry) CreateStrategy(name string, cfg config.Config) (types.QueryStrategy, error) {
	r.Lock()
	factory, found := r.strategies[name]
	r.Unlock()

	if !found {
		return nil, fmt.Errorf("query strategy factory not found: %s", name)
	}
	return factory(cfg)
}

// CreateCache builds a cache by factory name.
func (r *Registry) CreateCache(name string, cfg config.Cache) (types.Cache, error) {
	r.Lock()
	factory, found := r.caches[name]
	r.Unlock()

	if !found {
		return nil, fmt.Errorf("cache factory not found: %s", name)
	}
	return factory(cfg)
}

// Strategies returns the registered strategy names, sorted.
func (r *Registry) Strategies() []string {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Caches returns the registered cache names, sorted.
func (r *Registry) Caches() []string {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops every registered factory.
func (r *Registry) Close() {
	r.Lock()
	defer r.Unlock()

	r.strategies = make(map[string]StrategyFactory)
	r.caches = make(map[string]CacheFactory)
}
