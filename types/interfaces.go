// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"
)

// QueryStrategy performs one recursive resolution attempt per Query call.
type QueryStrategy interface {
	// Query dispatches a resolution for the hostname and invokes the
	// callback exactly once when it completes.
	Query(hostname string, cb ResolveCallback)

	// ProcessEvents advances the strategy's internal state machine
	// without blocking.
	ProcessEvents()

	// Shutdown cancels all in-flight attempts, invoking each pending
	// callback with a Cancelled result, and releases resources.
	Shutdown()

	// IsInitialized reports whether the strategy is ready for queries.
	IsInitialized() bool
}

// Cache stores resolved address sets keyed by hostname.
type Cache interface {
	// Get returns the cached addresses when present and unexpired.
	Get(hostname string) ([]string, bool)

	// Peek returns the stored addresses without promotion, expiry
	// enforcement, or hit/miss accounting.
	Peek(hostname string) ([]string, bool)

	Put(hostname string, addrs []string)
	Remove(hostname string)
	Clear()
	Size() int
	HitRate() float64
}

// Upstream is a single configured recursive server and its health state.
type Upstream interface {
	// Address returns the server address in host:port form.
	Address() string

	Weight() int
	Enabled() bool
	Healthy() bool

	// Score is the selection score: weight / (1 + avg latency in ms).
	Score() float64

	AvgLatency() time.Duration

	// Timeout is the per-attempt exchange timeout for this server, or
	// zero when the global timeout applies.
	Timeout() time.Duration

	// ReportSuccess records a successful exchange and its round trip time.
	ReportSuccess(rtt time.Duration)

	// ReportFailure increments the error count, marking the server
	// unhealthy once the threshold is exceeded.
	ReportFailure()

	// ResetHealth returns the server to the healthy state with a zero
	// error count.
	ResetHealth()

	// Take blocks until the server's send pacing allows another query.
	Take()
}

// Selector chooses the upstream server for the next query.
type Selector interface {
	// Select returns the server to query next, or nil when none is
	// configured.
	Select() Upstream

	// Lookup returns the upstream with the matching address.
	Lookup(addr string) Upstream

	// Add places an upstream under management by the selector.
	Add(up Upstream)

	// All returns every upstream currently managed by the selector.
	All() []Upstream

	// Len returns the number of managed upstreams.
	Len() int

	// Close releases all resources held by the selector.
	Close()
}

// Metrics receives the measurements emitted by the resolver pipeline.
type Metrics interface {
	RecordQuery(hostname string, d time.Duration, success bool)
	RecordCacheHit(hostname string)
	RecordCacheMiss(hostname string)
	RecordServerLatency(server string, d time.Duration)
	RecordError(kind, detail string)
	RecordRetry(hostname string, attempt int)
}
