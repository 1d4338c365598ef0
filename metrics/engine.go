// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package metrics collects counters, per-host and per-server statistics,
// and derived performance numbers for the resolver.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// MaxSamples bounds the query-duration window used for percentiles
	// and the per-server latency rings.
	MaxSamples = 1000

	// MaxRetryHistory bounds the per-host retry attempt history.
	MaxRetryHistory = 100

	// CleanupInterval is how often stale per-key statistics are dropped.
	CleanupInterval = time.Hour

	// PerformanceUpdateInterval is the minimum time between recomputations
	// of the performance snapshot.
	PerformanceUpdateInterval = time.Minute
)

// HostStats aggregates measurements for a single hostname.
type HostStats struct {
	QueryCount        uint64
	CacheHits         uint64
	CacheMisses       uint64
	RetryCount        uint64
	LastQueryTime     time.Time
	LastCacheHitTime  time.Time
	LastCacheMissTime time.Time
	LastRetryTime     time.Time
	Durations         RunningStats
}

// ServerStats aggregates latency measurements for a single upstream server.
type ServerStats struct {
	AvgLatency  float64
	SampleCount int
	LastUpdate  time.Time
}

// ErrorStats aggregates occurrences of a single error kind.
type ErrorStats struct {
	Count          uint64
	LastOccurrence time.Time
	LastDetail     string
}

// Performance is the derived snapshot recomputed at most once per
// PerformanceUpdateInterval.
type Performance struct {
	QueriesPerSecond float64
	CacheHitRate     float64
	AvgResponseTime  float64
	ErrorRate        float64
	MeasuredAt       time.Time
}

// AlertThresholds are the limits evaluated by Alerts and at ingestion time.
type AlertThresholds struct {
	MaxLatency      time.Duration
	MaxErrorRate    float64
	MinCacheHitRate float64
	MaxRetryCount   uint32
}

// DefaultAlertThresholds returns the thresholds used until overridden.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxLatency:      time.Second,
		MaxErrorRate:    0.1,
		MinCacheHitRate: 0.5,
		MaxRetryCount:   3,
	}
}

// Snapshot is a copy of all collected statistics.
type Snapshot struct {
	TotalQueries      uint64
	SuccessfulQueries uint64
	FailedQueries     uint64
	CacheHits         uint64
	CacheMisses       uint64
	TotalRetries      uint64
	CacheHitRate      float64
	AvgQueryTimeMs    float64
	QueryTimeStddevMs float64
	MinQueryTimeMs    float64
	MaxQueryTimeMs    float64
	HostStats         map[string]HostStats
	ServerStats       map[string]ServerStats
	ErrorStats        map[string]ErrorStats
	RetryAttempts     map[string][]int
}

// Engine is the metrics engine. The six top-level counters are updated
// atomically; the per-key maps and sample windows are guarded by the mutex.
type Engine struct {
	sync.Mutex
	log   *zap.Logger
	clock clockwork.Clock

	totalQueries      atomic.Uint64
	successfulQueries atomic.Uint64
	failedQueries     atomic.Uint64
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	totalRetries      atomic.Uint64

	queryStats      RunningStats
	queryDurations  []float64
	hostStats       map[string]*HostStats
	serverStats     map[string]*ServerStats
	serverLatencies map[string][]float64
	errorStats      map[string]*ErrorStats
	retryAttempts   map[string][]int

	thresholds  AlertThresholds
	performance Performance
	lastPerf    time.Time
	lastCleanup time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock substitutes the clock used for interval decisions.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// NewEngine returns a metrics engine ready for concurrent use.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:             zap.NewNop(),
		clock:           clockwork.NewRealClock(),
		hostStats:       make(map[string]*HostStats),
		serverStats:     make(map[string]*ServerStats),
		serverLatencies: make(map[string][]float64),
		errorStats:      make(map[string]*ErrorStats),
		retryAttempts:   make(map[string][]int),
		thresholds:      DefaultAlertThresholds(),
	}
	for _, opt := range opts {
		opt(e)
	}

	now := e.clock.Now()
	e.lastPerf = now
	e.lastCleanup = now
	return e
}

// RecordQuery records one completed resolution and its duration.
func (e *Engine) RecordQuery(hostname string, d time.Duration, success bool) {
	e.totalQueries.Add(1)
	if success {
		e.successfulQueries.Add(1)
	} else {
		e.failedQueries.Add(1)
	}

	ms := float64(d.Milliseconds())

	e.Lock()
	defer e.Unlock()

	e.queryStats.Update(ms)

	hs := e.host(hostname)
	hs.QueryCount++
	hs.LastQueryTime = e.clock.Now()
	hs.Durations.Update(ms)

	e.queryDurations = append(e.queryDurations, ms)
	if len(e.queryDurations) > MaxSamples {
		e.queryDurations = e.queryDurations[1:]
	}

	e.cleanup()
	e.updatePerformance()
}

// RecordCacheHit records a cache hit for the hostname.
func (e *Engine) RecordCacheHit(hostname string) {
	e.cacheHits.Add(1)

	e.Lock()
	defer e.Unlock()

	hs := e.host(hostname)
	hs.CacheHits++
	hs.LastCacheHitTime = e.clock.Now()
	e.updatePerformance()
}

// RecordCacheMiss records a cache miss for the hostname.
func (e *Engine) RecordCacheMiss(hostname string) {
	e.cacheMisses.Add(1)

	e.Lock()
	defer e.Unlock()

	hs := e.host(hostname)
	hs.CacheMisses++
	hs.LastCacheMissTime = e.clock.Now()
	e.updatePerformance()
}

// RecordServerLatency records one latency sample for an upstream server.
func (e *Engine) RecordServerLatency(server string, d time.Duration) {
	ms := float64(d.Milliseconds())

	e.Lock()
	defer e.Unlock()

	ring := append(e.serverLatencies[server], ms)
	if len(ring) > MaxSamples {
		ring = ring[1:]
	}
	e.serverLatencies[server] = ring

	var sum float64
	for _, sample := range ring {
		sum += sample
	}

	ss, found := e.serverStats[server]
	if !found {
		ss = &ServerStats{}
		e.serverStats[server] = ss
	}
	ss.AvgLatency = sum / float64(len(ring))
	ss.SampleCount = len(ring)
	ss.LastUpdate = e.clock.Now()

	if d > e.thresholds.MaxLatency {
		e.log.Warn("server latency exceeded threshold",
			zap.String("server", server),
			zap.Duration("latency", d),
			zap.Duration("threshold", e.thresholds.MaxLatency))
	}
}

// RecordError records one occurrence of an error kind.
func (e *Engine) RecordError(kind, detail string) {
	e.Lock()
	defer e.Unlock()

	es, found := e.errorStats[kind]
	if !found {
		es = &ErrorStats{}
		e.errorStats[kind] = es
	}
	es.Count++
	es.LastOccurrence = e.clock.Now()
	es.LastDetail = detail

	e.updatePerformance()

	if e.performance.ErrorRate > e.thresholds.MaxErrorRate {
		e.log.Warn("error rate exceeded threshold",
			zap.Float64("error_rate", e.performance.ErrorRate),
			zap.Float64("threshold", e.thresholds.MaxErrorRate))
	}
}

// RecordRetry records one retry attempt for the hostname.
func (e *Engine) RecordRetry(hostname string, attempt int) {
	e.totalRetries.Add(1)

	e.Lock()
	defer e.Unlock()

	hs := e.host(hostname)
	hs.RetryCount++
	hs.LastRetryTime = e.clock.Now()

	attempts := append(e.retryAttempts[hostname], attempt)
	if n := len(attempts); n > MaxRetryHistory {
		attempts = attempts[n-MaxRetryHistory:]
	}
	e.retryAttempts[hostname] = attempts

	if uint32(attempt) > e.thresholds.MaxRetryCount {
		e.log.Warn("hostname exceeded retry threshold",
			zap.String("hostname", hostname),
			zap.Int("attempt", attempt))
	}
}

// SetAlertThresholds replaces the alert thresholds.
func (e *Engine) SetAlertThresholds(t AlertThresholds) {
	e.Lock()
	defer e.Unlock()

	e.thresholds = t
}

// Alerts returns human-readable lines for every threshold the current
// performance snapshot violates.
func (e *Engine) Alerts() []string {
	e.Lock()
	defer e.Unlock()

	var alerts []string
	if e.performance.ErrorRate > e.thresholds.MaxErrorRate {
		alerts = append(alerts, fmt.Sprintf("Error rate %.2f%% exceeded threshold %.2f%%",
			e.performance.ErrorRate*100, e.thresholds.MaxErrorRate*100))
	}
	if e.performance.CacheHitRate < e.thresholds.MinCacheHitRate {
		alerts = append(alerts, fmt.Sprintf("Cache hit rate %.2f%% below threshold %.2f%%",
			e.performance.CacheHitRate*100, e.thresholds.MinCacheHitRate*100))
	}
	return alerts
}

// Performance returns the current derived snapshot. It lags live counters
// by at most PerformanceUpdateInterval.
func (e *Engine) Performance() Performance {
	e.Lock()
	defer e.Unlock()

	e.updatePerformance()
	return e.performance
}

// Stats returns a copy of everything collected so far.
func (e *Engine) Stats() Snapshot {
	e.Lock()
	defer e.Unlock()

	s := Snapshot{
		TotalQueries:      e.totalQueries.Load(),
		SuccessfulQueries: e.successfulQueries.Load(),
		FailedQueries:     e.failedQueries.Load(),
		CacheHits:         e.cacheHits.Load(),
		CacheMisses:       e.cacheMisses.Load(),
		TotalRetries:      e.totalRetries.Load(),
		HostStats:         make(map[string]HostStats, len(e.hostStats)),
		ServerStats:       make(map[string]ServerStats, len(e.serverStats)),
		ErrorStats:        make(map[string]ErrorStats, len(e.errorStats)),
		RetryAttempts:     make(map[string][]int, len(e.retryAttempts)),
	}

	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(total)
	}
	if e.queryStats.Count() > 0 {
		s.AvgQueryTimeMs = e.queryStats.Mean()
		s.QueryTimeStddevMs = e.queryStats.Stddev()
		s.MinQueryTimeMs = e.queryStats.Min()
		s.MaxQueryTimeMs = e.queryStats.Max()
	}

	for host, hs := range e.hostStats {
		s.HostStats[host] = *hs
	}
	for server, ss := range e.serverStats {
		s.ServerStats[server] = *ss
	}
	for kind, es := range e.errorStats {
		s.ErrorStats[kind] = *es
	}
	for host, attempts := range e.retryAttempts {
		s.RetryAttempts[host] = append([]int{}, attempts...)
	}
	return s
}

// Reset zeroes every counter, map and sample window, and restarts the
// interval clocks.
func (e *Engine) Reset() {
	e.Lock()
	defer e.Unlock()

	e.totalQueries.Store(0)
	e.successfulQueries.Store(0)
	e.failedQueries.Store(0)
	e.cacheHits.Store(0)
	e.cacheMisses.Store(0)
	e.totalRetries.Store(0)

	e.queryStats = RunningStats{}
	e.queryDurations = nil
	e.hostStats = make(map[string]*HostStats)
	e.serverStats = make(map[string]*ServerStats)
	e.serverLatencies = make(map[string][]float64)
	e.errorStats = make(map[string]*ErrorStats)
	e.retryAttempts = make(map[string][]int)

	e.performance = Performance{}
	now := e.clock.Now()
	e.lastPerf = now
	e.lastCleanup = now

	e.log.Info("all metrics have been reset")
}

// host returns the stats entry for a hostname, creating it when absent.
// Callers must hold the lock.
func (e *Engine) host(hostname string) *HostStats {
	hs, found := e.hostStats[hostname]
	if !found {
		hs = &HostStats{}
		e.hostStats[hostname] = hs
	}
	return hs
}

// updatePerformance recomputes the derived snapshot when the interval has
// elapsed. Callers must hold the lock.
func (e *Engine) updatePerformance() {
	now := e.clock.Now()

	elapsed := now.Sub(e.lastPerf)
	if elapsed < PerformanceUpdateInterval {
		return
	}

	total := e.totalQueries.Load()
	e.performance.QueriesPerSecond = float64(total) / elapsed.Seconds()

	hits := e.cacheHits.Load()
	if sum := hits + e.cacheMisses.Load(); sum > 0 {
		e.performance.CacheHitRate = float64(hits) / float64(sum)
	} else {
		e.performance.CacheHitRate = 0
	}

	e.performance.AvgResponseTime = e.queryStats.Mean()

	if total > 0 {
		e.performance.ErrorRate = float64(e.failedQueries.Load()) / float64(total)
	} else {
		e.performance.ErrorRate = 0
	}

	e.performance.MeasuredAt = now
	e.lastPerf = now
}

// cleanup drops stale per-key statistics when the interval has elapsed.
// Callers must hold the lock.
func (e *Engine) cleanup() {
	now := e.clock.Now()
	if now.Sub(e.lastCleanup) < CleanupInterval {
		return
	}

	for host, hs := range e.hostStats {
		if now.Sub(hs.LastQueryTime) > CleanupInterval {
			delete(e.hostStats, host)
		}
	}
	for host := range e.retryAttempts {
		if _, found := e.hostStats[host]; !found {
			delete(e.retryAttempts, host)
		}
	}
	for server, ss := range e.serverStats {
		if now.Sub(ss.LastUpdate) > CleanupInterval {
			delete(e.serverStats, server)
			delete(e.serverLatencies, server)
		}
	}

	e.lastCleanup = now
}
