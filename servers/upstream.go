// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package servers models the configured upstream recursive servers and
// tracks their health and latency.
package servers

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// MaxLatencySamples bounds the per-server latency FIFO.
const MaxLatencySamples = 100

// DefaultErrorThreshold is the consecutive-error count beyond which a
// server is marked unhealthy, used when the config does not set one.
const DefaultErrorThreshold uint32 = 10

// Send pacing is derived from the same latency FIFO that feeds the
// selection score: a server is offered roughly one query per measured
// round trip, clamped so a noisy sample can neither flood a server nor
// starve it.
const (
	minPaceInterval = 10 * time.Millisecond
	maxPaceInterval = 500 * time.Millisecond

	// paceRetuneSamples is how many new samples accumulate between
	// limiter adjustments.
	paceRetuneSamples = 10
)

// Upstream is one configured recursive server. Health transitions follow
// the error threshold: failures accumulate until the count exceeds the
// threshold, any success resets it.
type Upstream struct {
	sync.Mutex
	addr      string
	weight    int
	enabled   bool
	timeout   time.Duration
	threshold uint32
	clock     clockwork.Clock
	limiter   *rate.Limiter

	healthy    bool
	errorCount uint32
	latencies  []time.Duration
	avgLatency time.Duration
	lastCheck  time.Time
	sinceTune  int
}

// Option configures an Upstream.
type Option func(*Upstream)

// WithWeight sets the selection weight (default 1).
func WithWeight(w int) Option {
	return func(u *Upstream) { u.weight = w }
}

// WithTimeout sets the per-attempt exchange timeout for this server.
func WithTimeout(d time.Duration) Option {
	return func(u *Upstream) { u.timeout = d }
}

// WithErrorThreshold sets the unhealthy transition threshold.
func WithErrorThreshold(n uint32) Option {
	return func(u *Upstream) { u.threshold = n }
}

// WithEnabled marks the server enabled or disabled for selection.
func WithEnabled(enabled bool) Option {
	return func(u *Upstream) { u.enabled = enabled }
}

// WithClock substitutes the clock used for health timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(u *Upstream) { u.clock = c }
}

// New returns an upstream for the address, which may omit the port; the
// default DNS port is appended when missing.
func New(addr string, opts ...Option) *Upstream {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		// Add the default port number to the IP address
		addr = net.JoinHostPort(addr, "53")
	}

	u := &Upstream{
		addr:      addr,
		weight:    1,
		enabled:   true,
		threshold: DefaultErrorThreshold,
		clock:     clockwork.NewRealClock(),
		limiter:   rate.NewLimiter(rate.Every(maxPaceInterval/5), 1),
		healthy:   true,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Address returns the server address in host:port form.
func (u *Upstream) Address() string { return u.addr }

// Weight returns the configured selection weight.
func (u *Upstream) Weight() int { return u.weight }

// Enabled reports whether the server participates in selection.
func (u *Upstream) Enabled() bool { return u.enabled }

// Timeout returns the per-attempt timeout, or zero when the global
// timeout applies.
func (u *Upstream) Timeout() time.Duration { return u.timeout }

// Healthy reports whether the error count has stayed within the threshold.
func (u *Upstream) Healthy() bool {
	u.Lock()
	defer u.Unlock()

	return u.healthy
}

// AvgLatency returns the mean of the bounded latency FIFO.
func (u *Upstream) AvgLatency() time.Duration {
	u.Lock()
	defer u.Unlock()

	return u.avgLatency
}

// Score returns weight / (1 + avg latency in ms).
func (u *Upstream) Score() float64 {
	u.Lock()
	defer u.Unlock()

	return float64(u.weight) / (1.0 + float64(u.avgLatency.Milliseconds()))
}

// LastCheck returns the time of the most recent successful exchange.
func (u *Upstream) LastCheck() time.Time {
	u.Lock()
	defer u.Unlock()

	return u.lastCheck
}

// ReportSuccess appends the round trip time to the latency FIFO,
// recomputes the mean, restores the healthy state, and periodically
// retunes the send pacing from the new mean.
func (u *Upstream) ReportSuccess(rtt time.Duration) {
	u.Lock()
	defer u.Unlock()

	u.latencies = append(u.latencies, rtt)
	if len(u.latencies) > MaxLatencySamples {
		u.latencies = u.latencies[1:]
	}

	var total time.Duration
	for _, sample := range u.latencies {
		total += sample
	}
	u.avgLatency = total / time.Duration(len(u.latencies))

	u.sinceTune++
	if len(u.latencies) == 1 || u.sinceTune >= paceRetuneSamples {
		u.limiter.SetLimit(rate.Every(paceInterval(u.avgLatency)))
		u.sinceTune = 0
	}

	u.errorCount = 0
	u.healthy = true
	u.lastCheck = u.clock.Now()
}

// ReportFailure increments the error count and marks the server unhealthy
// once the count exceeds the threshold.
func (u *Upstream) ReportFailure() {
	u.Lock()
	defer u.Unlock()

	u.errorCount++
	if u.errorCount > u.threshold {
		u.healthy = false
	}
}

// ResetHealth returns the server to the healthy state with a zero error
// count.
func (u *Upstream) ResetHealth() {
	u.Lock()
	defer u.Unlock()

	u.healthy = true
	u.errorCount = 0
}

// Take blocks until the server's send pacing allows another query.
func (u *Upstream) Take() {
	_ = u.limiter.Wait(context.TODO())
}

// paceInterval clamps the mean round trip time to the pacing bounds.
func paceInterval(avg time.Duration) time.Duration {
	if avg < minPaceInterval {
		return minPaceInterval
	}
	if avg > maxPaceInterval {
		return maxPaceInterval
	}
	return avg
}
