// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package strategies implements the pluggable query strategies that
// perform one recursive resolution per dispatch.
package strategies

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/glassdns/resolve/config"
	"github.com/glassdns/resolve/types"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is used when neither the server nor the global
// configuration carries a per-attempt timeout.
const DefaultTimeout = 2 * time.Second

// Recursive resolves hostnames against the upstream chosen by the
// selector, querying A and AAAA in parallel when IPv6 is enabled. Each
// dispatch makes up to the configured number of attempts, reselecting the
// upstream after a failed one.
type Recursive struct {
	log         *zap.Logger
	sel         types.Selector
	timeout     time.Duration
	ipv6        bool
	maxAttempts int
	inflight    *inflightTable
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	initialized atomic.Bool
	latency     func(server string, rtt time.Duration)
}

// NewRecursive returns an initialized strategy over the selector.
func NewRecursive(cfg config.Config, sel types.Selector, log *zap.Logger) *Recursive {
	if log == nil {
		log = zap.NewNop()
	}

	timeout := cfg.QueryTimeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := int(cfg.Retry.MaxAttempts)
	if attempts < 1 {
		attempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recursive{
		log:         log,
		sel:         sel,
		timeout:     timeout,
		ipv6:        cfg.Global.IPv6Enabled,
		maxAttempts: attempts,
		inflight:    newInflightTable(),
		done:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
	r.initialized.Store(true)
	return r
}

// OnServerLatency registers an observer for per-server round trip times.
// It must be called before the first Query.
func (r *Recursive) OnServerLatency(fn func(server string, rtt time.Duration)) {
	r.latency = fn
}

// IsInitialized reports whether the strategy is ready for queries.
func (r *Recursive) IsInitialized() bool {
	return r.initialized.Load()
}

// Query dispatches one resolution and invokes the callback exactly once.
// Validation failures invoke it on the caller's goroutine.
func (r *Recursive) Query(hostname string, cb types.ResolveCallback) {
	if !r.IsInitialized() {
		cb(&types.ResolveResult{
			Status:   types.NotInitialized,
			Hostname: hostname,
			Error:    "query strategy is not initialized",
		})
		return
	}

	up := r.sel.Select()
	if up == nil {
		cb(&types.ResolveResult{
			Status:   types.ServerFail,
			Hostname: hostname,
			Error:    "no upstream server is available",
		})
		return
	}

	now := time.Now()
	deadline := now.Add(r.timeout * time.Duration(r.maxAttempts+1))
	qc := r.inflight.add(hostname, cb, now, deadline)

	go r.run(qc, up)
}

// ProcessEvents sweeps the in-flight table, timing out contexts whose
// attempts have overstayed their deadline. It never blocks.
func (r *Recursive) ProcessEvents() {
	for _, qc := range r.inflight.removeExpired(time.Now()) {
		qc.cb(&types.ResolveResult{
			Status:         types.Timeout,
			Hostname:       qc.hostname,
			ResolutionTime: time.Since(qc.start),
			Error:          "the query exceeded its deadline",
		})
	}
}

// Shutdown cancels all in-flight attempts, invoking each pending callback
// with a Cancelled result. It is idempotent.
func (r *Recursive) Shutdown() {
	if !r.initialized.CompareAndSwap(true, false) {
		return
	}

	select {
	case <-r.done:
	default:
		close(r.done)
	}
	r.cancel()

	// Drain the in-flight contexts and allow callers to return.
	for _, qc := range r.inflight.removeAll() {
		qc.cb(&types.ResolveResult{
			Status:         types.Cancelled,
			Hostname:       qc.hostname,
			ResolutionTime: time.Since(qc.start),
			Error:          "the query was cancelled",
		})
	}

	r.log.Info("query strategy shutdown completed")
}

func (r *Recursive) run(qc *queryContext, up types.Upstream) {
	var result *types.ResolveResult

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		select {
		case <-r.done:
			r.complete(qc, &types.ResolveResult{
				Status:         types.Cancelled,
				Hostname:       qc.hostname,
				ResolutionTime: time.Since(qc.start),
				Error:          "the query was cancelled",
			})
			return
		default:
		}

		if up == nil {
			if up = r.sel.Select(); up == nil {
				r.complete(qc, &types.ResolveResult{
					Status:         types.ServerFail,
					Hostname:       qc.hostname,
					ResolutionTime: time.Since(qc.start),
					Error:          "no upstream server is available",
				})
				return
			}
		}

		result = r.attempt(qc, up)
		if !result.Status.Retryable() {
			break
		}
		// Reselect; the failed server may have just gone unhealthy.
		up = nil
	}

	r.complete(qc, result)
}

// attempt performs one dual-stack exchange against the upstream and
// reports the outcome to it.
func (r *Recursive) attempt(qc *queryContext, up types.Upstream) *types.ResolveResult {
	timeout := up.Timeout()
	if timeout <= 0 {
		timeout = r.timeout
	}

	up.Take()
	start := time.Now()

	var v4, v6 *dns.Msg
	var v4err, v6err error

	var g errgroup.Group
	g.Go(func() error {
		v4, v4err = r.exchange(queryMsg(qc.hostname, dns.TypeA), up.Address(), timeout)
		return nil
	})
	if r.ipv6 {
		g.Go(func() error {
			v6, v6err = r.exchange(queryMsg(qc.hostname, dns.TypeAAAA), up.Address(), timeout)
			return nil
		})
	}
	_ = g.Wait()
	rtt := time.Since(start)

	result := r.evaluate(qc, v4, v6, v4err, v6err)
	switch result.Status {
	case types.Success:
		up.ReportSuccess(rtt)
		if r.latency != nil {
			r.latency(up.Address(), rtt)
		}
	case types.Cancelled:
	default:
		up.ReportFailure()
		r.log.Debug("query attempt failed",
			zap.String("hostname", qc.hostname),
			zap.String("server", up.Address()),
			zap.String("status", result.Status.String()))
	}
	return result
}

// exchange sends one message over UDP, falling back to TCP when the
// response was truncated.
func (r *Recursive) exchange(msg *dns.Msg, addr string, timeout time.Duration) (*dns.Msg, error) {
	client := dns.Client{
		Net:     "udp",
		UDPSize: dns.DefaultMsgSize,
		Timeout: timeout,
	}

	resp, _, err := client.ExchangeContext(r.ctx, msg, addr)
	if err == nil && resp.Truncated {
		client.Net = "tcp"
		resp, _, err = client.ExchangeContext(r.ctx, msg, addr)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Recursive) evaluate(qc *queryContext, v4, v6 *dns.Msg, v4err, v6err error) *types.ResolveResult {
	result := &types.ResolveResult{
		Hostname:       qc.hostname,
		ResolutionTime: time.Since(qc.start),
	}

	addrs := answerAddresses(v4, dns.TypeA)
	addrs = append(addrs, answerAddresses(v6, dns.TypeAAAA)...)
	if len(addrs) > 0 {
		result.Status = types.Success
		result.Addresses = addrs
		return result
	}

	resp := v4
	err := v4err
	if resp == nil {
		resp = v6
		if err == nil {
			err = v6err
		}
	}

	switch {
	case resp == nil && (errors.Is(err, context.Canceled)):
		result.Status = types.Cancelled
		result.Error = "the query was cancelled"
	case resp == nil && isTimeout(err):
		result.Status = types.Timeout
		result.Error = "the query timed out"
	case resp == nil:
		result.Status = types.ServerFail
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Error = "no response from the upstream server"
		}
	case resp.Rcode == dns.RcodeNameError:
		result.Status = types.NotFound
		result.Error = "the hostname does not exist"
	case resp.Rcode == dns.RcodeSuccess:
		result.Status = types.NoData
		result.Error = "the upstream returned no address records"
	default:
		result.Status = types.ServerFail
		result.Error = "the upstream returned " + dns.RcodeToString[resp.Rcode]
	}
	return result
}

// complete delivers the result unless the context was already taken by a
// sweep or the shutdown drain.
func (r *Recursive) complete(qc *queryContext, result *types.ResolveResult) {
	if taken := r.inflight.take(qc.id); taken != nil {
		taken.cb(result)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
