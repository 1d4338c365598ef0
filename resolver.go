// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffix/queue"
	"github.com/glassdns/resolve/cache"
	"github.com/glassdns/resolve/config"
	"github.com/glassdns/resolve/events"
	"github.com/glassdns/resolve/metrics"
	"github.com/glassdns/resolve/registry"
	"github.com/glassdns/resolve/selectors"
	"github.com/glassdns/resolve/servers"
	"github.com/glassdns/resolve/strategies"
	"github.com/glassdns/resolve/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resolver orchestrates the resolution pipeline: admission control, the
// cache probe, dispatch to the active query strategy, retry with
// scheduled backoff, address-change detection, and callback delivery.
type Resolver struct {
	done     chan struct{}
	log      *zap.Logger
	clock    clockwork.Clock
	store    *config.Store
	registry *registry.Registry
	bus      *events.Bus
	engine   *metrics.Engine
	cache    types.Cache
	strategy types.QueryStrategy
	queue    queue.Queue
	rate     *rate.Limiter

	initialized atomic.Bool

	mu       sync.Mutex
	contexts map[uint64]*resolveContext
	nextID   uint64
}

// resolveContext tracks one accepted resolve call from admission until
// its callback has run. The orchestrator owns it; the strategy only ever
// sees the hostname and a completion function.
type resolveContext struct {
	id        uint64
	hostname  string
	cb        types.ResolveCallback
	start     time.Time
	retries   int
	snapshot  config.Config
	oldAddrs  []string
	delivered bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithClock substitutes the clock driving retry backoff and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithCache injects a cache, overriding the one built from the config.
func WithCache(c types.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithStrategy injects a query strategy, overriding the registry-built one.
func WithStrategy(s types.QueryStrategy) Option {
	return func(r *Resolver) { r.strategy = s }
}

// WithMetrics injects a metrics engine.
func WithMetrics(e *metrics.Engine) Option {
	return func(r *Resolver) { r.engine = e }
}

// WithEventBus injects an event bus.
func WithEventBus(b *events.Bus) Option {
	return func(r *Resolver) { r.bus = b }
}

// WithQPS limits the rate at which queued queries are dispatched.
func WithQPS(qps int) Option {
	return func(r *Resolver) {
		if qps > 0 {
			r.rate = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

// New returns a resolver over the configuration store. Initialize must be
// called before resolving.
func New(store *config.Store, opts ...Option) *Resolver {
	r := &Resolver{
		done:     make(chan struct{}, 1),
		log:      zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		store:    store,
		queue:    queue.NewQueue(),
		contexts: make(map[uint64]*resolveContext),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.registry = registry.New(r.log)
	if r.bus == nil {
		r.bus = events.NewBus(r.log)
	}
	return r
}

// Initialize validates the current configuration, registers the built-in
// strategy and cache factories, builds the active components, and starts
// the dispatch loop. Calling it a second time is a logged no-op.
func (r *Resolver) Initialize() error {
	if !r.initialized.CompareAndSwap(false, true) {
		r.log.Warn("resolver already initialized")
		return nil
	}

	cfg := r.store.Get()
	if err := cfg.Validate(); err != nil {
		r.initialized.Store(false)
		r.log.Error("invalid configuration", zap.Error(err))
		return err
	}

	r.registerBuiltins()

	if r.strategy == nil {
		strategy, err := r.registry.CreateStrategy("recursive", cfg)
		if err != nil {
			r.initialized.Store(false)
			r.log.Error("failed to create query strategy", zap.Error(err))
			return err
		}
		r.strategy = strategy

		if rec, ok := strategy.(*strategies.Recursive); ok {
			rec.OnServerLatency(func(server string, rtt time.Duration) {
				if r.engine != nil {
					r.engine.RecordServerLatency(server, rtt)
				}
			})
		}
	}

	if r.cache == nil && cfg.Cache.Enabled {
		built, err := r.registry.CreateCache("lru", cfg.Cache)
		if err != nil {
			r.initialized.Store(false)
			r.log.Error("failed to create cache", zap.Error(err))
			return err
		}
		r.cache = built
	}

	if r.engine == nil && cfg.Metrics.Enabled {
		r.engine = metrics.NewEngine(
			metrics.WithLogger(r.log),
			metrics.WithClock(r.clock),
		)
	}

	r.store.OnChange(r.handleConfigChange)

	go r.drain()

	r.log.Info("resolver initialized successfully")
	return nil
}

// registerBuiltins installs the factories shipped with the service.
func (r *Resolver) registerBuiltins() {
	clock := r.clock
	log := r.log

	r.registry.RegisterStrategy("recursive", func(cfg config.Config) (types.QueryStrategy, error) {
		sel := selectors.NewScored(log)
		for _, s := range cfg.Servers {
			addr := net.JoinHostPort(s.Address, strconv.Itoa(int(s.Port)))
			sel.Add(servers.New(addr,
				servers.WithWeight(int(s.Weight)),
				servers.WithTimeout(s.Timeout()),
				servers.WithEnabled(s.Enabled),
				servers.WithErrorThreshold(cfg.Global.ServerErrorThreshold),
				servers.WithClock(clock),
			))
		}
		return strategies.NewRecursive(cfg, sel, log), nil
	})

	r.registry.RegisterCache("lru", func(cfg config.Cache) (types.Cache, error) {
		ttl := time.Duration(cfg.TTLMillis) * time.Millisecond
		return cache.New(cfg.MaxSize, ttl,
			cache.WithClock(clock),
			cache.WithLogger(log),
		), nil
	})
}

// Resolve runs the pipeline for the hostname and invokes the callback
// exactly once with the outcome. Early rejections invoke it on the
// caller's goroutine.
func (r *Resolver) Resolve(hostname string, cb types.ResolveCallback) {
	if !r.initialized.Load() {
		cb(&types.ResolveResult{
			Status:   types.NotInitialized,
			Hostname: hostname,
			Error:    "resolver is not initialized",
		})
		return
	}

	name, err := NormalizeHostname(hostname)
	if err != nil {
		cb(&types.ResolveResult{
			Status:   types.BadName,
			Hostname: hostname,
			Error:    "hostname failed validation",
		})
		return
	}

	snapshot := r.store.Get()

	r.mu.Lock()
	if uint32(len(r.contexts)) >= snapshot.Global.MaxConcurrentQueries {
		r.mu.Unlock()
		cb(&types.ResolveResult{
			Status:   types.Busy,
			Hostname: name,
			Error:    "concurrent query limit reached",
		})
		return
	}
	r.nextID++
	rc := &resolveContext{
		id:       r.nextID,
		hostname: name,
		cb:       cb,
		start:    r.clock.Now(),
		snapshot: snapshot,
	}
	r.contexts[rc.id] = rc
	r.mu.Unlock()

	r.bus.PublishQueryStart(name)

	if r.cache != nil {
		// Peek first: the probe sweeps out an expired entry, and its
		// addresses are still the baseline for change detection.
		oldAddrs, _ := r.cache.Peek(name)

		if addrs, found := r.cache.Get(name); found {
			r.recordCacheHit(name)
			r.deliver(rc, &types.ResolveResult{
				Status:         types.Success,
				Hostname:       name,
				Addresses:      addrs,
				ResolutionTime: r.clock.Since(rc.start),
				FromCache:      true,
			})
			return
		}
		r.recordCacheMiss(name)
		rc.oldAddrs = oldAddrs
	}

	r.queue.Append(rc)
}

// ProcessEvents advances the active strategy's state machine.
func (r *Resolver) ProcessEvents() {
	if !r.initialized.Load() {
		return
	}
	if r.strategy != nil {
		r.strategy.ProcessEvents()
	}
}

// Shutdown stops accepting resolve calls, cancels every in-flight query,
// tears down the plugin registry, and deregisters the config change
// handler. It is idempotent.
func (r *Resolver) Shutdown() {
	if !r.initialized.CompareAndSwap(true, false) {
		r.log.Warn("resolver is already shut down")
		return
	}

	r.log.Info("shutting down resolver")

	select {
	case <-r.done:
	default:
		close(r.done)
	}

	if r.strategy != nil {
		r.strategy.Shutdown()
	}
	r.registry.Close()
	r.store.OnChange(nil)

	// Contexts queued or parked in backoff still hold callbacks.
	r.mu.Lock()
	pending := make([]*resolveContext, 0, len(r.contexts))
	for _, rc := range r.contexts {
		pending = append(pending, rc)
	}
	r.mu.Unlock()

	for _, rc := range pending {
		r.deliver(rc, r.cancelledResult(rc))
	}

	r.log.Info("resolver shutdown completed")
}

// Cache returns the active cache, which may be nil when disabled.
func (r *Resolver) Cache() types.Cache { return r.cache }

// Metrics returns the metrics engine, which may be nil when disabled.
func (r *Resolver) Metrics() *metrics.Engine { return r.engine }

// EventBus returns the resolver's event bus.
func (r *Resolver) EventBus() *events.Bus { return r.bus }

// Registry returns the plugin factory registry.
func (r *Resolver) Registry() *registry.Registry { return r.registry }

// Config returns the current configuration snapshot.
func (r *Resolver) Config() config.Config { return r.store.Get() }

// drain moves accepted queries from the queue to the strategy until
// shutdown, honoring the optional dispatch rate limit.
func (r *Resolver) drain() {
	t := time.NewTicker(time.Second)
	defer t.Stop()

loop:
	for {
		select {
		case <-r.done:
			break loop
		case <-t.C:
		case <-r.queue.Signal():
		}

		for {
			element, found := r.queue.Next()
			if !found {
				break
			}

			rc := element.(*resolveContext)
			if r.rate != nil {
				_ = r.rate.Wait(context.TODO())
			}
			go r.dispatch(rc)
		}
	}

	// Release the requests remaining on the queue.
	r.queue.Process(func(element interface{}) {
		if rc, ok := element.(*resolveContext); ok {
			r.deliver(rc, r.cancelledResult(rc))
		}
	})
}

func (r *Resolver) dispatch(rc *resolveContext) {
	select {
	case <-r.done:
		r.deliver(rc, r.cancelledResult(rc))
		return
	default:
	}

	r.strategy.Query(rc.hostname, func(result *types.ResolveResult) {
		r.handleResult(rc, result)
	})
}

// handleResult runs on the strategy's callback goroutine. It must not
// block; retry waits are scheduled, never slept.
func (r *Resolver) handleResult(rc *resolveContext, result *types.ResolveResult) {
	success := result.Status == types.Success

	r.recordQuery(rc.hostname, result.ResolutionTime, success)
	if !success {
		r.recordError("resolution_failure", result.Error)
	}

	if success && len(result.Addresses) > 0 {
		if r.cache != nil {
			r.cache.Put(rc.hostname, result.Addresses)
		}
		// The change event is published before the user callback runs.
		if !equalAddrs(rc.oldAddrs, result.Addresses) {
			r.notifyAddressChange(rc, result.Addresses)
		}
		r.deliver(rc, result)
		return
	}

	if result.Status.Retryable() && rc.retries < int(rc.snapshot.Retry.MaxAttempts) {
		delay := TruncatedExponentialBackoff(rc.retries, rc.snapshot.BaseDelay(), rc.snapshot.MaxDelay())
		rc.retries++
		r.recordRetry(rc.hostname, rc.retries)

		r.log.Debug("scheduling retry",
			zap.String("hostname", rc.hostname),
			zap.Int("attempt", rc.retries),
			zap.Duration("delay", delay))

		r.clock.AfterFunc(delay, func() {
			select {
			case <-r.done:
				r.deliver(rc, r.cancelledResult(rc))
			default:
				r.queue.Append(rc)
			}
		})
		return
	}

	r.deliver(rc, result)
}

// deliver invokes the user callback and publishes completion, exactly
// once per accepted resolve call.
func (r *Resolver) deliver(rc *resolveContext, result *types.ResolveResult) {
	r.mu.Lock()
	if rc.delivered {
		r.mu.Unlock()
		return
	}
	rc.delivered = true
	delete(r.contexts, rc.id)
	r.mu.Unlock()

	rc.cb(result)
	r.bus.PublishQueryComplete(rc.hostname, result.Addresses, result.Status == types.Success)
}

func (r *Resolver) notifyAddressChange(rc *resolveContext, newAddrs []string) {
	var ttl time.Duration
	if tc, ok := r.cache.(*cache.TTLCache); ok {
		ttl = tc.TTL()
	} else {
		ttl = rc.snapshot.CacheTTL()
	}

	r.bus.PublishAddressChange(&events.AddressChange{
		Hostname:      rc.hostname,
		Old:           rc.oldAddrs,
		New:           newAddrs,
		Timestamp:     r.clock.Now(),
		TTL:           ttl,
		RecordType:    recordType(newAddrs),
		Source:        "dns_resolver",
		Authoritative: false,
	})
}

func (r *Resolver) handleConfigChange(cfg config.Config) {
	r.log.Info("applying configuration changes",
		zap.Int("servers", len(cfg.Servers)),
		zap.Uint32("max_concurrent_queries", cfg.Global.MaxConcurrentQueries))
}

func (r *Resolver) cancelledResult(rc *resolveContext) *types.ResolveResult {
	return &types.ResolveResult{
		Status:         types.Cancelled,
		Hostname:       rc.hostname,
		ResolutionTime: r.clock.Since(rc.start),
		Error:          "the query was cancelled",
	}
}

func (r *Resolver) recordQuery(hostname string, d time.Duration, success bool) {
	if r.engine != nil {
		r.engine.RecordQuery(hostname, d, success)
	}
}

func (r *Resolver) recordCacheHit(hostname string) {
	if r.engine != nil {
		r.engine.RecordCacheHit(hostname)
	}
}

func (r *Resolver) recordCacheMiss(hostname string) {
	if r.engine != nil {
		r.engine.RecordCacheMiss(hostname)
	}
}

func (r *Resolver) recordRetry(hostname string, attempt int) {
	if r.engine != nil {
		r.engine.RecordRetry(hostname, attempt)
	}
}

func (r *Resolver) recordError(kind, detail string) {
	if r.engine != nil {
		r.engine.RecordError(kind, detail)
	}
}

// equalAddrs compares two address sequences in order; reordering counts
// as a change.
func equalAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// recordType reports AAAA when any address in the new set is IPv6.
func recordType(addrs []string) string {
	for _, addr := range addrs {
		if strings.Contains(addr, ":") {
			return "AAAA"
		}
	}
	return "A"
}
