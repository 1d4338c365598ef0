// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// The resolved command reads hostnames from its input and resolves them
// concurrently through the resolution service, printing one line per
// hostname with the resolved addresses.
package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/glassdns/resolve"
	"github.com/glassdns/resolve/config"
	"github.com/glassdns/resolve/events"
	"github.com/glassdns/resolve/types"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

func main() {
	p, buf, err := ObtainParams(os.Args[1:])
	if err != nil {
		msg := err.Error()
		if buf != nil && buf.Len() > 0 {
			msg = buf.String()
		}
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
	if p.Help {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n%s\n", path.Base(os.Args[0]), buf.String())
		return
	}

	logger := buildLogger(p.Verbose)
	defer func() { _ = logger.Sync() }()

	cfg, err := BuildConfig(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	store, err := config.NewStore(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var watcher *config.Watcher
	if p.ConfigPath != "" {
		watcher = config.NewWatcher(store, p.ConfigPath, config.DefaultCheckInterval, logger)
		watcher.Start()
		defer watcher.Stop()
	}

	r := resolve.New(store, resolve.WithLogger(logger), resolve.WithQPS(p.QPS))
	if err := r.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer r.Shutdown()

	r.EventBus().SubscribeAddressChange(func(event *events.AddressChange) {
		logger.Info("address set changed",
			zap.String("hostname", event.Hostname),
			zap.Strings("added", event.Added),
			zap.Strings("removed", event.Removed),
			zap.String("record_type", event.RecordType))
	})

	pumpDone := make(chan struct{})
	go pump(r, pumpDone)

	names := make(chan string, 500)
	go InputHostnames(p.Input, names)

	EventLoop(r, p, names)
	close(pumpDone)

	if p.Stats {
		if engine := r.Metrics(); engine != nil {
			fmt.Fprint(os.Stderr, engine.Prometheus())
		}
	}
}

// EventLoop issues one resolution per input hostname through the worker
// pool, pacing submissions with the rate limiter, and writes the results.
func EventLoop(r *resolve.Resolver, p *params, names chan string) {
	rl := ratelimit.NewUnlimited()
	if p.QPS > 0 {
		rl = ratelimit.New(p.QPS)
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	pool := workerpool.New(workers)
	defer pool.StopWait()

	var outMutex sync.Mutex
	for name := range names {
		name := name
		rl.Take()

		pool.Submit(func() {
			var wg sync.WaitGroup
			wg.Add(1)

			r.Resolve(name, func(result *types.ResolveResult) {
				defer wg.Done()

				outMutex.Lock()
				defer outMutex.Unlock()
				writeResult(p, result)
			})
			wg.Wait()
		})
	}
}

func writeResult(p *params, result *types.ResolveResult) {
	if result.Status == types.Success {
		fmt.Fprintf(p.Output, "%s %s\n", result.Hostname, strings.Join(result.Addresses, " "))
		return
	}
	if !p.Quiet {
		fmt.Fprintf(p.Output, "%s failed: %s\n", result.Hostname, result.Status)
	}
}

// pump drives the active strategy's event processing until shutdown.
func pump(r *resolve.Resolver, done chan struct{}) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			r.ProcessEvents()
		}
	}
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
