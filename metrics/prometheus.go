// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Prometheus renders the collected metrics in the Prometheus text
// exposition format: the six counters, query-time quantiles over the
// last MaxSamples durations, per-server latency gauges, and per-kind
// error counters.
func (e *Engine) Prometheus() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# TYPE dns_total_queries counter\ndns_total_queries %d\n", e.totalQueries.Load())
	fmt.Fprintf(&b, "# TYPE dns_successful_queries counter\ndns_successful_queries %d\n", e.successfulQueries.Load())
	fmt.Fprintf(&b, "# TYPE dns_failed_queries counter\ndns_failed_queries %d\n", e.failedQueries.Load())
	fmt.Fprintf(&b, "# TYPE dns_cache_hits counter\ndns_cache_hits %d\n", e.cacheHits.Load())
	fmt.Fprintf(&b, "# TYPE dns_cache_misses counter\ndns_cache_misses %d\n", e.cacheMisses.Load())
	fmt.Fprintf(&b, "# TYPE dns_total_retries counter\ndns_total_retries %d\n", e.totalRetries.Load())

	e.Lock()
	defer e.Unlock()

	b.WriteString("# TYPE dns_query_time_ms summary\n")
	if n := len(e.queryDurations); n > 0 {
		sorted := append([]float64{}, e.queryDurations...)
		sort.Float64s(sorted)

		for _, q := range []struct {
			label string
			k     float64
		}{
			{"0.50", 0.5},
			{"0.90", 0.9},
			{"0.99", 0.99},
		} {
			idx := int(q.k * float64(n-1))
			fmt.Fprintf(&b, "dns_query_time_ms{quantile=%q} %g\n", q.label, sorted[idx])
		}
		fmt.Fprintf(&b, "dns_query_time_ms_count %d\n", n)
	}

	b.WriteString("# TYPE dns_server_latency_ms gauge\n")
	for _, server := range sortedKeys(e.serverStats) {
		fmt.Fprintf(&b, "dns_server_latency_ms{server=%q,type=\"avg\"} %g\n",
			server, e.serverStats[server].AvgLatency)
	}

	b.WriteString("# TYPE dns_errors counter\n")
	for _, kind := range sortedKeys(e.errorStats) {
		fmt.Fprintf(&b, "dns_errors{type=%q} %d\n", kind, e.errorStats[kind].Count)
	}

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
