// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package resolve provides an asynchronous hostname resolution service
// that sits between an application and a pool of upstream recursive DNS
// servers. Lookups are served from a TTL-bounded LRU cache when fresh and
// otherwise dispatched to a pluggable query strategy that selects among
// the upstreams by health and latency. Transient failures are retried
// with truncated exponential backoff, address-set changes are published
// to subscribers, and operational metrics are exported in the Prometheus
// text format.
package resolve
