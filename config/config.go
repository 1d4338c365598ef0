// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package config holds the resolver configuration model, the snapshot
// store, and the file loading and watching machinery.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Server is one configured upstream recursive server.
type Server struct {
	Address string `json:"address" mapstructure:"address"`
	Port    uint16 `json:"port" mapstructure:"port"`
	Weight  uint32 `json:"weight" mapstructure:"weight"`
	// TimeoutMillis overrides the global query timeout for this server.
	TimeoutMillis uint32 `json:"timeout_ms" mapstructure:"timeout_ms"`
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
}

// Cache configures the address cache. TTLMillis keeps the historical
// "ttl_seconds" JSON key, but the value has always been milliseconds
// (the default of 300000 is five minutes).
type Cache struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	TTLMillis int64  `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`
	Persist   bool   `json:"persistent" mapstructure:"persistent"`
	CacheFile string `json:"cache_file" mapstructure:"cache_file"`
}

// Retry configures the orchestrator's outer retry loop and the strategy's
// internal tries per dispatch.
type Retry struct {
	MaxAttempts    uint32 `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMilli uint32 `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMillis uint32 `json:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// Metrics configures the metrics engine and its report output.
type Metrics struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	File              string `json:"file" mapstructure:"file"`
	ReportIntervalSec uint32 `json:"report_interval_sec" mapstructure:"report_interval_sec"`
}

// Global holds the process-wide settings.
type Global struct {
	QueryTimeoutMillis   uint32 `json:"query_timeout_ms" mapstructure:"query_timeout_ms"`
	MaxConcurrentQueries uint32 `json:"max_concurrent_queries" mapstructure:"max_concurrent_queries"`
	IPv6Enabled          bool   `json:"ipv6_enabled" mapstructure:"ipv6_enabled"`
	ServerErrorThreshold uint32 `json:"server_error_threshold" mapstructure:"server_error_threshold"`
}

// Metadata is written on save.
type Metadata struct {
	Version string `json:"version" mapstructure:"version"`
}

// Config is one immutable configuration snapshot.
type Config struct {
	Servers  []Server `json:"servers" mapstructure:"servers"`
	Cache    Cache    `json:"cache" mapstructure:"cache"`
	Retry    Retry    `json:"retry" mapstructure:"retry"`
	Metrics  Metrics  `json:"metrics" mapstructure:"metrics"`
	Global   Global   `json:"global" mapstructure:"global"`
	Metadata Metadata `json:"metadata" mapstructure:"metadata"`
}

// Version is written into the metadata section on save.
const Version = "1.0"

// Default returns the configuration used when a section or key is absent.
func Default() Config {
	return Config{
		Cache: Cache{
			Enabled:   true,
			TTLMillis: 300000,
			MaxSize:   10000,
		},
		Retry: Retry{
			MaxAttempts:    3,
			BaseDelayMilli: 100,
			MaxDelayMillis: 1000,
		},
		Metrics: Metrics{
			Enabled:           true,
			ReportIntervalSec: 60,
		},
		Global: Global{
			QueryTimeoutMillis:   5000,
			MaxConcurrentQueries: 100,
			IPv6Enabled:          true,
			ServerErrorThreshold: 10,
		},
		Metadata: Metadata{Version: Version},
	}
}

// Validate reports whether the snapshot can be put into service.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one upstream server is required")
	}
	for i, s := range c.Servers {
		if s.Address == "" {
			return fmt.Errorf("server %d has no address", i)
		}
	}

	if t := c.Global.QueryTimeoutMillis; t < 100 || t > 30000 {
		return fmt.Errorf("query_timeout_ms %d outside [100, 30000]", t)
	}

	if a := c.Retry.MaxAttempts; a < 1 || a > 10 {
		return fmt.Errorf("retry max_attempts %d outside [1, 10]", a)
	}
	if c.Retry.BaseDelayMilli < 10 {
		return fmt.Errorf("retry base_delay_ms %d below minimum 10", c.Retry.BaseDelayMilli)
	}
	if c.Retry.MaxDelayMillis < c.Retry.BaseDelayMilli {
		return fmt.Errorf("retry max_delay_ms %d below base_delay_ms %d",
			c.Retry.MaxDelayMillis, c.Retry.BaseDelayMilli)
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (c Config) Clone() Config {
	dup := c
	dup.Servers = append([]Server{}, c.Servers...)
	return dup
}

// QueryTimeout returns the global per-attempt timeout.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Global.QueryTimeoutMillis) * time.Millisecond
}

// CacheTTL returns the per-entry cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMillis) * time.Millisecond
}

// BaseDelay returns the first retry backoff delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMilli) * time.Millisecond
}

// MaxDelay returns the backoff truncation limit.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMillis) * time.Millisecond
}

// Timeout returns the per-attempt timeout for this server, or zero when
// the global timeout applies.
func (s *Server) Timeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}
