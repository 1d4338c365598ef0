// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load reads a JSON configuration file, applying the documented defaults
// for every absent key, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	applyServerDefaults(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the snapshot as indented JSON, stamping the metadata version.
func Save(cfg Config, path string) error {
	cfg = cfg.Clone()
	cfg.Metadata.Version = Version

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.ttl_seconds", def.Cache.TTLMillis)
	v.SetDefault("cache.max_size", def.Cache.MaxSize)
	v.SetDefault("cache.persistent", def.Cache.Persist)
	v.SetDefault("cache.cache_file", def.Cache.CacheFile)

	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay_ms", def.Retry.BaseDelayMilli)
	v.SetDefault("retry.max_delay_ms", def.Retry.MaxDelayMillis)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.file", def.Metrics.File)
	v.SetDefault("metrics.report_interval_sec", def.Metrics.ReportIntervalSec)

	v.SetDefault("global.query_timeout_ms", def.Global.QueryTimeoutMillis)
	v.SetDefault("global.max_concurrent_queries", def.Global.MaxConcurrentQueries)
	v.SetDefault("global.ipv6_enabled", def.Global.IPv6Enabled)
	v.SetDefault("global.server_error_threshold", def.Global.ServerErrorThreshold)

	v.SetDefault("metadata.version", def.Metadata.Version)
}

// applyServerDefaults fills the per-server defaults viper cannot express
// for array elements.
func applyServerDefaults(v *viper.Viper, cfg *Config) {
	raw, ok := v.Get("servers").([]interface{})

	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.Port == 0 {
			s.Port = 53
		}
		if s.Weight == 0 {
			s.Weight = 1
		}
		if s.TimeoutMillis == 0 {
			s.TimeoutMillis = 2000
		}
		// enabled defaults to true only when the key was absent.
		if !s.Enabled && ok && i < len(raw) {
			if m, isMap := raw[i].(map[string]interface{}); isMap {
				if _, present := m["enabled"]; !present {
					s.Enabled = true
				}
			}
		}
	}
}
