// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Servers = []Server{{Address: "8.8.8.8", Port: 53, Weight: 1, TimeoutMillis: 2000, Enabled: true}}
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	noServers := cfg.Clone()
	noServers.Servers = nil
	assert.Error(t, noServers.Validate())

	badTimeout := cfg.Clone()
	badTimeout.Global.QueryTimeoutMillis = 50
	assert.Error(t, badTimeout.Validate())

	badAttempts := cfg.Clone()
	badAttempts.Retry.MaxAttempts = 11
	assert.Error(t, badAttempts.Validate())

	badDelay := cfg.Clone()
	badDelay.Retry.BaseDelayMilli = 500
	badDelay.Retry.MaxDelayMillis = 100
	assert.Error(t, badDelay.Validate())
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	bad := validConfig()
	bad.Servers = nil
	require.Error(t, store.Update(bad))

	// The current snapshot survives a rejected update.
	assert.Len(t, store.Get().Servers, 1)
}

func TestStoreNotifiesOnChange(t *testing.T) {
	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	var got []Config
	store.OnChange(func(cfg Config) { got = append(got, cfg) })

	next := validConfig()
	next.Global.MaxConcurrentQueries = 7
	require.NoError(t, store.Update(next))

	require.Len(t, got, 1)
	assert.EqualValues(t, 7, got[0].Global.MaxConcurrentQueries)

	store.OnChange(nil)
	require.NoError(t, store.Update(validConfig()))
	assert.Len(t, got, 1, "deregistered handler must not fire")
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	cfg := store.Get()
	cfg.Servers[0].Address = "changed"

	assert.Equal(t, "8.8.8.8", store.Get().Servers[0].Address)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": [{"address": "1.1.1.1"}]}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 1)
	assert.EqualValues(t, 53, cfg.Servers[0].Port)
	assert.EqualValues(t, 1, cfg.Servers[0].Weight)
	assert.EqualValues(t, 2000, cfg.Servers[0].TimeoutMillis)
	assert.True(t, cfg.Servers[0].Enabled)

	assert.True(t, cfg.Cache.Enabled)
	assert.EqualValues(t, 300000, cfg.Cache.TTLMillis)
	assert.EqualValues(t, 10000, cfg.Cache.MaxSize)
	assert.EqualValues(t, 3, cfg.Retry.MaxAttempts)
	assert.EqualValues(t, 5000, cfg.Global.QueryTimeoutMillis)
	assert.True(t, cfg.Global.IPv6Enabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
}

func TestLoadRespectsExplicitDisable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"servers": [{"address": "1.1.1.1", "enabled": false}, {"address": "2.2.2.2"}]}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Servers[0].Enabled)
	assert.True(t, cfg.Servers[1].Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": []}`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")

	cfg := validConfig()
	cfg.Global.MaxConcurrentQueries = 42
	cfg.Metadata.Version = ""
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 42, loaded.Global.MaxConcurrentQueries)
	assert.Equal(t, Version, loaded.Metadata.Version)
	assert.Equal(t, cfg.Servers, loaded.Servers)
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": [{"address": "1.1.1.1"}]}`), 0644))

	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	changed := make(chan Config, 1)
	store.OnChange(func(cfg Config) { changed <- cfg })

	w := NewWatcher(store, path, 10*time.Millisecond, nil)
	w.Start()
	defer w.Stop()

	// Let the watcher record the initial state, then grow the file.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(
		`{"servers": [{"address": "1.1.1.1"}, {"address": "2.2.2.2"}]}`), 0644))

	select {
	case cfg := <-changed:
		assert.Len(t, cfg.Servers, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not reload the changed file")
	}
}

func TestWatcherIgnoresInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": [{"address": "1.1.1.1"}]}`), 0644))

	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	w := NewWatcher(store, path, 10*time.Millisecond, nil)
	w.Start()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": [`), 0644))
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	// The bad file never replaced the good snapshot.
	assert.Equal(t, "8.8.8.8", store.Get().Servers[0].Address)
}

func TestWatcherStopIdempotent(t *testing.T) {
	store, err := NewStore(validConfig(), nil)
	require.NoError(t, err)

	w := NewWatcher(store, "missing.json", time.Millisecond, nil)
	w.Start()
	w.Stop()
	w.Stop()
}
