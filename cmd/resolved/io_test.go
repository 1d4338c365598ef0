// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObtainParams(t *testing.T) {
	p, _, err := ObtainParams([]string{"-r", "8.8.8.8,1.1.1.1", "-qps", "50"})
	require.NoError(t, err)

	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1"}, []string(p.Resolvers))
	assert.Equal(t, 50, p.QPS)
	assert.Equal(t, defaultWorkers, p.Workers)
}

func TestObtainParamsRequiresServers(t *testing.T) {
	_, _, err := ObtainParams(nil)
	assert.Error(t, err)
}

func TestObtainParamsHelp(t *testing.T) {
	p, buf, err := ObtainParams([]string{"-h"})
	require.NoError(t, err)
	assert.True(t, p.Help)
	assert.NotZero(t, buf.Len())
}

func TestBuildConfigFromResolvers(t *testing.T) {
	p := &params{Resolvers: commaSep{"8.8.8.8", "9.9.9.9"}}

	cfg, err := BuildConfig(p)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "8.8.8.8", cfg.Servers[0].Address)
	assert.EqualValues(t, 53, cfg.Servers[0].Port)
	assert.True(t, cfg.Servers[0].Enabled)
}

func TestInputHostnames(t *testing.T) {
	input := "one.test\n\n  two.test  \nthree.test\n"

	names := make(chan string, 10)
	go InputHostnames(strings.NewReader(input), names)

	var got []string
	for name := range names {
		got = append(got, name)
	}
	assert.Equal(t, []string{"one.test", "two.test", "three.test"}, got)
}
