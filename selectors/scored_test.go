// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package selectors

import (
	"testing"
	"time"

	"github.com/glassdns/resolve/servers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEmpty(t *testing.T) {
	s := NewScored(nil)
	assert.Nil(t, s.Select())
}

func TestSelectHighestScore(t *testing.T) {
	slow := servers.New("1.1.1.1")
	fast := servers.New("2.2.2.2")
	slow.ReportSuccess(100 * time.Millisecond)
	fast.ReportSuccess(5 * time.Millisecond)

	s := NewScored(nil, slow, fast)
	assert.Equal(t, "2.2.2.2:53", s.Select().Address())
}

func TestSelectTieBreaksOnConfigOrder(t *testing.T) {
	u1 := servers.New("1.1.1.1")
	u2 := servers.New("2.2.2.2")

	s := NewScored(nil, u1, u2)
	assert.Equal(t, "1.1.1.1:53", s.Select().Address())
}

func TestSelectSkipsUnhealthyAndDisabled(t *testing.T) {
	bad := servers.New("1.1.1.1", servers.WithErrorThreshold(0))
	off := servers.New("2.2.2.2", servers.WithEnabled(false))
	good := servers.New("3.3.3.3")
	bad.ReportFailure()

	s := NewScored(nil, bad, off, good)
	assert.Equal(t, "3.3.3.3:53", s.Select().Address())
}

func TestRecovery(t *testing.T) {
	u1 := servers.New("1.1.1.1", servers.WithErrorThreshold(1))
	u2 := servers.New("2.2.2.2", servers.WithErrorThreshold(1))
	for i := 0; i < 2; i++ {
		u1.ReportFailure()
		u2.ReportFailure()
	}
	require.False(t, u1.Healthy())
	require.False(t, u2.Healthy())

	s := NewScored(nil, u1, u2)

	chosen := s.Select()
	require.NotNil(t, chosen)
	assert.Equal(t, "1.1.1.1:53", chosen.Address(), "first-configured wins after recovery")
	assert.True(t, u1.Healthy())
	assert.True(t, u2.Healthy())
}

func TestWeightBeatsLatency(t *testing.T) {
	light := servers.New("1.1.1.1", servers.WithWeight(1))
	heavy := servers.New("2.2.2.2", servers.WithWeight(10))
	light.ReportSuccess(time.Millisecond)
	heavy.ReportSuccess(4 * time.Millisecond)

	s := NewScored(nil, light, heavy)
	assert.Equal(t, "2.2.2.2:53", s.Select().Address())
}

func TestLookupAndLen(t *testing.T) {
	u := servers.New("1.1.1.1")
	s := NewScored(nil, u)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, u, s.Lookup("1.1.1.1:53"))
	assert.Nil(t, s.Lookup("9.9.9.9:53"))

	// Duplicate addresses are ignored.
	s.Add(servers.New("1.1.1.1"))
	assert.Equal(t, 1, s.Len())
}

func TestSingle(t *testing.T) {
	u := servers.New("8.8.8.8")
	s := NewSingle(u)

	assert.Equal(t, u, s.Select())
	assert.Equal(t, 1, s.Len())
	s.Close()
	assert.Nil(t, s.Select())
}
