// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package strategies

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/glassdns/resolve/config"
	"github.com/glassdns/resolve/selectors"
	"github.com/glassdns/resolve/servers"
	"github.com/glassdns/resolve/types"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLocalUDPServer(addr string) (*dns.Server, string, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, "", err
	}

	server := &dns.Server{
		PacketConn:   pc,
		ReadTimeout:  time.Hour,
		WriteTimeout: time.Hour,
	}

	waitLock := sync.Mutex{}
	waitLock.Lock()
	server.NotifyStartedFunc = waitLock.Unlock

	go func() { _ = server.ActivateAndServe() }()
	waitLock.Lock()
	return server, pc.LocalAddr().String(), nil
}

func typeAHandler(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(req)

	if req.Question[0].Qtype == dns.TypeA {
		m.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{
				Name:   req.Question[0].Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			A: net.ParseIP("192.168.1.1"),
		}}
	}
	_ = w.WriteMsg(m)
}

func nxdomainHandler(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetRcode(req, dns.RcodeNameError)
	_ = w.WriteMsg(m)
}

func emptyHandler(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(req)
	_ = w.WriteMsg(m)
}

func initStrategy(t *testing.T, addrstr string) (*Recursive, types.Selector) {
	t.Helper()

	cfg := config.Default()
	cfg.Servers = []config.Server{{Address: addrstr, Enabled: true, Weight: 1}}
	cfg.Global.QueryTimeoutMillis = 500

	sel := selectors.NewScored(nil, servers.New(addrstr))
	return NewRecursive(cfg, sel, nil), sel
}

func queryBlocking(r *Recursive, hostname string) *types.ResolveResult {
	ch := make(chan *types.ResolveResult, 1)
	r.Query(hostname, func(result *types.ResolveResult) { ch <- result })
	return <-ch
}

func TestQuerySuccess(t *testing.T) {
	dns.HandleFunc("strategy.test.", typeAHandler)
	defer dns.HandleRemove("strategy.test.")

	s, addrstr, err := runLocalUDPServer("localhost:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	r, sel := initStrategy(t, addrstr)
	defer r.Shutdown()
	defer sel.Close()

	result := queryBlocking(r, "strategy.test")
	assert.Equal(t, types.Success, result.Status)
	assert.Equal(t, []string{"192.168.1.1"}, result.Addresses)
	assert.False(t, result.FromCache)
}

func TestQueryNXDomain(t *testing.T) {
	dns.HandleFunc("missing.test.", nxdomainHandler)
	defer dns.HandleRemove("missing.test.")

	s, addrstr, err := runLocalUDPServer("localhost:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	r, sel := initStrategy(t, addrstr)
	defer r.Shutdown()
	defer sel.Close()

	result := queryBlocking(r, "missing.test")
	assert.Equal(t, types.NotFound, result.Status)
	assert.Empty(t, result.Addresses)
}

func TestQueryNoData(t *testing.T) {
	dns.HandleFunc("empty.test.", emptyHandler)
	defer dns.HandleRemove("empty.test.")

	s, addrstr, err := runLocalUDPServer("localhost:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	r, sel := initStrategy(t, addrstr)
	defer r.Shutdown()
	defer sel.Close()

	result := queryBlocking(r, "empty.test")
	assert.Equal(t, types.NoData, result.Status)
}

func TestQueryAfterShutdown(t *testing.T) {
	s, addrstr, err := runLocalUDPServer("localhost:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	r, sel := initStrategy(t, addrstr)
	defer sel.Close()

	require.True(t, r.IsInitialized())
	r.Shutdown()
	require.False(t, r.IsInitialized())
	// A second shutdown is a no-op.
	r.Shutdown()

	result := queryBlocking(r, "strategy.test")
	assert.Equal(t, types.NotInitialized, result.Status)
}

func TestQueryWithoutServers(t *testing.T) {
	cfg := config.Default()
	cfg.Global.QueryTimeoutMillis = 500

	sel := selectors.NewScored(nil)
	r := NewRecursive(cfg, sel, nil)
	defer r.Shutdown()

	result := queryBlocking(r, "strategy.test")
	assert.Equal(t, types.ServerFail, result.Status)
}

func TestSelectorFeedback(t *testing.T) {
	dns.HandleFunc("feedback.test.", typeAHandler)
	defer dns.HandleRemove("feedback.test.")

	s, addrstr, err := runLocalUDPServer("localhost:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	r, sel := initStrategy(t, addrstr)
	defer r.Shutdown()
	defer sel.Close()

	_ = queryBlocking(r, "feedback.test")

	up := sel.Lookup(addrstr)
	require.NotNil(t, up)
	assert.NotEqual(t, time.Time{}, up.(*servers.Upstream).LastCheck())
}

func TestProcessEventsSweepsExpired(t *testing.T) {
	r, sel := initStrategy(t, "127.0.0.1:1")
	defer r.Shutdown()
	defer sel.Close()

	ch := make(chan *types.ResolveResult, 1)
	now := time.Now()
	r.inflight.add("stuck.test", func(result *types.ResolveResult) { ch <- result }, now, now.Add(-time.Second))

	r.ProcessEvents()

	select {
	case result := <-ch:
		assert.Equal(t, types.Timeout, result.Status)
	default:
		t.Fatal("expired context was not swept")
	}
}
