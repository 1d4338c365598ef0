// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package strategies

import (
	"github.com/miekg/dns"
)

// queryMsg builds a recursive query for the fully-qualified name.
func queryMsg(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.SetEdns0(dns.DefaultMsgSize, false)
	return m
}

// answerAddresses extracts the printable addresses of the requested type
// from the response, preserving the order the server returned them in.
func answerAddresses(resp *dns.Msg, qtype uint16) []string {
	if resp == nil {
		return nil
	}

	var addrs []string
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}

		switch record := rr.(type) {
		case *dns.A:
			addrs = append(addrs, record.A.String())
		case *dns.AAAA:
			addrs = append(addrs, record.AAAA.String())
		}
	}
	return addrs
}
