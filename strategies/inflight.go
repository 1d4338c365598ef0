// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package strategies

import (
	"sync"
	"time"

	"github.com/glassdns/resolve/types"
)

// queryContext is one in-flight resolution attempt. The table owns it;
// whoever takes it out of the table delivers the callback, which keeps
// delivery exactly-once.
type queryContext struct {
	id       uint64
	hostname string
	cb       types.ResolveCallback
	start    time.Time
	deadline time.Time
}

type inflightTable struct {
	sync.Mutex
	nextID   uint64
	contexts map[uint64]*queryContext
}

func newInflightTable() *inflightTable {
	return &inflightTable{contexts: make(map[uint64]*queryContext)}
}

func (t *inflightTable) add(hostname string, cb types.ResolveCallback, start, deadline time.Time) *queryContext {
	t.Lock()
	defer t.Unlock()

	t.nextID++
	qc := &queryContext{
		id:       t.nextID,
		hostname: hostname,
		cb:       cb,
		start:    start,
		deadline: deadline,
	}
	t.contexts[qc.id] = qc
	return qc
}

// take removes and returns the context, or nil when it was already taken.
func (t *inflightTable) take(id uint64) *queryContext {
	t.Lock()
	defer t.Unlock()

	qc := t.contexts[id]
	delete(t.contexts, id)
	return qc
}

func (t *inflightTable) removeExpired(now time.Time) []*queryContext {
	t.Lock()
	defer t.Unlock()

	var expired []*queryContext
	for id, qc := range t.contexts {
		if now.After(qc.deadline) {
			expired = append(expired, qc)
			delete(t.contexts, id)
		}
	}
	return expired
}

func (t *inflightTable) removeAll() []*queryContext {
	t.Lock()
	defer t.Unlock()

	all := make([]*queryContext, 0, len(t.contexts))
	for id, qc := range t.contexts {
		all = append(all, qc)
		delete(t.contexts, id)
	}
	return all
}

func (t *inflightTable) len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.contexts)
}
