// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package events multiplexes resolver notifications to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/caffix/stringset"
	"go.uber.org/zap"
)

// AddressChange describes a hostname whose resolved address set moved.
type AddressChange struct {
	Hostname      string
	Old           []string
	New           []string
	Added         []string
	Removed       []string
	Timestamp     time.Time
	TTL           time.Duration
	RecordType    string
	Source        string
	Authoritative bool
}

// AddressChangeHandler receives address-change events.
type AddressChangeHandler func(event *AddressChange)

// QueryStartHandler receives the hostname of each started query.
type QueryStartHandler func(hostname string)

// QueryCompleteHandler receives the outcome of each completed query.
type QueryCompleteHandler func(hostname string, addrs []string, success bool)

// Bus fans events out to subscribers. A subscriber that panics is logged
// and isolated; the remaining subscribers are still invoked.
type Bus struct {
	sync.Mutex
	log      *zap.Logger
	change   []AddressChangeHandler
	start    []QueryStartHandler
	complete []QueryCompleteHandler
}

// NewBus returns an event bus with no subscribers.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// SubscribeAddressChange appends an address-change subscriber.
func (b *Bus) SubscribeAddressChange(h AddressChangeHandler) {
	b.Lock()
	defer b.Unlock()

	b.change = append(b.change, h)
}

// SubscribeQueryStart appends a query-start subscriber.
func (b *Bus) SubscribeQueryStart(h QueryStartHandler) {
	b.Lock()
	defer b.Unlock()

	b.start = append(b.start, h)
}

// SubscribeQueryComplete appends a query-complete subscriber.
func (b *Bus) SubscribeQueryComplete(h QueryCompleteHandler) {
	b.Lock()
	defer b.Unlock()

	b.complete = append(b.complete, h)
}

// UnsubscribeAll clears all three subscriber lists.
func (b *Bus) UnsubscribeAll() {
	b.Lock()
	defer b.Unlock()

	b.change = nil
	b.start = nil
	b.complete = nil
}

// PublishAddressChange fills in the Added and Removed sets and delivers
// the event to every address-change subscriber.
func (b *Bus) PublishAddressChange(event *AddressChange) {
	oldSet := stringset.New(event.Old...)
	defer oldSet.Close()
	newSet := stringset.New(event.New...)
	defer newSet.Close()

	added := stringset.New(event.New...)
	defer added.Close()
	added.Subtract(oldSet)
	event.Added = added.Slice()

	removed := stringset.New(event.Old...)
	defer removed.Close()
	removed.Subtract(newSet)
	event.Removed = removed.Slice()

	b.Lock()
	handlers := append([]AddressChangeHandler{}, b.change...)
	b.Unlock()

	for _, h := range handlers {
		b.deliver(func() { h(event) })
	}
}

// PublishQueryStart delivers the hostname to every query-start subscriber.
func (b *Bus) PublishQueryStart(hostname string) {
	b.Lock()
	handlers := append([]QueryStartHandler{}, b.start...)
	b.Unlock()

	for _, h := range handlers {
		h := h
		b.deliver(func() { h(hostname) })
	}
}

// PublishQueryComplete delivers the outcome to every query-complete
// subscriber.
func (b *Bus) PublishQueryComplete(hostname string, addrs []string, success bool) {
	b.Lock()
	handlers := append([]QueryCompleteHandler{}, b.complete...)
	b.Unlock()

	for _, h := range handlers {
		h := h
		b.deliver(func() { h(hostname, addrs, success) })
	}
}

// deliver invokes one subscriber, recovering and logging a panic so the
// remaining subscribers still run.
func (b *Bus) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
