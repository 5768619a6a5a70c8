// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"sync"
)

// Event is the (collection, action, record) triple carried by the broadcast
// side-channel between execution contexts sharing the same backing data.
// Origin identifies the publishing context so it can skip its own echo.
type Event struct {
	Collection string `json:"collection"`
	Action     Action `json:"action"`
	Record     Record `json:"record"`
	Origin     string `json:"origin"`
}

// Broadcaster fans a committed write out to co-located contexts. Receivers
// re-apply events through the normal merge path, never blind-overwrite, so
// redundant or out-of-order delivery is harmless.
type Broadcaster interface {
	Publish(ev Event)
	Subscribe(fn func(ev Event)) (unsubscribe func())
}

// Bus is the in-process Broadcaster. Delivery is synchronous and skips the
// subscriber registered under the publishing origin.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]busSub
}

type busSub struct {
	origin string
	fn     func(ev Event)
}

// NewBus returns an empty in-process broadcast bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]busSub)}
}

// SubscribeAs registers fn under an origin identifier; events published with
// the same origin are not delivered back to it.
func (b *Bus) SubscribeAs(origin string, fn func(ev Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = busSub{origin: origin, fn: fn}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscribe registers fn with no origin; it receives every event.
func (b *Bus) Subscribe(fn func(ev Event)) (unsubscribe func()) {
	return b.SubscribeAs("", fn)
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]busSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		if s.origin != "" && s.origin == ev.Origin {
			continue
		}
		s.fn(ev)
	}
}
