// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"sync"
	"time"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

// subscription is one live prefix subscription.  key and prefix are
// immutable; the remaining fields are guarded by mtx so that lookups
// and the purge sweep observe consistent expiry and sequence values.
type subscription struct {
	key    qmsg.AddressKey
	prefix bitprefix.Prefix

	mtx       sync.Mutex
	route     qmsg.Route
	sock      qnet.Socket
	expiresAt time.Time
	sequence  uint8
}

// expired reports whether the subscription lapsed at now.
func (s *subscription) expired(now time.Time) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return !s.expiresAt.After(now)
}

// refresh renews the subscription, rebinding the reply route.  The
// sequence counter survives renewal.
func (s *subscription) refresh(route qmsg.Route, sock qnet.Socket, expiresAt time.Time) {
	s.mtx.Lock()
	s.route = route
	s.sock = sock
	s.expiresAt = expiresAt
	s.mtx.Unlock()
}

// nextSequence returns the current notification sequence and advances
// it, wrapping modulo 256.
func (s *subscription) nextSequence() uint8 {
	s.mtx.Lock()
	seq := s.sequence
	s.sequence++
	s.mtx.Unlock()
	return seq
}

// replyTo returns the current reply route and socket.
func (s *subscription) replyTo() (qmsg.Route, qnet.Socket) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.route, s.sock
}

// subscriberIndex is the shared subscription table: a concurrent map
// from (owner key, prefix) to subscription with TTL expiry and a soft
// capacity bound.
type subscriberIndex struct {
	mtx   sync.RWMutex
	subs  map[string]*subscription
	limit int
}

func newSubscriberIndex(limit int) *subscriberIndex {
	return &subscriberIndex{
		subs:  make(map[string]*subscription),
		limit: limit,
	}
}

// tableKey collapses subscriptions by owner and prefix: re-subscribing
// with the same prefix renews rather than duplicates.
func tableKey(key qmsg.AddressKey, prefix bitprefix.Prefix) string {
	return string(key[:]) + prefix.Key()
}

// insertOrRefresh upserts a subscription.  The returned code is the
// ack code for the client: success normally, subscription_limit when
// the table was full and the oldest-expiring entry was evicted to make
// room.
func (idx *subscriberIndex) insertOrRefresh(key qmsg.AddressKey,
	prefix bitprefix.Prefix, route qmsg.Route, sock qnet.Socket,
	expiresAt time.Time) Code {

	tk := tableKey(key, prefix)

	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	if sub, ok := idx.subs[tk]; ok {
		sub.refresh(route, sock, expiresAt)
		return CodeSuccess
	}

	code := CodeSuccess
	if len(idx.subs) >= idx.limit {
		idx.evictOldest()
		code = CodeSubscriptionLimit
	}

	idx.subs[tk] = &subscription{
		key:       key,
		prefix:    prefix,
		route:     route,
		sock:      sock,
		expiresAt: expiresAt,
	}
	return code
}

// evictOldest removes the entry closest to expiry.  Caller holds the
// write lock.
func (idx *subscriberIndex) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for tk, sub := range idx.subs {
		sub.mtx.Lock()
		expires := sub.expiresAt
		sub.mtx.Unlock()
		if oldestKey == "" || expires.Before(oldest) {
			oldestKey = tk
			oldest = expires
		}
	}
	if oldestKey != "" {
		delete(idx.subs, oldestKey)
	}
}

// remove drops the subscription for (key, prefix).  Removing an absent
// entry is not an error.
func (idx *subscriberIndex) remove(key qmsg.AddressKey, prefix bitprefix.Prefix) {
	idx.mtx.Lock()
	delete(idx.subs, tableKey(key, prefix))
	idx.mtx.Unlock()
}

// removeAll drops every subscription owned by key.  Used when a send
// to the owner fails.
func (idx *subscriberIndex) removeAll(key qmsg.AddressKey) {
	prefix := string(key[:])
	idx.mtx.Lock()
	for tk := range idx.subs {
		if len(tk) >= len(prefix) && tk[:len(prefix)] == prefix {
			delete(idx.subs, tk)
		}
	}
	idx.mtx.Unlock()
}

// lookupMatches returns every non-expired subscription whose prefix
// matches field.  The result is a snapshot; entries may expire between
// lookup and use, which only risks a final notification after lapse.
func (idx *subscriberIndex) lookupMatches(field []byte, now time.Time) []*subscription {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	var matches []*subscription
	for _, sub := range idx.subs {
		if sub.expired(now) {
			continue
		}
		if sub.prefix.Matches(field) {
			matches = append(matches, sub)
		}
	}
	return matches
}

// purge removes every subscription that lapsed at or before now and
// returns the count removed.
func (idx *subscriberIndex) purge(now time.Time) int {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	removed := 0
	for tk, sub := range idx.subs {
		if sub.expired(now) {
			delete(idx.subs, tk)
			removed++
		}
	}
	return removed
}

// size returns the current entry count.
func (idx *subscriberIndex) size() int {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	return len(idx.subs)
}
