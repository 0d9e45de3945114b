// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"time"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

// subscribeAddress handles address.subscribe:
//
//	request  [ bit_len:1 ][ blocks ][ unsubscribe:1 ]
//	reply    [ code:4 ]
//
// Subscribing twice with the same prefix renews the TTL and keeps the
// notification sequence.  A nonzero unsubscribe byte removes the
// subscription instead; removal of an absent entry still acks success.
func subscribeAddress(s *Server, sock qnet.Socket, req *qmsg.Message) {
	prefix, unsubscribe, ok := readSubscribeArgs(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	route := req.Route()
	key := route.Key()

	if unsubscribe {
		log.Debugf("address.subscribe(unsubscribe, key=%v, bits=%d)",
			key, prefix.Bits())
		s.index.remove(key, prefix)
		s.replyCode(sock, req, CodeSuccess)
		return
	}

	log.Debugf("address.subscribe(key=%v, bits=%d)", key, prefix.Bits())

	expiresAt := time.Now().Add(s.settings.SubscriptionTTL)
	code := s.index.insertOrRefresh(key, prefix, route, sock, expiresAt)
	s.replyCode(sock, req, code)
}

// readSubscribeArgs parses [ bit_len:1 ][ blocks ][ unsubscribe:1 ]
// with the same exact-length discipline as the stealth queries.
func readSubscribeArgs(data []byte) (bitprefix.Prefix, bool, bool) {
	if len(data) == 0 {
		return bitprefix.Prefix{}, false, false
	}

	bits := uint(data[0])
	blocks := bitprefix.BlockSize(bits)
	if len(data) != 1+blocks+1 {
		return bitprefix.Prefix{}, false, false
	}

	prefix, err := bitprefix.New(bits, data[1:1+blocks])
	if err != nil {
		return bitprefix.Prefix{}, false, false
	}
	return prefix, data[1+blocks] != 0, true
}
