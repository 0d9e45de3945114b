// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"sync/atomic"

	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

// handlerFunc is the signature of a query handler.  Handlers decode
// the request payload, invoke the chain, and reply exactly once via
// the server's reply helpers.  They run concurrently on dispatcher
// workers and must not retain req beyond the call.
type handlerFunc func(*Server, qnet.Socket, *qmsg.Message)

// queryHandlers is the static command table.
var queryHandlers = map[string]handlerFunc{
	"blockchain.fetch_history2":                 fetchHistory2,
	"blockchain.fetch_transaction":              fetchTransaction,
	"blockchain.fetch_transaction2":             fetchTransaction2,
	"blockchain.fetch_last_height":              fetchLastHeight,
	"blockchain.fetch_block_header":             fetchBlockHeader,
	"blockchain.fetch_block_transaction_hashes": fetchBlockTransactionHashes,
	"blockchain.fetch_transaction_index":        fetchTransactionIndex,
	"blockchain.fetch_spend":                    fetchSpend,
	"blockchain.fetch_block_height":             fetchBlockHeight,
	"blockchain.fetch_stealth2":                 fetchStealth2,
	"blockchain.fetch_stealth_transaction":      fetchStealthTransaction,
	"blockchain.broadcast":                      broadcastBlock,
	"blockchain.validate":                       validateBlock,
	"address.subscribe":                         subscribeAddress,
}

// inbound is one decoded request waiting for a dispatcher worker.
type inbound struct {
	sock qnet.Socket
	msg  *qmsg.Message
}

// dispatchWorker drains the inbound queue until shutdown.  Several run
// concurrently, so multiple requests from one client may be in flight
// at once and replies are correlated by id rather than order.
func (s *Server) dispatchWorker() {
	defer s.wg.Done()

	for {
		select {
		case in := <-s.queue:
			s.dispatch(in)
		case <-s.quit:
			return
		}
	}
}

// dispatch routes one request through the command table.
func (s *Server) dispatch(in inbound) {
	if atomic.LoadInt32(&s.shutdown) != 0 {
		s.replyCode(in.sock, in.msg, CodeServiceStopped)
		return
	}

	handler, ok := queryHandlers[in.msg.Command]
	if !ok {
		log.Debugf("Unknown command %q from %x", in.msg.Command, in.msg.Dest)
		s.replyCode(in.sock, in.msg, CodeNotFound)
		return
	}

	handler(s, in.sock, in.msg)
}
