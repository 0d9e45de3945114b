// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

// fakeChain implements Chain with overridable behavior per method.
// Unset methods report not found.
type fakeChain struct {
	onFetchHistory     func([20]byte, uint32, uint32) ([]HistoryRow, Code)
	onFetchTransaction func(chainhash.Hash, bool) (*wire.MsgTx, Code)
	onFetchLastHeight  func() (uint32, Code)
	onHeaderByHash     func(chainhash.Hash) (*wire.BlockHeader, Code)
	onHeaderByHeight   func(uint32) (*wire.BlockHeader, Code)
	onHashesByHash     func(chainhash.Hash) ([]chainhash.Hash, Code)
	onHashesByHeight   func(uint32) ([]chainhash.Hash, Code)
	onTxPosition       func(chainhash.Hash, bool) (uint32, uint32, Code)
	onFetchSpend       func(wire.OutPoint) (wire.OutPoint, Code)
	onBlockHeight      func(chainhash.Hash) (uint32, Code)
	onFetchStealth     func(bitprefix.Prefix, uint32) ([]StealthRow, Code)
	onOrganize         func(*wire.MsgBlock, bool) Code

	reorgs  chan ReorgEvent
	mempool chan MempoolEvent
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		reorgs:  make(chan ReorgEvent, 8),
		mempool: make(chan MempoolEvent, 8),
	}
}

func (c *fakeChain) FetchHistory(hash [20]byte, limit, fromHeight uint32) ([]HistoryRow, Code) {
	if c.onFetchHistory != nil {
		return c.onFetchHistory(hash, limit, fromHeight)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchTransaction(hash chainhash.Hash, confirmed bool) (*wire.MsgTx, Code) {
	if c.onFetchTransaction != nil {
		return c.onFetchTransaction(hash, confirmed)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchLastHeight() (uint32, Code) {
	if c.onFetchLastHeight != nil {
		return c.onFetchLastHeight()
	}
	return 0, CodeNotFound
}

func (c *fakeChain) FetchBlockHeaderByHash(hash chainhash.Hash) (*wire.BlockHeader, Code) {
	if c.onHeaderByHash != nil {
		return c.onHeaderByHash(hash)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchBlockHeaderByHeight(height uint32) (*wire.BlockHeader, Code) {
	if c.onHeaderByHeight != nil {
		return c.onHeaderByHeight(height)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchBlockTransactionHashesByHash(hash chainhash.Hash) ([]chainhash.Hash, Code) {
	if c.onHashesByHash != nil {
		return c.onHashesByHash(hash)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchBlockTransactionHashesByHeight(height uint32) ([]chainhash.Hash, Code) {
	if c.onHashesByHeight != nil {
		return c.onHashesByHeight(height)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) FetchTransactionPosition(hash chainhash.Hash, confirmed bool) (uint32, uint32, Code) {
	if c.onTxPosition != nil {
		return c.onTxPosition(hash, confirmed)
	}
	return 0, 0, CodeNotFound
}

func (c *fakeChain) FetchSpend(outpoint wire.OutPoint) (wire.OutPoint, Code) {
	if c.onFetchSpend != nil {
		return c.onFetchSpend(outpoint)
	}
	return wire.OutPoint{}, CodeNotFound
}

func (c *fakeChain) FetchBlockHeight(hash chainhash.Hash) (uint32, Code) {
	if c.onBlockHeight != nil {
		return c.onBlockHeight(hash)
	}
	return 0, CodeNotFound
}

func (c *fakeChain) FetchStealth(prefix bitprefix.Prefix, fromHeight uint32) ([]StealthRow, Code) {
	if c.onFetchStealth != nil {
		return c.onFetchStealth(prefix, fromHeight)
	}
	return nil, CodeNotFound
}

func (c *fakeChain) Organize(block *wire.MsgBlock, simulate bool) Code {
	if c.onOrganize != nil {
		return c.onOrganize(block, simulate)
	}
	return CodeValidationError
}

func (c *fakeChain) ReorgEvents() <-chan ReorgEvent {
	return c.reorgs
}

func (c *fakeChain) MempoolEvents() <-chan MempoolEvent {
	return c.mempool
}

// sentFrame is one captured outbound message.
type sentFrame struct {
	identity []byte
	parts    [][]byte
}

// fakeSocket implements qnet.Socket, capturing sends.
type fakeSocket struct {
	mtx      sync.Mutex
	sent     []sentFrame
	failSend bool
}

func (f *fakeSocket) Recv() ([]byte, [][]byte, error) {
	return nil, nil, qnet.ErrSocketClosed
}

func (f *fakeSocket) Send(identity []byte, parts [][]byte) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failSend {
		return qnet.ErrPeerGone
	}
	f.sent = append(f.sent, sentFrame{identity: identity, parts: parts})
	return nil
}

func (f *fakeSocket) Close() error {
	return nil
}

func (f *fakeSocket) sentCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.sent)
}

// message decodes the i-th captured frame.
func (f *fakeSocket) message(t *testing.T, i int) *qmsg.Message {
	t.Helper()
	f.mtx.Lock()
	defer f.mtx.Unlock()
	require.Less(t, i, len(f.sent))

	msg, err := qmsg.Decode(f.sent[i].parts)
	require.NoError(t, err)
	msg.Dest = f.sent[i].identity
	return msg
}

// newTestServer builds an unstarted server usable for direct handler
// invocation.
func newTestServer(chain Chain) *Server {
	settings := DefaultSettings()
	settings.PublicEndpoint = "127.0.0.1:0"
	return New(settings, chain)
}

// request builds an inbound query message from a test client identity.
func request(command string, id uint32, data []byte) *qmsg.Message {
	return &qmsg.Message{
		Dest:    []byte{0x00, 0x00, 0x00, 0x00, 0x01},
		Command: command,
		ID:      id,
		Data:    data,
	}
}
