// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
	"github.com/JoBangelz/libbitcoin-server/qserver"
)

// memChain is a genesis-only in-memory chain backend.  It lets the
// daemon serve the full query protocol standalone, answering from the
// network's genesis block at height zero.  Other block, transaction and
// spend lookups report not found, history and stealth scans succeed
// with no rows, and every submitted block is rejected.  A
// deployment replaces it with a real backend implementing
// qserver.Chain.
type memChain struct {
	params  *chaincfg.Params
	genesis *wire.MsgBlock
	hash    chainhash.Hash

	quit chan struct{}
}

func newMemChain(params *chaincfg.Params) *memChain {
	return &memChain{
		params:  params,
		genesis: params.GenesisBlock,
		hash:    *params.GenesisHash,
		quit:    make(chan struct{}),
	}
}

func (m *memChain) stop() {
	close(m.quit)
}

func (m *memChain) FetchHistory(addressHash [20]byte, limit uint32,
	fromHeight uint32) ([]qserver.HistoryRow, qserver.Code) {

	return nil, qserver.CodeSuccess
}

func (m *memChain) FetchTransaction(hash chainhash.Hash,
	requireConfirmed bool) (*wire.MsgTx, qserver.Code) {

	for _, tx := range m.genesis.Transactions {
		if tx.TxHash() == hash {
			return tx, qserver.CodeSuccess
		}
	}
	return nil, qserver.CodeNotFound
}

func (m *memChain) FetchLastHeight() (uint32, qserver.Code) {
	return 0, qserver.CodeSuccess
}

func (m *memChain) FetchBlockHeaderByHash(hash chainhash.Hash) (*wire.BlockHeader, qserver.Code) {
	if hash != m.hash {
		return nil, qserver.CodeNotFound
	}
	header := m.genesis.Header
	return &header, qserver.CodeSuccess
}

func (m *memChain) FetchBlockHeaderByHeight(height uint32) (*wire.BlockHeader, qserver.Code) {
	if height != 0 {
		return nil, qserver.CodeNotFound
	}
	header := m.genesis.Header
	return &header, qserver.CodeSuccess
}

func (m *memChain) FetchBlockTransactionHashesByHash(hash chainhash.Hash) ([]chainhash.Hash, qserver.Code) {
	if hash != m.hash {
		return nil, qserver.CodeNotFound
	}
	return m.txHashes(), qserver.CodeSuccess
}

func (m *memChain) FetchBlockTransactionHashesByHeight(height uint32) ([]chainhash.Hash, qserver.Code) {
	if height != 0 {
		return nil, qserver.CodeNotFound
	}
	return m.txHashes(), qserver.CodeSuccess
}

func (m *memChain) txHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(m.genesis.Transactions))
	for _, tx := range m.genesis.Transactions {
		hashes = append(hashes, tx.TxHash())
	}
	return hashes
}

func (m *memChain) FetchTransactionPosition(hash chainhash.Hash,
	requireConfirmed bool) (uint32, uint32, qserver.Code) {

	for i, tx := range m.genesis.Transactions {
		if tx.TxHash() == hash {
			return uint32(i), 0, qserver.CodeSuccess
		}
	}
	return 0, 0, qserver.CodeNotFound
}

func (m *memChain) FetchSpend(outpoint wire.OutPoint) (wire.OutPoint, qserver.Code) {
	return wire.OutPoint{}, qserver.CodeNotFound
}

func (m *memChain) FetchBlockHeight(hash chainhash.Hash) (uint32, qserver.Code) {
	if hash != m.hash {
		return 0, qserver.CodeNotFound
	}
	return 0, qserver.CodeSuccess
}

func (m *memChain) FetchStealth(prefix bitprefix.Prefix,
	fromHeight uint32) ([]qserver.StealthRow, qserver.Code) {

	return nil, qserver.CodeSuccess
}

func (m *memChain) Organize(block *wire.MsgBlock, simulate bool) qserver.Code {
	return qserver.CodeValidationError
}

func (m *memChain) ReorgEvents() <-chan qserver.ReorgEvent {
	ch := make(chan qserver.ReorgEvent)
	go func() {
		<-m.quit
		close(ch)
	}()
	return ch
}

func (m *memChain) MempoolEvents() <-chan qserver.MempoolEvent {
	ch := make(chan qserver.MempoolEvent)
	go func() {
		<-m.quit
		close(ch)
	}()
	return ch
}
