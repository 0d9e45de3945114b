// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
)

// PointKind distinguishes history rows: an output credits an address
// and a spend debits it.
type PointKind uint8

const (
	// PointOutput is a row created by an output paying the address.
	PointOutput PointKind = 0

	// PointSpend is a row created by an input spending such an output.
	PointSpend PointKind = 1
)

// HistoryRow is one entry of an address history.  For output rows Value
// carries the output value in satoshis; for spend rows it carries the
// checksum of the spent output point.
type HistoryRow struct {
	Kind   PointKind
	Hash   chainhash.Hash
	Index  uint32
	Height uint32
	Value  uint64
}

// StealthRow is one entry of a stealth scan result.
type StealthRow struct {
	EphemeralKeyHash chainhash.Hash
	AddressHash      [20]byte
	TxHash           chainhash.Hash
}

// ReorgEvent reports a chain reorganization: OldBlocks were rolled back
// and NewBlocks applied starting at ForkHeight+1.  A non-success Code
// aborts processing of the event but not the consumer.
type ReorgEvent struct {
	Code       Code
	ForkHeight uint32
	NewBlocks  []*wire.MsgBlock
	OldBlocks  []*wire.MsgBlock
}

// MempoolEvent reports a transaction accepted to the memory pool.
type MempoolEvent struct {
	Code Code
	Tx   *wire.MsgTx
}

// Chain is the blockchain capability the core consumes.  It is
// externally thread safe; all methods may be called concurrently from
// dispatcher workers.  Results are paired with a wire code which is
// propagated verbatim to clients.
type Chain interface {
	// FetchHistory returns the confirmed and pooled history rows of a
	// payment address hash, newest first, starting at fromHeight.  A
	// limit of zero means unlimited.
	FetchHistory(addressHash [20]byte, limit uint32, fromHeight uint32) ([]HistoryRow, Code)

	// FetchTransaction returns a transaction by hash.  When
	// requireConfirmed is set, pool transactions report not found.
	FetchTransaction(hash chainhash.Hash, requireConfirmed bool) (*wire.MsgTx, Code)

	// FetchLastHeight returns the height of the chain tip.
	FetchLastHeight() (uint32, Code)

	// FetchBlockHeaderByHash and FetchBlockHeaderByHeight return a
	// block header.
	FetchBlockHeaderByHash(hash chainhash.Hash) (*wire.BlockHeader, Code)
	FetchBlockHeaderByHeight(height uint32) (*wire.BlockHeader, Code)

	// FetchBlockTransactionHashesByHash and ...ByHeight return the
	// transaction hashes of a block in canonical order.
	FetchBlockTransactionHashesByHash(hash chainhash.Hash) ([]chainhash.Hash, Code)
	FetchBlockTransactionHashesByHeight(height uint32) ([]chainhash.Hash, Code)

	// FetchTransactionPosition returns the block height and position
	// of a confirmed transaction.
	FetchTransactionPosition(hash chainhash.Hash, requireConfirmed bool) (position uint32, height uint32, code Code)

	// FetchSpend returns the input point spending the given output
	// point.
	FetchSpend(outpoint wire.OutPoint) (wire.OutPoint, Code)

	// FetchBlockHeight returns the height of the block with the given
	// hash.
	FetchBlockHeight(hash chainhash.Hash) (uint32, Code)

	// FetchStealth returns stealth rows whose prefix field matches,
	// starting at fromHeight.
	FetchStealth(prefix bitprefix.Prefix, fromHeight uint32) ([]StealthRow, Code)

	// Organize submits a block for organization into the chain.  With
	// simulate set the block is validated but not committed.  The
	// returned code is the validation result.
	Organize(block *wire.MsgBlock, simulate bool) Code

	// ReorgEvents and MempoolEvents return the chain's event streams.
	// Each call returns a fresh subscription; the channel closes when
	// the chain stops.
	ReorgEvents() <-chan ReorgEvent
	MempoolEvents() <-chan MempoolEvent
}
