// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
)

// TestFetchLastHeight pins the success reply bytes: code 0 followed by
// height 650000 little-endian.
func TestFetchLastHeight(t *testing.T) {
	chain := newFakeChain()
	chain.onFetchLastHeight = func() (uint32, Code) {
		return 650000, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	req := request("blockchain.fetch_last_height", 1, nil)
	fetchLastHeight(s, sock, req)

	reply := sock.message(t, 0)
	require.Equal(t, req.Command, reply.Command)
	require.Equal(t, req.ID, reply.ID)
	require.Equal(t, req.Dest, reply.Dest)
	require.Equal(t,
		[]byte{0x00, 0x00, 0x00, 0x00, 0x50, 0xec, 0x09, 0x00},
		reply.Data)
}

// TestFetchLastHeightNonEmptyRequest verifies trailing request bytes
// are rejected as a bad stream.
func TestFetchLastHeightNonEmptyRequest(t *testing.T) {
	s := newTestServer(newFakeChain())
	sock := &fakeSocket{}

	fetchLastHeight(s, sock, request("blockchain.fetch_last_height", 1, []byte{0x00}))
	require.Equal(t, CodeBadStream.Bytes(), sock.message(t, 0).Data)
}

// TestFetchBlockHeaderNotFound pins the not-found reply: the code alone
// with no header bytes.
func TestFetchBlockHeaderNotFound(t *testing.T) {
	s := newTestServer(newFakeChain())
	sock := &fakeSocket{}

	// Height 0x00100000 little-endian.
	req := request("blockchain.fetch_block_header", 2, []byte{0x00, 0x00, 0x10, 0x00})
	fetchBlockHeader(s, sock, req)

	require.Equal(t, []byte{0x02, 0x00, 0x00, 0x00}, sock.message(t, 0).Data)
}

// TestFetchBlockHeaderByHeight verifies the 4-byte variant reaches the
// height lookup and the header serializes to its canonical 80 bytes.
func TestFetchBlockHeaderByHeight(t *testing.T) {
	header := &chaincfg.MainNetParams.GenesisBlock.Header

	chain := newFakeChain()
	var gotHeight uint32
	chain.onHeaderByHeight = func(height uint32) (*wire.BlockHeader, Code) {
		gotHeight = height
		return header, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	fetchBlockHeader(s, sock, request("blockchain.fetch_block_header", 3,
		[]byte{0x2a, 0x00, 0x00, 0x00}))

	require.Equal(t, uint32(42), gotHeight)

	reply := sock.message(t, 0)
	require.Equal(t, CodeSuccess.Bytes(), reply.Data[:4])
	require.Len(t, reply.Data[4:], 80)

	var buf bytes.Buffer
	require.NoError(t, header.Serialize(&buf))
	require.Equal(t, buf.Bytes(), reply.Data[4:])
}

// TestFetchBlockHeaderByHash verifies the 32-byte variant reaches the
// hash lookup.
func TestFetchBlockHeaderByHash(t *testing.T) {
	header := &chaincfg.MainNetParams.GenesisBlock.Header
	want := chainhash.Hash{0x11, 0x22}

	chain := newFakeChain()
	var gotHash chainhash.Hash
	chain.onHeaderByHash = func(hash chainhash.Hash) (*wire.BlockHeader, Code) {
		gotHash = hash
		return header, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	fetchBlockHeader(s, sock, request("blockchain.fetch_block_header", 4, want[:]))
	require.Equal(t, want, gotHash)
	require.Equal(t, CodeSuccess.Bytes(), sock.message(t, 0).Data[:4])
}

// TestFetchBlockHeaderBadLength verifies variant selection by length
// rejects every length other than 4 and 32.
func TestFetchBlockHeaderBadLength(t *testing.T) {
	s := newTestServer(newFakeChain())

	for _, size := range []int{1, 3, 5, 31, 33} {
		sock := &fakeSocket{}
		fetchBlockHeader(s, sock, request("blockchain.fetch_block_header", 5,
			bytes.Repeat([]byte{0x11}, size)))

		reply := sock.message(t, 0)
		require.Equalf(t, CodeBadStream.Bytes(), reply.Data, "size %d", size)
	}
}

// TestFetchBlockTransactionHashes verifies the hash-list reply layout.
func TestFetchBlockTransactionHashes(t *testing.T) {
	hashes := []chainhash.Hash{{0x01}, {0x02}, {0x03}}

	chain := newFakeChain()
	chain.onHashesByHeight = func(uint32) ([]chainhash.Hash, Code) {
		return hashes, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	fetchBlockTransactionHashes(s, sock,
		request("blockchain.fetch_block_transaction_hashes", 6,
			[]byte{0x00, 0x00, 0x00, 0x00}))

	reply := sock.message(t, 0)
	require.Len(t, reply.Data, 4+3*32)
	require.Equal(t, CodeSuccess.Bytes(), reply.Data[:4])
	for i, hash := range hashes {
		require.Equal(t, hash[:], reply.Data[4+i*32:4+(i+1)*32])
	}
}

// TestFetchTransactionIndex verifies the height-then-position reply
// order.
func TestFetchTransactionIndex(t *testing.T) {
	chain := newFakeChain()
	chain.onTxPosition = func(chainhash.Hash, bool) (uint32, uint32, Code) {
		return 7, 1000, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	hash := chainhash.Hash{0xaa}
	fetchTransactionIndex(s, sock,
		request("blockchain.fetch_transaction_index", 7, hash[:]))

	want := []byte{
		0x00, 0x00, 0x00, 0x00, // success
		0xe8, 0x03, 0x00, 0x00, // height 1000
		0x07, 0x00, 0x00, 0x00, // position 7
	}
	require.Equal(t, want, sock.message(t, 0).Data)
}

// TestFetchSpend verifies outpoint decode and inpoint reply layout.
func TestFetchSpend(t *testing.T) {
	spender := wire.OutPoint{Hash: chainhash.Hash{0xbb}, Index: 3}

	chain := newFakeChain()
	var gotOutpoint wire.OutPoint
	chain.onFetchSpend = func(outpoint wire.OutPoint) (wire.OutPoint, Code) {
		gotOutpoint = outpoint
		return spender, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	outpoint := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 2}
	reqData := make([]byte, 36)
	copy(reqData, outpoint.Hash[:])
	binary.LittleEndian.PutUint32(reqData[32:], outpoint.Index)

	fetchSpend(s, sock, request("blockchain.fetch_spend", 8, reqData))
	require.Equal(t, outpoint, gotOutpoint)

	reply := sock.message(t, 0)
	require.Equal(t, CodeSuccess.Bytes(), reply.Data[:4])
	require.Equal(t, spender.Hash[:], reply.Data[4:36])
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(reply.Data[36:]))
}

// TestFetchTransaction verifies the canonical transaction bytes follow
// the code, and the confirmed-only restriction is forwarded.
func TestFetchTransaction(t *testing.T) {
	tx := chaincfg.MainNetParams.GenesisBlock.Transactions[0]

	chain := newFakeChain()
	var gotConfirmed bool
	chain.onFetchTransaction = func(_ chainhash.Hash, confirmed bool) (*wire.MsgTx, Code) {
		gotConfirmed = confirmed
		return tx, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	hash := tx.TxHash()
	fetchTransaction(s, sock, request("blockchain.fetch_transaction", 9, hash[:]))
	require.True(t, gotConfirmed)

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	reply := sock.message(t, 0)
	require.Equal(t, CodeSuccess.Bytes(), reply.Data[:4])
	require.Equal(t, buf.Bytes(), reply.Data[4:])

	// The pool variant lifts the restriction.
	fetchTransaction2(s, sock, request("blockchain.fetch_transaction2", 10, hash[:]))
	require.False(t, gotConfirmed)
}

// TestFetchStealth2 verifies the bitfield request discipline and the
// 84-byte row layout.
func TestFetchStealth2(t *testing.T) {
	row := StealthRow{
		EphemeralKeyHash: chainhash.Hash{0x01},
		AddressHash:      [20]byte{0x02},
		TxHash:           chainhash.Hash{0x03},
	}

	chain := newFakeChain()
	var gotPrefix bitprefix.Prefix
	var gotFrom uint32
	chain.onFetchStealth = func(prefix bitprefix.Prefix, from uint32) ([]StealthRow, Code) {
		gotPrefix = prefix
		gotFrom = from
		return []StealthRow{row}, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	// bit_len=8, one block byte, from_height=16.
	fetchStealth2(s, sock, request("blockchain.fetch_stealth2", 11,
		[]byte{8, 0xab, 0x10, 0x00, 0x00, 0x00}))

	require.Equal(t, uint(8), gotPrefix.Bits())
	require.Equal(t, uint32(16), gotFrom)

	reply := sock.message(t, 0)
	require.Len(t, reply.Data, 4+84)
	require.Equal(t, CodeSuccess.Bytes(), reply.Data[:4])
	require.Equal(t, row.EphemeralKeyHash[:], reply.Data[4:36])
	require.Equal(t, row.AddressHash[:], reply.Data[36:56])
	require.Equal(t, row.TxHash[:], reply.Data[56:88])
}

// TestStealthRequestLengths verifies the exact-length rule
// 1 + ceil(bit_len/8) + 4 and that a zero bit length is legal.
func TestStealthRequestLengths(t *testing.T) {
	chain := newFakeChain()
	chain.onFetchStealth = func(bitprefix.Prefix, uint32) ([]StealthRow, Code) {
		return nil, CodeSuccess
	}
	s := newTestServer(chain)

	tests := []struct {
		name string
		data []byte
		want Code
	}{
		{"empty", nil, CodeBadStream},
		{"zero bits", []byte{0, 0x00, 0x00, 0x00, 0x00}, CodeSuccess},
		{"zero bits with block", []byte{0, 0xab, 0x00, 0x00, 0x00, 0x00}, CodeBadStream},
		{"eight bits", []byte{8, 0xab, 0x00, 0x00, 0x00, 0x00}, CodeSuccess},
		{"eight bits short", []byte{8, 0x00, 0x00, 0x00, 0x00}, CodeBadStream},
		{"nine bits", []byte{9, 0xab, 0x80, 0x00, 0x00, 0x00, 0x00}, CodeSuccess},
		{"nine bits one block", []byte{9, 0xab, 0x00, 0x00, 0x00, 0x00}, CodeBadStream},
	}

	for _, test := range tests {
		sock := &fakeSocket{}
		fetchStealth2(s, sock, request("blockchain.fetch_stealth2", 12, test.data))
		reply := sock.message(t, 0)
		require.Equalf(t, test.want.Bytes(), reply.Data[:4], "%s", test.name)
	}
}

// TestStealthTransaction verifies the reduced reply carries hashes
// only.
func TestStealthTransaction(t *testing.T) {
	chain := newFakeChain()
	chain.onFetchStealth = func(bitprefix.Prefix, uint32) ([]StealthRow, Code) {
		return []StealthRow{{TxHash: chainhash.Hash{0x0a}}}, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	fetchStealthTransaction(s, sock,
		request("blockchain.fetch_stealth_transaction", 13,
			[]byte{0, 0x00, 0x00, 0x00, 0x00}))

	reply := sock.message(t, 0)
	require.Len(t, reply.Data, 4+32)
	want := chainhash.Hash{0x0a}
	require.Equal(t, want[:], reply.Data[4:])
}

// TestFetchHistory2 verifies the 25-byte request layout and the
// 49-byte row layout.
func TestFetchHistory2(t *testing.T) {
	rows := []HistoryRow{
		{Kind: PointOutput, Hash: chainhash.Hash{0x01}, Index: 2, Height: 3, Value: 5000},
		{Kind: PointSpend, Hash: chainhash.Hash{0x04}, Index: 5, Height: 6, Value: 0xdeadbeef},
	}

	chain := newFakeChain()
	var gotHash [20]byte
	var gotFrom uint32
	chain.onFetchHistory = func(hash [20]byte, limit, from uint32) ([]HistoryRow, Code) {
		gotHash = hash
		gotFrom = from
		return rows, CodeSuccess
	}
	s := newTestServer(chain)
	sock := &fakeSocket{}

	reqData := make([]byte, 25)
	reqData[0] = 0x05 // address version
	for i := 0; i < 20; i++ {
		reqData[1+i] = byte(i)
	}
	binary.LittleEndian.PutUint32(reqData[21:], 100)

	fetchHistory2(s, sock, request("blockchain.fetch_history2", 14, reqData))

	require.Equal(t, uint32(100), gotFrom)
	require.Equal(t, byte(19), gotHash[19])

	reply := sock.message(t, 0)
	require.Len(t, reply.Data, 4+2*49)

	first := reply.Data[4:]
	require.Equal(t, byte(PointOutput), first[0])
	require.Equal(t, rows[0].Hash[:], first[1:33])
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(first[33:37]))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(first[37:41]))
	require.Equal(t, uint64(5000), binary.LittleEndian.Uint64(first[41:49]))

	second := reply.Data[4+49:]
	require.Equal(t, byte(PointSpend), second[0])

	// Short and long requests are bad streams.
	for _, size := range []int{0, 24, 26} {
		sock := &fakeSocket{}
		fetchHistory2(s, sock, request("blockchain.fetch_history2", 15,
			make([]byte, size)))
		require.Equalf(t, CodeBadStream.Bytes(), sock.message(t, 0).Data, "size %d", size)
	}
}

// TestBroadcastAndValidate verifies block decode, the simulate flag,
// and verbatim code propagation.
func TestBroadcastAndValidate(t *testing.T) {
	block := chaincfg.MainNetParams.GenesisBlock
	var buf bytes.Buffer
	require.NoError(t, block.Serialize(&buf))

	chain := newFakeChain()
	var gotSimulate bool
	chain.onOrganize = func(_ *wire.MsgBlock, simulate bool) Code {
		gotSimulate = simulate
		return CodeValidationError
	}
	s := newTestServer(chain)

	sock := &fakeSocket{}
	broadcastBlock(s, sock, request("blockchain.broadcast", 16, buf.Bytes()))
	require.False(t, gotSimulate)
	require.Equal(t, CodeValidationError.Bytes(), sock.message(t, 0).Data)

	sock = &fakeSocket{}
	validateBlock(s, sock, request("blockchain.validate", 17, buf.Bytes()))
	require.True(t, gotSimulate)

	// Garbage is a bad stream.
	sock = &fakeSocket{}
	broadcastBlock(s, sock, request("blockchain.broadcast", 18, []byte{0x01, 0x02}))
	require.Equal(t, CodeBadStream.Bytes(), sock.message(t, 0).Data)
}

// TestDispatchUnknownCommand verifies unknown commands ack not_found
// with an empty body.
func TestDispatchUnknownCommand(t *testing.T) {
	s := newTestServer(newFakeChain())
	sock := &fakeSocket{}

	s.dispatch(inbound{sock: sock, msg: request("blockchain.bogus", 19, nil)})

	reply := sock.message(t, 0)
	require.Equal(t, "blockchain.bogus", reply.Command)
	require.Equal(t, CodeNotFound.Bytes(), reply.Data)
}
