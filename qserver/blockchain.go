// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/JoBangelz/libbitcoin-server/bitprefix"
	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

const (
	hashSize      = chainhash.HashSize
	shortHashSize = 20
	heightSize    = 4
	pointSize     = hashSize + 4

	// historyRowSize is point_kind:1 tx_hash:32 index:4 height:4
	// value:8.
	historyRowSize = 1 + hashSize + 4 + heightSize + 8

	// stealthRowSize is ephemeral_key_hash:32 address_hash:20
	// tx_hash:32.
	stealthRowSize = hashSize + shortHashSize + hashSize
)

// fetchHistory2 handles blockchain.fetch_history2:
//
//	request  [ address_version:1 ][ address_hash:20 ][ from_height:4 ]
//	reply    [ code:4 ][ rows... ]
func fetchHistory2(s *Server, sock qnet.Socket, req *qmsg.Message) {
	data := req.Data
	if len(data) != 1+shortHashSize+heightSize {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	version := data[0]
	var addressHash [shortHashSize]byte
	copy(addressHash[:], data[1:1+shortHashSize])
	fromHeight := binary.LittleEndian.Uint32(data[1+shortHashSize:])

	log.Debugf("blockchain.fetch_history2(version=%d, from_height=%d)",
		version, fromHeight)

	rows, code := s.chain.FetchHistory(addressHash, 0, fromHeight)

	reply := make([]byte, 0, 4+historyRowSize*len(rows))
	reply = append(reply, code.Bytes()...)
	var scratch [8]byte
	for _, row := range rows {
		reply = append(reply, byte(row.Kind))
		reply = append(reply, row.Hash[:]...)
		binary.LittleEndian.PutUint32(scratch[:4], row.Index)
		reply = append(reply, scratch[:4]...)
		binary.LittleEndian.PutUint32(scratch[:4], row.Height)
		reply = append(reply, scratch[:4]...)
		binary.LittleEndian.PutUint64(scratch[:], row.Value)
		reply = append(reply, scratch[:]...)
	}
	s.reply(sock, req, reply)
}

// fetchTransaction handles blockchain.fetch_transaction, restricted to
// confirmed transactions.
func fetchTransaction(s *Server, sock qnet.Socket, req *qmsg.Message) {
	fetchTransactionCommon(s, sock, req, true)
}

// fetchTransaction2 handles blockchain.fetch_transaction2, which also
// serves pool transactions.
func fetchTransaction2(s *Server, sock qnet.Socket, req *qmsg.Message) {
	fetchTransactionCommon(s, sock, req, false)
}

func fetchTransactionCommon(s *Server, sock qnet.Socket, req *qmsg.Message,
	requireConfirmed bool) {

	hash, ok := readHash(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	log.Debugf("blockchain.fetch_transaction(%v)", hash)

	tx, code := s.chain.FetchTransaction(hash, requireConfirmed)
	if code != CodeSuccess || tx == nil {
		s.replyCode(sock, req, code)
		return
	}

	var buf bytes.Buffer
	buf.Grow(4 + tx.SerializeSize())
	buf.Write(code.Bytes())
	if err := tx.Serialize(&buf); err != nil {
		log.Errorf("Failed to serialize tx %v: %v", hash, err)
		s.replyCode(sock, req, CodeBadStream)
		return
	}
	s.reply(sock, req, buf.Bytes())
}

// fetchLastHeight handles blockchain.fetch_last_height:
//
//	request  empty
//	reply    [ code:4 ][ height:4 ]
func fetchLastHeight(s *Server, sock qnet.Socket, req *qmsg.Message) {
	if len(req.Data) != 0 {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	height, code := s.chain.FetchLastHeight()
	s.reply(sock, req, appendUint32(code.Bytes(), height))
}

// fetchBlockHeader handles blockchain.fetch_block_header.  The request
// variant is selected by payload length alone: a 32-byte payload is a
// hash, a 4-byte payload is a little-endian height.
func fetchBlockHeader(s *Server, sock qnet.Socket, req *qmsg.Message) {
	var header *wire.BlockHeader
	var code Code

	switch len(req.Data) {
	case hashSize:
		hash, _ := readHash(req.Data)
		header, code = s.chain.FetchBlockHeaderByHash(hash)
	case heightSize:
		header, code = s.chain.FetchBlockHeaderByHeight(
			binary.LittleEndian.Uint32(req.Data))
	default:
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	if code != CodeSuccess || header == nil {
		s.replyCode(sock, req, code)
		return
	}

	var buf bytes.Buffer
	buf.Grow(4 + wire.MaxBlockHeaderPayload)
	buf.Write(code.Bytes())
	if err := header.Serialize(&buf); err != nil {
		log.Errorf("Failed to serialize header: %v", err)
		s.replyCode(sock, req, CodeBadStream)
		return
	}
	s.reply(sock, req, buf.Bytes())
}

// fetchBlockTransactionHashes handles
// blockchain.fetch_block_transaction_hashes with the same by-length
// variant selection as fetch_block_header.
func fetchBlockTransactionHashes(s *Server, sock qnet.Socket, req *qmsg.Message) {
	var hashes []chainhash.Hash
	var code Code

	switch len(req.Data) {
	case hashSize:
		hash, _ := readHash(req.Data)
		hashes, code = s.chain.FetchBlockTransactionHashesByHash(hash)
	case heightSize:
		hashes, code = s.chain.FetchBlockTransactionHashesByHeight(
			binary.LittleEndian.Uint32(req.Data))
	default:
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	reply := make([]byte, 0, 4+hashSize*len(hashes))
	reply = append(reply, code.Bytes()...)
	for i := range hashes {
		reply = append(reply, hashes[i][:]...)
	}
	s.reply(sock, req, reply)
}

// fetchTransactionIndex handles blockchain.fetch_transaction_index:
//
//	request  [ tx_hash:32 ]
//	reply    [ code:4 ][ block_height:4 ][ tx_position:4 ]
func fetchTransactionIndex(s *Server, sock qnet.Socket, req *qmsg.Message) {
	hash, ok := readHash(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	position, height, code := s.chain.FetchTransactionPosition(hash, false)
	reply := appendUint32(code.Bytes(), height)
	s.reply(sock, req, appendUint32(reply, position))
}

// fetchSpend handles blockchain.fetch_spend:
//
//	request  [ tx_hash:32 ][ index:4 ]
//	reply    [ code:4 ][ tx_hash:32 ][ index:4 ]
func fetchSpend(s *Server, sock qnet.Socket, req *qmsg.Message) {
	outpoint, ok := readOutPoint(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	inpoint, code := s.chain.FetchSpend(outpoint)

	reply := make([]byte, 0, 4+pointSize)
	reply = append(reply, code.Bytes()...)
	reply = append(reply, inpoint.Hash[:]...)
	s.reply(sock, req, appendUint32(reply, inpoint.Index))
}

// fetchBlockHeight handles blockchain.fetch_block_height.
func fetchBlockHeight(s *Server, sock qnet.Socket, req *qmsg.Message) {
	hash, ok := readHash(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	height, code := s.chain.FetchBlockHeight(hash)
	s.reply(sock, req, appendUint32(code.Bytes(), height))
}

// fetchStealth2 handles blockchain.fetch_stealth2:
//
//	request  [ bit_len:1 ][ blocks ][ from_height:4 ]
//	reply    [ code:4 ][ rows... ]
func fetchStealth2(s *Server, sock qnet.Socket, req *qmsg.Message) {
	prefix, fromHeight, ok := readStealthArgs(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	rows, code := s.chain.FetchStealth(prefix, fromHeight)

	reply := make([]byte, 0, 4+stealthRowSize*len(rows))
	reply = append(reply, code.Bytes()...)
	for _, row := range rows {
		reply = append(reply, row.EphemeralKeyHash[:]...)
		reply = append(reply, row.AddressHash[:]...)
		reply = append(reply, row.TxHash[:]...)
	}
	s.reply(sock, req, reply)
}

// fetchStealthTransaction handles blockchain.fetch_stealth_transaction,
// the same scan reduced to transaction hashes.
func fetchStealthTransaction(s *Server, sock qnet.Socket, req *qmsg.Message) {
	prefix, fromHeight, ok := readStealthArgs(req.Data)
	if !ok {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	rows, code := s.chain.FetchStealth(prefix, fromHeight)

	reply := make([]byte, 0, 4+hashSize*len(rows))
	reply = append(reply, code.Bytes()...)
	for _, row := range rows {
		reply = append(reply, row.TxHash[:]...)
	}
	s.reply(sock, req, reply)
}

// broadcastBlock handles blockchain.broadcast: organize the block into
// the chain for real.  The reply code is the validation result.
func broadcastBlock(s *Server, sock qnet.Socket, req *qmsg.Message) {
	organizeBlock(s, sock, req, false)
}

// validateBlock handles blockchain.validate: a simulated organization
// that validates without committing.
func validateBlock(s *Server, sock qnet.Socket, req *qmsg.Message) {
	organizeBlock(s, sock, req, true)
}

func organizeBlock(s *Server, sock qnet.Socket, req *qmsg.Message, simulate bool) {
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(req.Data)); err != nil {
		s.replyCode(sock, req, CodeBadStream)
		return
	}

	s.replyCode(sock, req, s.chain.Organize(block, simulate))
}

// readHash parses a request payload that must be exactly one hash.
func readHash(data []byte) (chainhash.Hash, bool) {
	var hash chainhash.Hash
	if len(data) != hashSize {
		return hash, false
	}
	copy(hash[:], data)
	return hash, true
}

// readOutPoint parses [ tx_hash:32 ][ index:4 ].
func readOutPoint(data []byte) (wire.OutPoint, bool) {
	var point wire.OutPoint
	if len(data) != pointSize {
		return point, false
	}
	copy(point.Hash[:], data[:hashSize])
	point.Index = binary.LittleEndian.Uint32(data[hashSize:])
	return point, true
}

// readStealthArgs parses [ bit_len:1 ][ blocks ][ from_height:4 ],
// requiring the payload length to agree exactly with the declared bit
// length.  A zero bit length is legal and matches everything.
func readStealthArgs(data []byte) (bitprefix.Prefix, uint32, bool) {
	if len(data) == 0 {
		return bitprefix.Prefix{}, 0, false
	}

	bits := uint(data[0])
	blocks := bitprefix.BlockSize(bits)
	if len(data) != 1+blocks+heightSize {
		return bitprefix.Prefix{}, 0, false
	}

	prefix, err := bitprefix.New(bits, data[1:1+blocks])
	if err != nil {
		return bitprefix.Prefix{}, 0, false
	}
	fromHeight := binary.LittleEndian.Uint32(data[1+blocks:])
	return prefix, fromHeight, true
}

func appendUint32(b []byte, v uint32) []byte {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	return append(b, scratch[:]...)
}
