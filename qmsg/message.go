// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qmsg

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// SignalID is the correlation id carried by single-part control
	// frames.  It can never collide with a request id because requests
	// always carry an explicit 4-byte id and signals carry none.
	SignalID uint32 = 0xffffffff

	// idLen and checksumLen are the exact sizes of the id and checksum
	// frames.  Any other size fails decoding.
	idLen       = 4
	checksumLen = 4
)

var (
	// ErrBadFrame describes an envelope with an unexpected part count,
	// a malformed delimiter, or a mis-sized id frame.
	ErrBadFrame = errors.New("malformed message envelope")

	// ErrBadChecksum describes a payload whose double-sha256 checksum
	// frame does not match the data frame.
	ErrBadChecksum = errors.New("payload checksum mismatch")
)

// Message is the parsed form of the client wire envelope.  Requests
// arriving through a router carry the router's identity frame in Dest;
// replies reuse Dest, Command, and ID verbatim and change only the data.
type Message struct {
	Dest    []byte
	Command string
	ID      uint32
	Data    []byte
}

// Checksum returns the first four bytes of the double-sha256 of data.
// This is the standard Bitcoin payload checksum, applied here to the
// data frame of the envelope rather than to consensus structures.
func Checksum(data []byte) []byte {
	return chainhash.DoubleHashB(data)[:checksumLen]
}

// Decode parses a multi-part envelope.
//
// A single part is a signal: the part is the command and the id is
// SignalID.  Five or six parts form a request or reply:
//
//	[ dest? ] [ delimiter ] [ command ] [ id:4 ] [ data ] [ checksum:4 ]
//
// with dest present only in the six-part shape.  The delimiter may be
// empty or a single byte; dealer implementations differ and both forms
// are accepted.  Any other part count fails with ErrBadFrame and a
// checksum mismatch fails with ErrBadChecksum.
func Decode(parts [][]byte) (*Message, error) {
	if len(parts) == 1 {
		return &Message{
			Command: string(parts[0]),
			ID:      SignalID,
		}, nil
	}
	if len(parts) != 5 && len(parts) != 6 {
		return nil, ErrBadFrame
	}

	msg := &Message{}
	if len(parts) == 6 {
		msg.Dest = parts[0]
		parts = parts[1:]
	}

	// The delimiter separates the routing envelope from the body.  Some
	// senders emit it as an empty frame and some as a single zero byte.
	if len(parts[0]) > 1 {
		return nil, ErrBadFrame
	}

	msg.Command = string(parts[1])

	if len(parts[2]) != idLen {
		return nil, ErrBadFrame
	}
	msg.ID = binary.LittleEndian.Uint32(parts[2])

	msg.Data = parts[3]

	if len(parts[4]) != checksumLen {
		return nil, ErrBadFrame
	}
	if !bytes.Equal(parts[4], Checksum(msg.Data)) {
		return nil, ErrBadChecksum
	}

	return msg, nil
}

// Encode serializes the message into its multi-part envelope.  The
// delimiter is emitted as an empty frame.  When Dest is empty the
// envelope starts at the delimiter, producing the five-part dealer
// shape.
func (m *Message) Encode() [][]byte {
	parts := make([][]byte, 0, 6)
	if len(m.Dest) != 0 {
		parts = append(parts, m.Dest)
	}

	id := make([]byte, idLen)
	binary.LittleEndian.PutUint32(id, m.ID)

	parts = append(parts, []byte{}, []byte(m.Command), id, m.Data,
		Checksum(m.Data))
	return parts
}

// Body returns the envelope without the dest frame, which is what a
// router transport writes after consuming the identity.
func (m *Message) Body() [][]byte {
	saved := m.Dest
	m.Dest = nil
	parts := m.Encode()
	m.Dest = saved
	return parts
}

// Reply builds a response to m carrying data.  Dest, Command, and ID
// are preserved so the caller can correlate.
func (m *Message) Reply(data []byte) *Message {
	return &Message{
		Dest:    m.Dest,
		Command: m.Command,
		ID:      m.ID,
		Data:    data,
	}
}

// IsSignal reports whether the message arrived as a single-part control
// frame.
func (m *Message) IsSignal() bool {
	return m.ID == SignalID
}

// Route returns the reply address of the message.
func (m *Message) Route() Route {
	return Route{Dest: m.Dest, ID: m.ID}
}
