// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package qnet provides the message-oriented transport consumed by the
// query and notification services.  It implements router and dealer
// endpoints over framed TCP: each message is a sequence of opaque byte
// parts, and the router addresses clients by per-connection identity
// frames.
package qnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// maxParts bounds the part count of a single message.  The widest
	// legal envelope is six parts; the cap leaves headroom for protocol
	// growth without admitting unbounded frames.
	maxParts = 16

	// maxPartSize bounds a single part.  Blocks are the largest payload
	// carried and fit well within 4 MiB.
	maxPartSize = 4 * 1024 * 1024
)

var (
	// ErrPeerGone describes a send to an identity with no live route.
	ErrPeerGone = errors.New("no route to peer")

	// ErrSocketClosed describes an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// errPartTooLarge and errTooManyParts surface framing violations
	// from a remote; the connection is dropped on either.
	errPartTooLarge = errors.New("message part exceeds maximum size")
	errTooManyParts = errors.New("message exceeds maximum part count")
)

// Socket is the capability the server core consumes: multi-part frame
// exchange with router semantics.  Recv blocks until a message arrives
// and returns the sender's identity alongside the parts.  Send routes
// parts to the connection owning identity and fails with ErrPeerGone
// when no such route exists.
type Socket interface {
	Recv() (identity []byte, parts [][]byte, err error)
	Send(identity []byte, parts [][]byte) error
	Close() error
}

// writeParts serializes a multi-part message: a little-endian part
// count followed by a length-prefixed byte string per part.
func writeParts(w io.Writer, parts [][]byte) error {
	if len(parts) > maxParts {
		return errTooManyParts
	}

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(parts)))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	for _, part := range parts {
		if len(part) > maxPartSize {
			return errPartTooLarge
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(part)))
		if _, err := w.Write(scratch[:]); err != nil {
			return err
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// readParts parses one multi-part message from r, enforcing the part
// count and size caps.
func readParts(r io.Reader) ([][]byte, error) {
	var scratch [4]byte
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(scratch[:])
	if count > maxParts {
		return nil, errTooManyParts
	}

	parts := make([][]byte, count)
	for i := range parts {
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return nil, fmt.Errorf("short part header: %w", err)
		}
		size := binary.LittleEndian.Uint32(scratch[:])
		if size > maxPartSize {
			return nil, errPartTooLarge
		}
		part := make([]byte, size)
		if _, err := io.ReadFull(r, part); err != nil {
			return nil, fmt.Errorf("short part body: %w", err)
		}
		parts[i] = part
	}
	return parts, nil
}
