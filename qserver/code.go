// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"encoding/binary"
	"fmt"
)

// Code is a wire-visible result code.  The values are stable 32-bit
// little-endian integers shared with clients; every reply payload
// begins with one.
type Code uint32

const (
	// CodeSuccess indicates the operation completed.
	CodeSuccess Code = 0

	// CodeBadStream indicates a request payload that could not be
	// decoded under the command's layout.
	CodeBadStream Code = 1

	// CodeNotFound indicates the requested entity does not exist, or
	// the command itself is unknown.
	CodeNotFound Code = 2

	// CodeBadChecksum indicates a frame whose checksum did not match
	// its data.  Inbound frames with this condition are dropped rather
	// than answered, so the code only appears chain-side.
	CodeBadChecksum Code = 3

	// CodePeerGone indicates the reply route no longer exists.
	CodePeerGone Code = 4

	// CodeSubscriptionLimit indicates the subscription table was full
	// and an older entry was evicted to admit this one.
	CodeSubscriptionLimit Code = 5

	// CodeValidationError indicates block organization failed
	// validation.
	CodeValidationError Code = 6

	// CodeServiceStopped indicates the server is shutting down.
	CodeServiceStopped Code = 7
)

// codeStrings maps codes back to their constant names for logging.
var codeStrings = map[Code]string{
	CodeSuccess:           "success",
	CodeBadStream:         "bad_stream",
	CodeNotFound:          "not_found",
	CodeBadChecksum:       "bad_checksum",
	CodePeerGone:          "peer_gone",
	CodeSubscriptionLimit: "subscription_limit",
	CodeValidationError:   "validation_error",
	CodeServiceStopped:    "service_stopped",
}

// String returns the code in human-readable form.
func (c Code) String() string {
	if s, ok := codeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Bytes returns the 4-byte little-endian wire form.
func (c Code) Bytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(c))
	return b[:]
}
