// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qmsg

import (
	"crypto/sha256"
	"encoding/hex"
)

// AddressKeySize is the size of the client identity digest used to key
// subscriptions.
const AddressKeySize = 20

// AddressKey identifies a subscribing client.  It is derived from the
// router identity frame so that reconnecting clients with a new
// identity occupy a new slot rather than silently inheriting an old
// subscription.
type AddressKey [AddressKeySize]byte

// String returns the key as a hex string for logging.
func (k AddressKey) String() string {
	return hex.EncodeToString(k[:])
}

// Route is the reply address of a client: the router identity frame and
// the correlation id of the originating request.  Notifications for a
// subscription echo the subscription's originating id.
type Route struct {
	Dest []byte
	ID   uint32
}

// Key derives the subscription owner key from the identity frame.  The
// digest is the first 20 bytes of sha256(dest), which keeps the table
// key fixed-size regardless of transport identity length.
func (r Route) Key() AddressKey {
	var key AddressKey
	digest := sha256.Sum256(r.Dest)
	copy(key[:], digest[:AddressKeySize])
	return key
}
