// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bitprefix implements the variable-length bit strings used for
// address and stealth prefix filtering.  A prefix is up to 256 bits,
// packed MSB-first, and matches a field when the field's leading bits
// equal the prefix.
package bitprefix

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kkdai/bstream"
)

// MaxBits is the longest representable prefix.  Matching targets are 20
// or 32 byte script digests, so 256 bits covers the widest field.
const MaxBits = 256

var (
	// ErrTooLong describes a prefix whose bit length exceeds MaxBits.
	ErrTooLong = errors.New("prefix exceeds 256 bits")

	// ErrBlockSize describes packed blocks whose length disagrees with
	// the declared bit length.
	ErrBlockSize = errors.New("prefix block size mismatch")
)

// BlockSize returns the number of bytes needed to pack bits.
func BlockSize(bits uint) int {
	return int(bits+7) / 8
}

// Prefix is an immutable bit string.  The zero value is the empty
// prefix, which matches every field.
type Prefix struct {
	bits   uint16
	blocks []byte
}

// New builds a prefix from a bit count and its packed MSB-first blocks.
// The blocks slice must be exactly BlockSize(bits) long.  Bits past the
// declared length are cleared so that equal prefixes always have equal
// packed forms.
func New(bits uint, blocks []byte) (Prefix, error) {
	if bits > MaxBits {
		return Prefix{}, ErrTooLong
	}
	if len(blocks) != BlockSize(bits) {
		return Prefix{}, ErrBlockSize
	}

	packed := make([]byte, len(blocks))
	copy(packed, blocks)
	if trailing := uint(len(packed)*8) - bits; trailing > 0 {
		packed[len(packed)-1] &= 0xff << trailing
	}

	return Prefix{bits: uint16(bits), blocks: packed}, nil
}

// FromBytes builds a prefix covering every bit of the given bytes.
func FromBytes(b []byte) Prefix {
	prefix, err := New(uint(len(b))*8, b)
	if err != nil {
		// Only reachable when b exceeds 32 bytes, which callers
		// guard against.
		panic(err)
	}
	return prefix
}

// Bits returns the number of significant bits.
func (p Prefix) Bits() uint {
	return uint(p.bits)
}

// Blocks returns the packed MSB-first representation.
func (p Prefix) Blocks() []byte {
	return p.blocks
}

// Matches reports whether the first Bits() bits of field equal the
// prefix.  The empty prefix matches everything, including fields
// shorter than a byte.  Fields with fewer bits than the prefix never
// match.
func (p Prefix) Matches(field []byte) bool {
	if p.bits == 0 {
		return true
	}
	if len(field)*8 < int(p.bits) {
		return false
	}

	// bstream shifts the bytes it reads in place, so read from copies
	// to leave the prefix and the caller's field untouched.
	want := bstream.NewBStreamReader(append([]byte(nil), p.blocks...))
	got := bstream.NewBStreamReader(append([]byte(nil), field...))
	for i := uint16(0); i < p.bits; i++ {
		wantBit, err := want.ReadBit()
		if err != nil {
			return false
		}
		gotBit, err := got.ReadBit()
		if err != nil {
			return false
		}
		if wantBit != gotBit {
			return false
		}
	}
	return true
}

// Serialize returns the wire form [ bit_len:1 ][ blocks ].  Only
// prefixes up to 255 bits are representable on the wire; longer ones
// exist internally but never round-trip through requests.
func (p Prefix) Serialize() []byte {
	out := make([]byte, 0, 1+len(p.blocks))
	out = append(out, byte(p.bits))
	return append(out, p.blocks...)
}

// Key returns a map key covering bit length and packed blocks, used to
// collapse duplicate subscriptions.
func (p Prefix) Key() string {
	return string([]byte{byte(p.bits), byte(p.bits >> 8)}) + string(p.blocks)
}

// String returns the prefix for logging as bits/hex.
func (p Prefix) String() string {
	return fmt.Sprintf("%d/%s", p.bits, hex.EncodeToString(p.blocks))
}
