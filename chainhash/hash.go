// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainhash implements the hash primitives used throughout the
// node: the double-SHA256 function used for transaction/merkle hashing
// on every block version, and the RandomX indirection used for the
// proof-of-work hash once a block's height reaches the RandomX fork.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size, in bytes, of a hash produced by this package.
const HashSize = 32

// Hash is a 32-byte double-SHA256 (or RandomX) digest.
type Hash [HashSize]byte

// String returns the hash as a lowercase hex string in the same byte
// order it is stored, matching the wire encoding used throughout the
// block/transaction JSON formats (no byte-reversal, unlike Bitcoin's
// chainhash.Hash.String).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsEqual returns whether h and target are the same hash.
func (h *Hash) IsEqual(target *Hash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// NewHashFromStr parses a 64-character hex string into a Hash.
func NewHashFromStr(s string) (*Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("chainhash: invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return nil, fmt.Errorf("chainhash: invalid hash length %d, want %d", len(b), HashSize)
	}
	var h Hash
	copy(h[:], b)
	return &h, nil
}

// HashB calculates the double SHA256 of b and returns the resulting
// bytes.
func HashB(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// HashH calculates the double SHA256 of b and returns the resulting
// bytes as a Hash.
func HashH(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// Hash256dReversed computes the double-SHA256 of b and returns it as a
// hex string with the byte order reversed, matching the legacy (pre
// RandomX) proof-of-work hash format inherited from the Bitcoin-style
// big-endian display convention: spec.md §3 "double SHA-256
// big-endian-reversed".
func Hash256dReversed(b []byte) string {
	digest := HashB(b)
	reversed := make([]byte, len(digest))
	for i, c := range digest {
		reversed[len(digest)-1-i] = c
	}
	return hex.EncodeToString(reversed)
}

// Reverse returns a copy of b with its byte order reversed. It is used
// to convert a RandomX digest into the "little_hash" comparison value
// the v5 fork introduces (spec.md §4.1, §4.5).
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
