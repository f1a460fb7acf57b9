// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// singleSHA256Hex returns hex(sha256(s)), the single (not double) hash
// the merkle tree pairing step uses per spec.md §4.1.
func singleSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sortedTransactionHashes returns the transaction hashes of txs sorted
// lexicographically, case-insensitively, implementing spec.md §4.1's
// "Returns a sorted list of tx hash, so the merkle root is constant
// across nodes" (source: Block.get_transaction_hashes).
func sortedTransactionHashes(txs []*Transaction) []string {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	sort.Slice(hashes, func(i, j int) bool {
		return strings.ToLower(hashes[i]) < strings.ToLower(hashes[j])
	})
	return hashes
}

// MerkleRoot computes the merkle root of hashes per spec.md §4.1: pair
// adjacent hashes and hash `SHA256(a || b)` (single SHA256, not
// SHA256d, matching the source's `hashlib.sha256(...).digest().hex()`);
// if a level has an odd count, the last element pairs with the empty
// string. Recurse until one hash remains.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}

	next := make([]string, 0, (len(hashes)+1)/2)
	for i := 0; i < len(hashes); i += 2 {
		left := hashes[i]
		right := ""
		if i+1 < len(hashes) {
			right = hashes[i+1]
		}
		next = append(next, singleSHA256Hex(left+right))
	}
	if len(next) == 1 {
		return next[0]
	}
	return MerkleRoot(next)
}
