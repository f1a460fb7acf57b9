// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import "testing"

func TestMerkleRootSingle(t *testing.T) {
	want := singleSHA256Hex("abc" + "")
	if got := MerkleRoot([]string{"abc"}); got != want {
		t.Errorf("MerkleRoot(single) = %q, want %q", got, want)
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if got := MerkleRoot(nil); got != "" {
		t.Errorf("MerkleRoot(nil) = %q, want empty", got)
	}
}

func TestMerkleRootPair(t *testing.T) {
	want := singleSHA256Hex("a" + "b")
	if got := MerkleRoot([]string{"a", "b"}); got != want {
		t.Errorf("MerkleRoot([a,b]) = %q, want %q", got, want)
	}
}

func TestMerkleRootOddCountPadsWithEmptyString(t *testing.T) {
	// Three leaves: level 1 pairs (a,b) and (c,""); level 2 pairs the
	// two resulting hashes together.
	h1 := singleSHA256Hex("a" + "b")
	h2 := singleSHA256Hex("c" + "")
	want := singleSHA256Hex(h1 + h2)
	if got := MerkleRoot([]string{"a", "b", "c"}); got != want {
		t.Errorf("MerkleRoot([a,b,c]) = %q, want %q", got, want)
	}
}

func TestMerkleRootIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	txs := []*Transaction{
		{Signature: "BBBB"},
		{Signature: "aaaa"},
	}
	txs[0].Hash = txs[0].Signature
	txs[1].Hash = txs[1].Signature

	reordered := []*Transaction{txs[1], txs[0]}
	reordered[0].Hash = reordered[0].Signature
	reordered[1].Hash = reordered[1].Signature

	r1 := MerkleRoot(sortedTransactionHashes(txs))
	r2 := MerkleRoot(sortedTransactionHashes(reordered))
	if r1 != r2 {
		t.Errorf("merkle root depends on transaction slice order: %q != %q", r1, r2)
	}
}
