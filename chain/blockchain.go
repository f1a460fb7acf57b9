// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"math/big"

	"github.com/decred/dcrd/math/uint256"
	"github.com/vaultchain/vaultd/chainhash"
	"github.com/vaultchain/vaultd/chainparams"
)

// Blockchain is an ordered, in-memory sequence of blocks, implementing
// spec.md §4.2's container contract: consecutiveness, cumulative
// difficulty, whole-chain verification, and inbound-chain comparison.
// It holds no storage of its own; store.Store persists the
// authoritative chain and feeds Blockchain instances to this package
// for comparison during retrace (spec.md §4.4).
type Blockchain struct {
	Blocks []*Block
}

// NewBlockchain wraps blocks as a Blockchain, in index order.
func NewBlockchain(blocks []*Block) *Blockchain {
	return &Blockchain{Blocks: blocks}
}

// IsConsecutive reports whether every adjacent pair of blocks
// satisfies the chain-linkage invariant: ascending index by exactly
// one and prevHash equal to the predecessor's hash.
func (bc *Blockchain) IsConsecutive() bool {
	for i := 1; i < len(bc.Blocks); i++ {
		prev, cur := bc.Blocks[i-1], bc.Blocks[i]
		if cur.Index != prev.Index+1 {
			return false
		}
		if cur.PrevHash != prev.Hash {
			return false
		}
	}
	return true
}

// FinalBlock returns the last block in the chain, or nil if empty.
func (bc *Blockchain) FinalBlock() *Block {
	if len(bc.Blocks) == 0 {
		return nil
	}
	return bc.Blocks[len(bc.Blocks)-1]
}

// Count returns the number of blocks held.
func (bc *Blockchain) Count() int {
	return len(bc.Blocks)
}

// GetDifficulty returns the cumulative difficulty of the chain:
// Σ (MAX_TARGET − target_i), excluding special-min blocks, per
// spec.md §3/§4.2. The subtraction and the running sum are done in
// math/big (targets never exceed MAX_TARGET, so no underflow occurs)
// and the total is converted back to a 256-bit value at the end.
func (bc *Blockchain) GetDifficulty() *uint256.Uint256 {
	maxTarget := chainparams.Uint256ToBig(chainparams.MaxTarget)
	sum := new(big.Int)
	for _, b := range bc.Blocks {
		if b.SpecialMin || b.Target == nil {
			continue
		}
		diff := new(big.Int).Sub(maxTarget, chainparams.Uint256ToBig(b.Target))
		sum.Add(sum, diff)
	}
	return chainparams.BigToUint256(sum)
}

// VerifyResult is the outcome of Blockchain.Verify.
type VerifyResult struct {
	Verified      bool
	LastGoodBlock *Block
}

// Verify validates each block in order, per spec.md §4.2 `verify`:
// version/merkle/hash/signature/coinbase via Block.Verify, target
// acceptance via HashUnderTarget (skipped for the genesis block), and
// chain linkage to the predecessor. It stops at the first failure and
// reports the last block that passed.
func (bc *Blockchain) Verify(hasher chainhash.Hasher) VerifyResult {
	var lastGood *Block
	for i, b := range bc.Blocks {
		if i > 0 {
			prev := bc.Blocks[i-1]
			if b.Index != prev.Index+1 || b.PrevHash != prev.Hash {
				return VerifyResult{Verified: false, LastGoodBlock: lastGood}
			}
		}
		if err := b.Verify(hasher); err != nil {
			return VerifyResult{Verified: false, LastGoodBlock: lastGood}
		}
		if b.Index != 0 {
			ok, err := b.HashUnderTarget()
			if err != nil || !ok {
				return VerifyResult{Verified: false, LastGoodBlock: lastGood}
			}
		}
		lastGood = b
	}
	return VerifyResult{Verified: true, LastGoodBlock: lastGood}
}

// TestInboundBlockchain reports whether other is preferable to bc:
// other's head index is at least bc's, other's cumulative difficulty
// is at least bc's, and other's head is consecutive and internally
// valid (spec.md §4.2 `test_inbound_blockchain`).
func (bc *Blockchain) TestInboundBlockchain(other *Blockchain, hasher chainhash.Hasher) bool {
	otherFinal := other.FinalBlock()
	selfFinal := bc.FinalBlock()
	if otherFinal == nil {
		return false
	}
	if selfFinal != nil && otherFinal.Index < selfFinal.Index {
		return false
	}
	if !other.IsConsecutive() {
		return false
	}
	if !other.Verify(hasher).Verified {
		return false
	}
	otherDiff := chainparams.Uint256ToBig(other.GetDifficulty())
	selfDiff := chainparams.Uint256ToBig(bc.GetDifficulty())
	return otherDiff.Cmp(selfDiff) >= 0
}
