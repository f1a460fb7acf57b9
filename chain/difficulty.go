// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"math/big"
	"time"

	"github.com/decred/dcrd/math/uint256"
	"github.com/vaultchain/vaultd/chainparams"
)

// BlockSource resolves a committed block by height, the read-only view
// the difficulty retargeter and cumulative-difficulty walk need over
// the authoritative chain (spec.md §4.3; source: Block.from_dict over
// `mongo.async_db.blocks`).
type BlockSource interface {
	// BlockAt returns the committed block at height, and whether one
	// exists.
	BlockAt(height int64) (*Block, bool)
	// TipIndex returns the height of the current chain tip.
	TipIndex() int64
}

// NextTarget computes the required target for the block that extends
// prev, dispatching between the legacy and 10-minute retarget regimes
// by height (spec.md §4.3). candidateTime is the wall-clock time
// embedded in the block under construction/validation; it is needed by
// both regimes to measure elapsed time since prev.
func NextTarget(network chainparams.Network, src BlockSource, height int64, prev *Block, candidateTime int64) *uint256.Uint256 {
	if network == chainparams.Testnet || network == chainparams.Regnet {
		return chainparams.MaxTarget
	}
	if height == 0 {
		return chainparams.MaxTarget
	}
	if height >= chainparams.Fork10Min {
		return tenMinuteTarget(src, height, prev, candidateTime)
	}
	return legacyTarget(src, height, prev, candidateTime)
}

// legacyTarget implements the pre-10-minute-fork retarget regime
// (spec.md §4.3 "Legacy"; source: BlockFactory.get_target). Outside a
// retarget boundary, the chain simply inherits the last non-special-min
// target; every RETARGET_PERIOD blocks, it rescales that target by the
// elapsed time over the window, clamped to [MIN_SECONDS, MAX_SECONDS].
func legacyTarget(src BlockSource, height int64, prev *Block, candidateTime int64) *uint256.Uint256 {
	version := chainparams.VersionForHeight(height)
	period := chainparams.RetargetPeriod(version)
	minSeconds, maxSeconds := legacyBounds(version)

	if height%period != 0 {
		return lastNonSpecialMinTarget(src, height-1, prev.Target)
	}

	anchor, ok := src.BlockAt(height - period)
	if !ok {
		return lastNonSpecialMinTarget(src, height-1, prev.Target)
	}
	elapsed := prev.Time - anchor.Time
	switch {
	case elapsed > maxSeconds:
		elapsed = maxSeconds
	case elapsed < minSeconds:
		elapsed = minSeconds
	}

	base := lastNonSpecialMinTarget(src, height-1, prev.Target)
	baseBig := chainparams.Uint256ToBig(base)
	newTarget := new(big.Int).Mul(baseBig, big.NewInt(elapsed))
	newTarget.Div(newTarget, big.NewInt(maxSeconds))

	return clampTarget(newTarget)
}

// legacyBounds returns MIN_SECONDS/MAX_SECONDS bounding the elapsed
// time a retarget window is measured against. The source keys these
// per block version (MAX_SECONDS_V2/V3, MIN_SECONDS_V2/V3); this
// network uses a single bound across all legacy versions.
func legacyBounds(version int64) (min, max int64) {
	return chainparams.LegacyMinSeconds, chainparams.LegacyMaxSeconds
}

// lastNonSpecialMinTarget walks backward from height looking for the
// most recent block whose target was not special-min and not already
// MAX_TARGET, per the source's "block_to_check.special_min or
// block_to_check.target == max_target" skip loop. fallback is used if
// no qualifying ancestor exists (e.g. near genesis).
func lastNonSpecialMinTarget(src BlockSource, height int64, fallback *uint256.Uint256) *uint256.Uint256 {
	maxTargetBig := chainparams.Uint256ToBig(chainparams.MaxTarget)
	for h := height; h > 0; h-- {
		b, ok := src.BlockAt(h)
		if !ok {
			break
		}
		if b.SpecialMin || b.Target == nil {
			continue
		}
		if chainparams.Uint256ToBig(b.Target).Cmp(maxTargetBig) == 0 {
			continue
		}
		return b.Target
	}
	if fallback != nil {
		return fallback
	}
	return chainparams.MaxTarget
}

// clampTarget bounds t to spec.md §4.3's [1, MAX_TARGET].
func clampTarget(t *big.Int) *uint256.Uint256 {
	maxTargetBig := chainparams.Uint256ToBig(chainparams.MaxTarget)
	if t.Cmp(maxTargetBig) > 0 {
		return chainparams.MaxTarget
	}
	if t.Sign() < 1 {
		return chainparams.BigToUint256(big.NewInt(1))
	}
	return chainparams.BigToUint256(t)
}

// tenMinuteTarget implements the 10-minute-fork retarget regime
// (spec.md §4.3 "10-min fork"; source: BlockFactory.get_target_10min).
// It averages target and elapsed time over a short (9-block, 1.5h) and
// long (30-block, 5h) window, preferring the short window's reading
// whenever it indicates blocks are arriving faster than target, and
// applies a separate linear escape hatch toward MAX_TARGET when
// candidateTime is more than twice the target time after prev.
func tenMinuteTarget(src BlockSource, height int64, prev *Block, candidateTime int64) *uint256.Uint256 {
	targetTime := chainparams.TargetBlockTimeSeconds
	maxTargetBig := chainparams.Uint256ToBig(chainparams.MaxTarget)

	currentBlockTime := candidateTime - prev.Time
	if currentBlockTime > chainparams.EscapeHatchSeconds {
		return chainparams.MaxTarget
	}

	var adjusted *big.Int
	if currentBlockTime > 2*targetTime {
		prevTargetBig := chainparams.Uint256ToBig(prev.Target)
		delta := new(big.Int).Sub(maxTargetBig, prevTargetBig)
		delta.Mul(delta, big.NewInt(currentBlockTime))
		delta.Div(delta, big.NewInt(chainparams.EscapeHatchSeconds))
		adjusted = new(big.Int).Add(prevTargetBig, delta)
	}

	tip := src.TipIndex()
	shortAvgTime, shortAvgTarget := windowAverages(src, tip, chainparams.ShortWindowBlocks, candidateTime)
	longAvgTime, longAvgTarget := windowAverages(src, tip, chainparams.LongWindowBlocks, candidateTime)

	var avgTarget *big.Int
	var avgBlockTime int64
	if shortAvgTime < targetTime {
		avgTarget, avgBlockTime = shortAvgTarget, shortAvgTime
	} else {
		avgTarget, avgBlockTime = longAvgTarget, longAvgTime
	}

	target := new(big.Int).Mul(avgTarget, big.NewInt(avgBlockTime))
	target.Div(target, big.NewInt(targetTime))

	if adjusted != nil && adjusted.Cmp(target) > 0 {
		target = adjusted
	}

	return clampTarget(target)
}

// windowAverages returns the average inter-block time and average
// target over the `window` blocks ending at tip, measured against
// candidateTime, implementing the per-window computation
// get_target_10min repeats for both its short and long windows.
func windowAverages(src BlockSource, tip, window, candidateTime int64) (avgTime int64, avgTarget *big.Int) {
	anchor, ok := src.BlockAt(tip - window)
	if !ok || window == 0 {
		return chainparams.TargetBlockTimeSeconds, chainparams.Uint256ToBig(chainparams.MaxTarget)
	}
	avgTime = (candidateTime - anchor.Time) / window

	sum := new(big.Int)
	count := int64(0)
	for h := tip; h > tip-window; h-- {
		b, ok := src.BlockAt(h)
		if !ok {
			continue
		}
		sum.Add(sum, chainparams.Uint256ToBig(b.Target))
		count++
	}
	if count == 0 {
		return avgTime, chainparams.Uint256ToBig(chainparams.MaxTarget)
	}
	avgTarget = sum.Div(sum, big.NewInt(count))
	return avgTime, avgTarget
}

// SpecialTarget relaxes target for a special-min block once deltaT
// exceeds the target block time, capped at MAX_TARGET, implementing
// CHAIN.special_target's "escape hatch" role described in spec.md
// §4.3. special-min blocks exist so the network can keep producing
// blocks when no miner finds one under the regular target within a
// reasonable time. The relaxation added is (MAX_TARGET − target) ×
// deltaT / (10 × target block time): it grows linearly with the whole
// of deltaT, not with the excess over the target block time.
func SpecialTarget(height int64, target *uint256.Uint256, deltaT int64, network chainparams.Network) *uint256.Uint256 {
	if network == chainparams.Testnet || network == chainparams.Regnet {
		return chainparams.MaxTarget
	}
	targetBlockTime := int64(chainparams.TargetBlockTime(network) / time.Second)
	if deltaT <= targetBlockTime {
		return target
	}

	maxTargetBig := chainparams.Uint256ToBig(chainparams.MaxTarget)
	targetBig := chainparams.Uint256ToBig(target)
	delta := new(big.Int).Sub(maxTargetBig, targetBig)
	delta.Mul(delta, big.NewInt(deltaT))
	delta.Div(delta, big.NewInt(targetBlockTime*10))
	relaxed := new(big.Int).Add(targetBig, delta)
	return clampTarget(relaxed)
}
