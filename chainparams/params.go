// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainparams defines CHAIN: the height-indexed fork table,
// retarget periods, block-reward schedule, and network-wide constants
// spec.md §2/§3/§4.3 describe, following the literal-genesis-block,
// per-network Params struct convention of chaincfg.MainNetParams.
package chainparams

import (
	"math/big"
	"time"

	"github.com/decred/dcrd/math/uint256"
)

// Network identifies which of the three networks a node is running.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Regnet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regnet:
		return "regnet"
	default:
		return "unknown"
	}
}

// Height-indexed fork table. These pin the exact heights named
// throughout spec.md §3/§4.1/§4.3/§4.5: the version-3 target-encoding
// fork, the RandomX PoW fork, the binary-nonce (v5) fork, and the
// 10-minute retarget regime fork.
const (
	// V2Fork is the height at which block version advances to 2.
	V2Fork int64 = 6500

	// V3Fork is the height at which block version advances to 3 and
	// targets switch from legacy compact encoding to full 64-hex
	// integers embedded directly in the header (spec.md §4.1).
	V3Fork int64 = 12000

	// Fork10Min is FORK_10_MIN_BLOCK: the height at which the
	// 10-minute-target-block-time retarget regime of spec.md §4.3
	// replaces the legacy regime.
	Fork10Min int64 = 80000

	// RandomXFork is the height at which proof-of-work switches from
	// double-SHA256 to RandomX with text nonce substitution.
	RandomXFork int64 = 130000

	// V5Fork is BLOCK_V5_FORK: the height at which block version
	// advances to 5 and nonce substitution into the header blob
	// switches from textual `{nonce}` replacement to binary
	// substitution, per spec.md §3/§4.1/§4.5.
	V5Fork int64 = 150000

	// SpecialMinFreeFloor is the height below which special_min blocks
	// are permitted unconditionally (spec.md §4.3).
	SpecialMinFreeFloor int64 = 35200

	// SpecialMinTimeGateCeiling is the height up to which (exclusive)
	// a special_min block additionally requires delta-time to exceed
	// the target block time (spec.md §4.3).
	SpecialMinTimeGateCeiling int64 = 38600

	// SpecialMinTooSoonHeight is the height at and above which a
	// special_min block on mainnet must be at least 600s after the
	// previous tip (spec.md §4.4 time rules, §4.5 step 6).
	SpecialMinTooSoonHeight int64 = 35200

	// CheckTimeFrom is CHECK_TIME_FROM: the height above which the
	// monotonic block-time rule (spec.md §4.4) is enforced.
	CheckTimeFrom int64 = 100

	// CheckDoubleSpendFrom is CHECK_DOUBLE_SPEND_FROM: the height at
	// and above which an in-block double spend rejects the whole
	// block rather than being tolerated for historical compatibility.
	CheckDoubleSpendFrom int64 = 50

	// TimeTolerance bounds how far into the future a block's time may
	// be relative to local wall clock before it is rejected (spec.md
	// §4.4: "block.time > now + TIME_TOLERANCE").
	TimeTolerance int64 = 86400
)

// Legacy (pre-10-min-fork) retarget constants, one RETARGET_PERIOD per
// block version (spec.md §4.3).
const (
	RetargetPeriodV1 int64 = 25
	RetargetPeriodV2 int64 = 100
	RetargetPeriodV3 int64 = 250

	LegacyMaxSeconds int64 = 2 * 60 * 60
	LegacyMinSeconds int64 = 15
)

// 10-minute-fork retarget constants (spec.md §4.3).
const (
	TargetBlockTimeSeconds int64 = 600
	ShortWindowBlocks      int64 = 9  // 1.5h at 10 minute blocks.
	LongWindowBlocks       int64 = 30 // 5h at 10 minute blocks.
	EscapeHatchSeconds     int64 = 3600
)

// MaxTarget is the loosest allowable target (lowest difficulty): 2^256-1
// right-shifted by a fixed number of bits, mirroring the Bitcoin-style
// "highest possible PoW value" convention chaincfg.MainNetParams
// encodes as mainPowLimit.
var MaxTarget = mustMaxTarget()

func mustMaxTarget() *uint256.Uint256 {
	// 2^234 - 1: loose enough that a freshly-started single miner can
	// find blocks quickly, matching the spirit of chaincfg's
	// mainPowLimit derivation (2^254-1 for Decred's tighter-bound
	// network; this network's genesis difficulty is lower).
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 234), big.NewInt(1))
	u := new(uint256.Uint256)
	u.SetByteSlice(bigToFixed32(max))
	return u
}

func bigToFixed32(b *big.Int) []byte {
	out := make([]byte, 32)
	bb := b.Bytes()
	copy(out[32-len(bb):], bb)
	return out
}

// Uint256ToBig converts a 256-bit target to math/big for arithmetic
// uint256.Uint256 doesn't expose directly (division by a window
// length, linear interpolation toward MAX_TARGET): the difficulty
// retargeter and cumulative-difficulty accumulator both round-trip
// through this rather than re-deriving 256-bit multiply/divide.
func Uint256ToBig(u *uint256.Uint256) *big.Int {
	if u == nil {
		return new(big.Int)
	}
	b := u.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// uint256Ceiling is 2^256-1, the largest value a Uint256 can hold.
var uint256Ceiling = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BigToUint256 clamps b into [0, 2^256) and converts it to a
// uint256.Uint256, the inverse of Uint256ToBig.
func BigToUint256(b *big.Int) *uint256.Uint256 {
	switch {
	case b.Sign() < 0:
		b = new(big.Int)
	case b.Cmp(uint256Ceiling) > 0:
		b = uint256Ceiling
	}
	u := new(uint256.Uint256)
	u.SetByteSlice(bigToFixed32(b))
	return u
}

// Params holds the parameters specific to one network.
type Params struct {
	Network            Network
	AddressVersion     byte
	DefaultP2PPort     int
	DefaultStratumPort int
}

// ParamsFor returns the Params for the named network.
func ParamsFor(n Network) *Params {
	switch n {
	case Testnet:
		return &testnetParams
	case Regnet:
		return &regnetParams
	default:
		return &mainnetParams
	}
}

var mainnetParams = Params{
	Network:            Mainnet,
	AddressVersion:     0x00,
	DefaultP2PPort:     8150,
	DefaultStratumPort: 8151,
}

var testnetParams = Params{
	Network:            Testnet,
	AddressVersion:     0x6f,
	DefaultP2PPort:     18150,
	DefaultStratumPort: 18151,
}

var regnetParams = Params{
	Network:            Regnet,
	AddressVersion:     0x6f,
	DefaultP2PPort:     28150,
	DefaultStratumPort: 28151,
}

// ActiveParams is the Params for the network the running process was
// configured for. It defaults to mainnet and is set once at startup by
// the config package, mirroring chaincfg's package-level
// ActiveNetParams convention used throughout exccd's rpcserver/mining
// code so deep call paths (block coinbase detection, address encoding)
// do not need the active network threaded through every signature.
var ActiveParams = &mainnetParams

// SetActiveNetwork points ActiveParams at n's Params. It must be
// called at most once, during startup, before any chain validation
// runs.
func SetActiveNetwork(n Network) {
	ActiveParams = ParamsFor(n)
}

// VersionForHeight returns the block version mandated for a given
// height, implementing CHAIN.get_version_for_height (spec.md §3 Block:
// "version == CHAIN.version_for(index)").
func VersionForHeight(height int64) int64 {
	switch {
	case height >= V5Fork:
		return 5
	case height >= RandomXFork:
		return 4
	case height >= V3Fork:
		return 3
	case height >= V2Fork:
		return 2
	default:
		return 1
	}
}

// UsesRandomX reports whether proof-of-work at height is computed with
// RandomX (true) or legacy double-SHA256 (false).
func UsesRandomX(height int64) bool {
	return height >= RandomXFork
}

// UsesBinaryNonce reports whether the nonce is substituted into the
// header blob as raw bytes (v5+) or as a textual hex replacement of
// the `{nonce}` placeholder (pre-v5), per spec.md §3/§4.1.
func UsesBinaryNonce(height int64) bool {
	return height >= V5Fork
}

// baseReward is the initial block subsidy in whole coins before any
// halving, mirroring the original's fixed starting subsidy
// (SPEC_FULL.md "Supplemented features" #1).
const baseReward = 50.0

// halvingInterval is the height interval between successive reward
// halvings.
const halvingInterval = 210000

// BlockReward returns the block subsidy in whole coins for the block
// at height, implementing CHAIN.get_block_reward: a halving schedule
// on a fixed interval after an initial fixed subsidy.
func BlockReward(height int64) float64 {
	halvings := height / halvingInterval
	if halvings >= 64 {
		// Subsidy is implicitly zero once it has halved more times
		// than a float64 mantissa can represent a nonzero quotient
		// for.
		return 0
	}
	reward := baseReward
	for i := int64(0); i < halvings; i++ {
		reward /= 2
	}
	return reward
}

// TargetBlockTime returns the target inter-block time for network,
// implementing CHAIN.target_block_time. Testnet/regnet have no
// meaningful PoW competition, so they use the same nominal target as
// mainnet purely for display/job metadata purposes (spec.md §4.3
// "Testnet/regnet always return MAX_TARGET" governs actual difficulty,
// not this nominal value).
func TargetBlockTime(_ Network) time.Duration {
	return time.Duration(TargetBlockTimeSeconds) * time.Second
}

// RetargetPeriod returns RETARGET_PERIOD for the given block version,
// used by the legacy (pre-10-min-fork) retarget regime.
func RetargetPeriod(version int64) int64 {
	switch {
	case version >= 3:
		return RetargetPeriodV3
	case version == 2:
		return RetargetPeriodV2
	default:
		return RetargetPeriodV1
	}
}
