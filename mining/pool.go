// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mining implements candidate block assembly, job generation
// for external miners, and share/block acceptance (spec.md §4.5),
// grounded on core/miningpool.py's MiningPool/Job/on_miner_nonce.
package mining

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"strings"

	"github.com/decred/dcrd/lru"
	"github.com/google/uuid"
	"github.com/vaultchain/vaultd/amount"
	"github.com/vaultchain/vaultd/chain"
	"github.com/vaultchain/vaultd/chainhash"
	"github.com/vaultchain/vaultd/chainparams"
	"github.com/vaultchain/vaultd/crypto"
)

// mainnetPoolShareTarget and regnetPoolShareTarget are the pool's own,
// looser-than-network share-acceptance thresholds: a share is credited
// to a miner once its hash clears this target, well before it need
// clear the much tighter network target, so payout accounting tracks
// contributed work even between found blocks (source: on_miner_nonce's
// hardcoded per-network `target`).
const (
	mainnetPoolShareTargetHex = "0000FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"
	regnetPoolShareTargetHex  = "000FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"
)

var (
	mainnetPoolShareTarget = mustBigFromHex(mainnetPoolShareTargetHex)
	regnetPoolShareTarget  = mustBigFromHex(regnetPoolShareTargetHex)
)

func mustBigFromHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("mining: invalid hardcoded pool share target " + s)
	}
	return v
}

func poolShareTarget(network chainparams.Network) *big.Int {
	if network == chainparams.Regnet {
		return regnetPoolShareTarget
	}
	return mainnetPoolShareTarget
}

// randomXSeedHashHex is the fixed RandomX seed published to miners
// alongside every job, matching chainhash.RandomXSeedHash (source:
// generate_job's hardcoded seed_hash, "sha256(yadacoin65000)").
const randomXSeedHashHex = "4181a493b397a733b083639334bc32b407915b9a82b7917ac361816f0a1f5d40"

// Job is one unit of mining work handed to an external miner, per
// spec.md §4.5 (source: miningpool.py's Job).
type Job struct {
	ID         string
	Difficulty *big.Int
	Target     string
	Blob       string
	SeedHash   string
	Height     int64
	ExtraNonce string
	Algo       string
}

// Store is the read-only chain view the pool assembles candidate
// blocks against.
type Store interface {
	chain.BlockSource
	chain.InputSource
	Tip() (*chain.Block, bool)
}

// MempoolSource supplies the unconfirmed transactions to include in
// the next candidate block, in any order; Pool sorts them
// fee-desc/time-asc itself per spec.md §4.5 (source:
// get_pending_transactions' `.sort([('fee', -1), ('time', 1)])`).
type MempoolSource interface {
	Transactions() []*chain.Transaction
}

// ShareRecorder persists accepted shares, keyed by block hash, for
// payout accounting (spec.md §6 `shares` collection).
type ShareRecorder interface {
	RecordShare(address, hash, nonce string, height int64) error
}

// Pool assembles candidate blocks, generates miner jobs, and accepts
// miner nonces as shares or full blocks.
type Pool struct {
	Network    chainparams.Network
	Store      Store
	Mempool    MempoolSource
	Shares     ShareRecorder
	Hasher     chainhash.Hasher
	PrivateKey *crypto.PrivateKey
	PublicKey  string

	candidate     *chain.Block
	lastBlockTime int64
	recentShares  *lru.Cache[string]
}

// NewPool constructs a Pool. recentShareCap bounds the dedup cache of
// recently-seen share hashes (source: MiningPool keeps no explicit
// dedup cache of its own for shares, relying on the `shares` collection's
// unique index on hash; this port makes that dedup an explicit,
// bounded in-memory cache instead of a database round trip per nonce).
func NewPool(network chainparams.Network, store Store, mempool MempoolSource, shares ShareRecorder, hasher chainhash.Hasher, priv *crypto.PrivateKey, recentShareCap uint) *Pool {
	pub := priv.PubKey()
	return &Pool{
		Network:      network,
		Store:        store,
		Mempool:      mempool,
		Shares:       shares,
		Hasher:       hasher,
		PrivateKey:   priv,
		PublicKey:    hex.EncodeToString(pub.SerializeCompressed()),
		recentShares: lru.NewCache[string](recentShareCap),
	}
}

// Refresh rebuilds the candidate block from the current mempool and
// chain tip, per spec.md §4.5 (source: MiningPool.refresh/create_block).
func (p *Pool) Refresh() error {
	tip, ok := p.Store.Tip()
	if !ok {
		return fmt.Errorf("mining: cannot refresh candidate block without a chain tip")
	}
	if p.candidate != nil {
		p.lastBlockTime = p.candidate.Time
	}

	txs := p.orderedTransactions()
	height := tip.Index + 1

	var feeSum amount.Amount
	for _, tx := range txs {
		feeSum += tx.Fee
	}

	reward := amount.NewFromFloat(chainparams.BlockReward(height))
	coinbaseAddr := crypto.AddressFromPublicKey(p.PrivateKey.PubKey(), crypto.AddressVersion(chainparams.ActiveParams.AddressVersion))

	candidate := &chain.Block{
		Version:   chainparams.VersionForHeight(height),
		Time:      tip.Time,
		Index:     height,
		PrevHash:  tip.Hash,
		PublicKey: p.PublicKey,
		Transactions: append([]*chain.Transaction{{
			Version:   1,
			Time:      tip.Time,
			PublicKey: p.PublicKey,
			Outputs: []chain.Output{{
				Address: coinbaseAddr,
				Value:   reward + feeSum,
			}},
			Coinbase: true,
		}}, txs...),
	}

	candidate.Target = chain.NextTarget(p.Network, p.Store, height, tip, tip.Time)
	candidate.SpecialTarget = candidate.Target
	candidate.MerkleRoot = chain.MerkleRoot(hashesOf(candidate.Transactions))
	candidate.Header = candidate.GenerateHeader()

	p.candidate = candidate
	return nil
}

func hashesOf(txs []*chain.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// orderedTransactions returns the mempool's transactions sorted
// fee-desc, time-asc, mirroring get_pending_transactions' sort.
func (p *Pool) orderedTransactions() []*chain.Transaction {
	txs := p.Mempool.Transactions()
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Fee != txs[j].Fee {
			return txs[i].Fee > txs[j].Fee
		}
		return txs[i].Time < txs[j].Time
	})
	return txs
}

// GenerateJob builds a new Job from the current candidate block for
// agent, per spec.md §4.5 (source: MiningPool.generate_job). Call
// Refresh first if the candidate block is stale.
func (p *Pool) GenerateJob(agent string) (Job, error) {
	if p.candidate == nil {
		return Job{}, fmt.Errorf("mining: no candidate block; call Refresh first")
	}

	maxTargetBig := chainparams.Uint256ToBig(chainparams.MaxTarget)
	targetBig := chainparams.Uint256ToBig(p.candidate.Target)
	difficulty := new(big.Int)
	if targetBig.Sign() > 0 {
		difficulty.Div(maxTargetBig, targetBig)
	}

	extraNonce := fmt.Sprintf("%x", rand.Int63n(1_000_000_000_000_000-1_000_000)+1_000_000)
	header := strings.Replace(p.candidate.Header, "{nonce}", "{00}"+extraNonce, 1)

	agentTarget := agentPoolTarget(p.Network, agent)

	return Job{
		ID:         uuid.New().String(),
		Difficulty: difficulty,
		Target:     agentTarget,
		Blob:       hex.EncodeToString([]byte(header)),
		SeedHash:   randomXSeedHashHex,
		Height:     p.candidate.Index,
		ExtraNonce: extraNonce,
		Algo:       "rx/vault",
	}, nil
}

// agentPoolTarget returns the share target string a miner is told to
// mine against, per generate_job's agent-sniffed target selection: a
// 16-hex-character target for regnet and for the specific mining
// agents the source special-cases, and a 48-hex-character target for
// every other agent.
func agentPoolTarget(network chainparams.Network, agent string) string {
	switch {
	case network == chainparams.Regnet:
		return "000FFFFFFFFFFFFF"
	case strings.Contains(agent, "XMRigCC/3"), strings.Contains(agent, "XMRig/3"):
		return "0000FFFFFFFFFFFF"
	default:
		return "0000FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"
	}
}

// AcceptanceResult is the outcome of a submitted nonce, per spec.md
// §4.5's three-way share/block/reject result (source: on_miner_nonce's
// return shapes).
type AcceptanceResult struct {
	ShareAccepted bool
	BlockFound    bool
	Block         *chain.Block
}

// OnMinerNonce evaluates a nonce submitted against job, crediting a
// pool share if it clears the pool's share target and/or producing a
// full block if it clears the network target (including the
// special-min path), per spec.md §4.5 (source: on_miner_nonce).
func (p *Pool) OnMinerNonce(nonce string, job Job, minerAddress string) (AcceptanceResult, error) {
	if p.candidate == nil || p.candidate.Index != job.Height {
		return AcceptanceResult{}, fmt.Errorf("mining: job height %d does not match current candidate", job.Height)
	}

	fullNonce := nonce + hex.EncodeToString([]byte(job.ExtraNonce))
	blobBytes, err := hex.DecodeString(job.Blob)
	if err != nil {
		return AcceptanceResult{}, fmt.Errorf("mining: invalid job blob: %w", err)
	}
	header := strings.Replace(string(blobBytes), "{00}"+job.ExtraNonce, "{nonce}", 1)

	hash, err := chain.PowHash(job.Height, header, fullNonce, p.Hasher)
	if err != nil {
		return AcceptanceResult{}, err
	}

	candidate := *p.candidate
	candidate.Hash = hash
	candidate.Nonce = fullNonce

	compareHash := hash
	if chainparams.UsesBinaryNonce(candidate.Index) {
		lh, err := chain.LittleHash(hash)
		if err != nil {
			return AcceptanceResult{}, err
		}
		compareHash = lh
	}
	hashInt, ok := new(big.Int).SetString(compareHash, 16)
	if !ok {
		return AcceptanceResult{}, fmt.Errorf("mining: computed hash %q is not valid hex", compareHash)
	}

	if candidate.SpecialMin {
		deltaT := candidate.Time - p.lastBlockTime
		candidate.SpecialTarget = chain.SpecialTarget(candidate.Index, candidate.Target, deltaT, p.Network)
	}

	result := AcceptanceResult{}

	if !p.recentShares.Contains(hash) && hashInt.Cmp(poolShareTarget(p.Network)) < 0 {
		p.recentShares.Add(hash)
		if p.Shares != nil {
			if err := p.Shares.RecordShare(minerAddress, hash, fullNonce, candidate.Index); err != nil {
				return AcceptanceResult{}, err
			}
		}
		result.ShareAccepted = true
	}

	underNetworkTarget, err := candidate.HashUnderTarget()
	if err != nil {
		return AcceptanceResult{}, err
	}
	if !underNetworkTarget && p.Network != chainparams.Regnet {
		return result, nil
	}

	candidate.Signature = hex.EncodeToString(crypto.Sign(p.PrivateKey, []byte(candidate.Hash)))
	if err := candidate.Verify(p.Hasher); err != nil {
		return result, nil
	}

	result.BlockFound = true
	result.Block = &candidate
	return result, nil
}
