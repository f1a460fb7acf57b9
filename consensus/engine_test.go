// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/vaultchain/vaultd/amount"
	"github.com/vaultchain/vaultd/chain"
	"github.com/vaultchain/vaultd/chainhash"
	"github.com/vaultchain/vaultd/chainparams"
	"github.com/vaultchain/vaultd/crypto"
)

func fakeKey(id, publicKey string) string { return id + "|" + publicKey }

// fakeStore is a minimal in-memory Store for exercising Engine without
// the leveldb-backed implementation.
type fakeStore struct {
	blocks  map[int64]*chain.Block
	tip     *chain.Block
	outputs map[string]chain.Output
	spent   map[string]bool
	removed [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks:  make(map[int64]*chain.Block),
		outputs: make(map[string]chain.Output),
		spent:   make(map[string]bool),
	}
}

func (s *fakeStore) BlockAt(height int64) (*chain.Block, bool) {
	b, ok := s.blocks[height]
	return b, ok
}

func (s *fakeStore) TipIndex() int64 {
	if s.tip == nil {
		return 0
	}
	return s.tip.Index
}

func (s *fakeStore) Tip() (*chain.Block, bool) {
	if s.tip == nil {
		return nil, false
	}
	return s.tip, true
}

func (s *fakeStore) InsertBlock(b *chain.Block) error {
	s.blocks[b.Index] = b
	if s.tip == nil || b.Index >= s.tip.Index {
		s.tip = b
	}
	return nil
}

func (s *fakeStore) IndexBlockOutputs(b *chain.Block) error {
	for _, tx := range b.Transactions {
		s.outputs[fakeKey(tx.Signature, tx.PublicKey)] = tx.Outputs[0]
		if !tx.Coinbase {
			for _, in := range tx.Inputs {
				s.spent[fakeKey(in.ID, tx.PublicKey)] = true
			}
		}
	}
	return nil
}

func (s *fakeStore) RemoveMempoolTransactions(ids []string) {
	s.removed = append(s.removed, ids)
}

func (s *fakeStore) ResolveInput(id string, publicKey string) (chain.Output, bool) {
	o, ok := s.outputs[fakeKey(id, publicKey)]
	return o, ok
}

func (s *fakeStore) IsSpent(id string, publicKey string) bool {
	return s.spent[fakeKey(id, publicKey)]
}

// fakeRecords is a minimal in-memory ConsensusRecords.
type fakeRecords struct {
	byPeer map[string]map[int64]*chain.Block
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byPeer: make(map[string]map[int64]*chain.Block)}
}

func (r *fakeRecords) Put(peerID string, block *chain.Block) error {
	if r.byPeer[peerID] == nil {
		r.byPeer[peerID] = make(map[int64]*chain.Block)
	}
	r.byPeer[peerID][block.Index] = block
	return nil
}

func (r *fakeRecords) MarkIgnored(peerID string, height int64, signature string) error {
	return nil
}

func (r *fakeRecords) Get(peerID string, height int64) (*chain.Block, bool) {
	b, ok := r.byPeer[peerID][height]
	return b, ok
}

// buildBlock constructs a valid, signed block extending prev (or a
// genesis-shaped block if prev is nil), marked special_min so its
// acceptance in integrate() does not depend on actually meeting target
// (spec.md §4.3's special-min free-floor branch for low heights).
func buildBlock(t *testing.T, priv *crypto.PrivateKey, index int64, prevHash string, blockTime int64) *chain.Block {
	t.Helper()
	pub := priv.PubKey()
	pubHex := hex.EncodeToString(pub.SerializeCompressed())
	address := crypto.AddressFromPublicKey(pub, crypto.AddressVersion(chainparams.ActiveParams.AddressVersion))

	coinbase := &chain.Transaction{
		Version:   1,
		Time:      blockTime,
		PublicKey: pubHex,
		Outputs: []chain.Output{{
			Address: address,
			Value:   amount.NewFromFloat(chainparams.BlockReward(index)),
		}},
	}
	coinbase.Signature = hex.EncodeToString(crypto.Sign(priv, coinbase.SignatureMessage()))
	coinbase.Hash = chainhash.Hash256dReversed(coinbase.SignatureMessage())
	coinbase.Coinbase = true

	b := &chain.Block{
		Version:       chainparams.VersionForHeight(index),
		Time:          blockTime,
		Index:         index,
		PrevHash:      prevHash,
		Nonce:         "0",
		Transactions:  []*chain.Transaction{coinbase},
		PublicKey:     pubHex,
		SpecialMin:    true,
		Target:        chainparams.MaxTarget,
		SpecialTarget: chainparams.MaxTarget,
	}
	b.MerkleRoot = chain.MerkleRoot([]string{coinbase.Hash})
	b.Header = b.GenerateHeader()
	hash, err := chain.PowHash(index, b.Header, b.Nonce, nil)
	if err != nil {
		t.Fatalf("PowHash: %v", err)
	}
	b.Hash = hash
	b.Signature = hex.EncodeToString(crypto.Sign(priv, []byte(b.Hash)))
	return b
}

func newTestEngine(store *fakeStore, records *fakeRecords) *Engine {
	return &Engine{
		Network:         chainparams.Regnet,
		Store:           store,
		Records:         records,
		Hasher:          chainhash.NullHasher(),
		MaxRetraceDepth: 10,
	}
}

func TestProcessBlockInsertsGenesisThenChild(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, newFakeRecords())

	genesis := chain.Genesis()
	outcome, err := engine.ProcessBlock(genesis, "peer1", genesis.Time)
	if err != nil {
		t.Fatalf("genesis ProcessBlock() error = %v", err)
	}
	if outcome != Inserted {
		t.Fatalf("genesis outcome = %v, want Inserted", outcome)
	}

	minerPriv, _, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	child := buildBlock(t, minerPriv, 1, genesis.Hash, genesis.Time+700)

	outcome, err = engine.ProcessBlock(child, "peer1", child.Time)
	if err != nil {
		t.Fatalf("child ProcessBlock() error = %v", err)
	}
	if outcome != Inserted {
		t.Fatalf("child outcome = %v, want Inserted", outcome)
	}

	tip, ok := store.Tip()
	if !ok || tip.Index != 1 {
		t.Fatalf("store tip = %+v, want index 1", tip)
	}
}

func TestProcessBlockRejectsForkWithNoCommonAncestor(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, newFakeRecords())

	genesis := chain.Genesis()
	if _, err := engine.ProcessBlock(genesis, "peer1", genesis.Time); err != nil {
		t.Fatalf("genesis ProcessBlock() error = %v", err)
	}

	minerPriv, _, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	orphan := buildBlock(t, minerPriv, 5, strings.Repeat("f", 64), genesis.Time+700)

	outcome, err := engine.ProcessBlock(orphan, "peer1", orphan.Time)
	if outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", outcome)
	}
	if err == nil {
		t.Fatal("expected an error for an orphan with no retraceable ancestor")
	}
}

// TestProcessBlockRejectsTimeTooSoon exercises spec.md §8's monotonic
// block-time rule directly against a synthetic tip above
// CheckTimeFrom, without needing to construct 100+ real ancestors: the
// rule short-circuits before any block-structure validation runs.
func TestProcessBlockRejectsTimeTooSoon(t *testing.T) {
	store := newFakeStore()
	store.tip = &chain.Block{Index: 150, Time: 5000, Hash: strings.Repeat("a", 64)}
	engine := newTestEngine(store, newFakeRecords())

	late := &chain.Block{Index: 151, Time: 4000, PrevHash: strings.Repeat("a", 64)}

	outcome, err := engine.ProcessBlock(late, "peer1", 4000)
	if outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", outcome)
	}
	var ruleErr chain.RuleError
	if re, ok := err.(chain.RuleError); !ok {
		t.Fatalf("error %v is not a chain.RuleError", err)
	} else {
		ruleErr = re
	}
	if ruleErr.ErrorCode != chain.ErrBlockTimeTooSoon {
		t.Errorf("ErrorCode = %v, want %v", ruleErr.ErrorCode, chain.ErrBlockTimeTooSoon)
	}
}

func TestProcessBlockRejectsBlockTooFarInFuture(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, newFakeRecords())

	// Index above CheckTimeFrom with block.Time far past now + TimeTolerance.
	future := &chain.Block{Index: 200, Time: 2 * chainparams.TimeTolerance}
	outcome, err := engine.ProcessBlock(future, "peer1", 0)
	if outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", outcome)
	}
	if err == nil {
		t.Fatal("expected a too-far-in-the-future rejection error")
	}
}
