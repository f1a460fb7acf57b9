// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/vaultchain/vaultd/amount"
	"github.com/vaultchain/vaultd/chain"
	"github.com/vaultchain/vaultd/crypto"
)

// fakeChainView is a minimal chain.InputSource backing a single
// committed, unspent output.
type fakeChainView struct {
	outputs map[string]chain.Output
	spent   map[string]bool
}

func newFakeChainView() *fakeChainView {
	return &fakeChainView{
		outputs: make(map[string]chain.Output),
		spent:   make(map[string]bool),
	}
}

func (f *fakeChainView) key(id, publicKey string) string { return id + "|" + publicKey }

func (f *fakeChainView) ResolveInput(id string, publicKey string) (chain.Output, bool) {
	out, ok := f.outputs[f.key(id, publicKey)]
	return out, ok
}

func (f *fakeChainView) IsSpent(id string, publicKey string) bool {
	return f.spent[f.key(id, publicKey)]
}

func (f *fakeChainView) addOutput(id, publicKey string, out chain.Output) {
	f.outputs[f.key(id, publicKey)] = out
}

// signedTx builds and signs a transaction spending inputIDs under priv,
// paying exactly totalIn-fee back out so Verify's balance check passes.
func signedTx(t *testing.T, priv *crypto.PrivateKey, inputIDs []string, totalIn amount.Amount, fee amount.Amount, payTo string) *chain.Transaction {
	t.Helper()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	tx := &chain.Transaction{
		Version:   1,
		Time:      1700000000,
		PublicKey: pubHex,
		Fee:       fee,
	}
	for _, id := range inputIDs {
		tx.Inputs = append(tx.Inputs, chain.Input{ID: id})
	}
	tx.Outputs = []chain.Output{{Address: payTo, Value: totalIn - fee}}

	sig := crypto.Sign(priv, tx.SignatureMessage())
	tx.Signature = hex.EncodeToString(sig)
	return tx
}

func newTestPriv(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	return priv
}

func TestAcceptValidTransaction(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(10)})

	pool := New(view, time.Hour, func() int64 { return 1700000100 })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(10), amount.NewFromFloat(0.1), "addr2")

	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}
	if got, want := pool.Len(), 1; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

// TestAcceptRejectsSecondSpendOfSameInput exercises spec.md §8's
// double-spend scenario: two distinct transactions referencing the
// same input under the same public key. The first is accepted; the
// second must be rejected because the pool itself now reports the
// input spent.
func TestAcceptRejectsSecondSpendOfSameInput(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(10)})

	pool := New(view, time.Hour, func() int64 { return 1700000100 })

	first := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(10), amount.NewFromFloat(0.1), "addr2")
	if err := pool.Accept(first, "peer1"); err != nil {
		t.Fatalf("first Accept() = %v, want nil", err)
	}

	second := &chain.Transaction{
		Version:   1,
		Time:      1700000050,
		PublicKey: pubHex,
		Fee:       amount.NewFromFloat(0.2),
		Inputs:    []chain.Input{{ID: "coinbase-0"}},
		Outputs:   []chain.Output{{Address: "addr3", Value: amount.NewFromFloat(9.8)}},
	}
	sig := crypto.Sign(priv, second.SignatureMessage())
	second.Signature = hex.EncodeToString(sig)

	err := pool.Accept(second, "peer2")
	if err == nil {
		t.Fatal("second Accept() = nil, want double-spend rejection")
	}
	var ruleErr chain.RuleError
	if !asRuleError(err, &ruleErr) {
		t.Fatalf("second Accept() error %v is not a chain.RuleError", err)
	}
	if ruleErr.ErrorCode != chain.ErrTxMissingInput {
		t.Errorf("ErrorCode = %v, want %v", ruleErr.ErrorCode, chain.ErrTxMissingInput)
	}
	if got, want := pool.Len(), 1; got != want {
		t.Errorf("Len() = %d, want %d (second tx must not be pooled)", got, want)
	}
}

func TestAcceptSameTransactionTwiceIsIdempotent(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(5)})

	pool := New(view, time.Hour, func() int64 { return 1700000100 })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(5), amount.NewFromFloat(0), "addr2")

	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("first Accept() = %v, want nil", err)
	}
	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("duplicate Accept() = %v, want nil (silently ignored)", err)
	}
	if got, want := pool.Len(), 1; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestCleanRemovesAgedTransaction(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(1)})

	now := int64(1700000000)
	pool := New(view, time.Hour, func() int64 { return now })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(1), amount.NewFromFloat(0), "addr2")
	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}

	now += int64(2 * time.Hour / time.Second)
	removed := pool.Clean()
	if len(removed) != 1 || removed[0] != tx.Signature {
		t.Fatalf("Clean() = %v, want [%s]", removed, tx.Signature)
	}
	if got, want := pool.Len(), 0; got != want {
		t.Errorf("Len() after Clean() = %d, want %d", got, want)
	}
}

func TestCleanRemovesTransactionSpentElsewhere(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(1)})

	pool := New(view, time.Hour, func() int64 { return 1700000000 })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(1), amount.NewFromFloat(0), "addr2")
	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}

	// The input is now committed (spent) in the underlying chain view,
	// e.g. because a block containing a competing spend landed.
	view.spent[view.key("coinbase-0", pubHex)] = true

	removed := pool.Clean()
	if len(removed) != 1 || removed[0] != tx.Signature {
		t.Fatalf("Clean() = %v, want [%s]", removed, tx.Signature)
	}
}

func TestRebroadcastSkipsPeersThatHaveSeenIt(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(1)})

	pool := New(view, time.Hour, func() int64 { return 1700000000 })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(1), amount.NewFromFloat(0), "addr2")
	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}

	if got := pool.Rebroadcast("peer1"); len(got) != 0 {
		t.Errorf("Rebroadcast(peer1) = %v, want empty (already seen it on arrival)", got)
	}
	got := pool.Rebroadcast("peer2")
	if len(got) != 1 || got[0].Signature != tx.Signature {
		t.Errorf("Rebroadcast(peer2) = %v, want [%s]", got, tx.Signature)
	}

	pool.MarkSeenBy(tx.Signature, "peer2")
	if got := pool.Rebroadcast("peer2"); len(got) != 0 {
		t.Errorf("Rebroadcast(peer2) after MarkSeenBy = %v, want empty", got)
	}
}

func TestRemoveDropsPooledTransaction(t *testing.T) {
	priv := newTestPriv(t)
	view := newFakeChainView()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	view.addOutput("coinbase-0", pubHex, chain.Output{Address: "addr1", Value: amount.NewFromFloat(1)})

	pool := New(view, time.Hour, func() int64 { return 1700000000 })
	tx := signedTx(t, priv, []string{"coinbase-0"}, amount.NewFromFloat(1), amount.NewFromFloat(0), "addr2")
	if err := pool.Accept(tx, "peer1"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}

	pool.Remove([]string{tx.Signature})
	if got, want := pool.Len(), 0; got != want {
		t.Errorf("Len() after Remove() = %d, want %d", got, want)
	}
}

// asRuleError unwraps err into a chain.RuleError, mirroring
// errors.As without pulling in the errors package just for one check.
func asRuleError(err error, target *chain.RuleError) bool {
	if re, ok := err.(chain.RuleError); ok {
		*target = re
		return true
	}
	return false
}
