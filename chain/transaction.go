// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain implements the in-memory block/transaction model, the
// blockchain container, merkle-root construction, and the difficulty
// retargeter: spec.md §3 and §4.1-§4.3.
package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vaultchain/vaultd/amount"
	"github.com/vaultchain/vaultd/chainhash"
	"github.com/vaultchain/vaultd/crypto"
)

// Input references a prior transaction's signature identifier, the
// unit of spend (spec.md §3 Transaction: "each references a prior
// transaction's signature identifier").
type Input struct {
	ID string `json:"id"`
}

// Output pays Value to Address, quantized to eight decimal places.
type Output struct {
	Address string        `json:"to"`
	Value   amount.Amount `json:"-"`
}

// outputWire is the JSON wire representation of Output: value travels
// as a JSON number of whole coins (spec.md §6 Transaction JSON), so
// marshaling quantizes it on the way out and in.
type outputWire struct {
	Address string  `json:"to"`
	Value   float64 `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputWire{Address: o.Address, Value: o.Value.ToFloat()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Output) UnmarshalJSON(b []byte) error {
	var w outputWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	o.Address = w.Address
	o.Value = amount.NewFromFloat(w.Value)
	return nil
}

// Transaction is the in-memory representation of spec.md §3
// Transaction.
type Transaction struct {
	Version      int      `json:"version"`
	Time         int64    `json:"time"`
	Fee          amount.Amount
	PublicKey    string   `json:"public_key"`
	Inputs       []Input  `json:"inputs"`
	Outputs      []Output `json:"outputs"`
	Signature    string   `json:"id"`
	Hash         string   `json:"hash"`
	Relationship []byte   `json:"relationship,omitempty"`
	RequesterRID string   `json:"requester_rid,omitempty"`
	RequestedRID string   `json:"requested_rid,omitempty"`
	RID          string   `json:"rid,omitempty"`
	DHPublicKey  string   `json:"dh_public_key,omitempty"`

	// Coinbase is computed at load time (spec.md §3: "a `coinbase`
	// flag computed at load time"), never carried on the wire.
	Coinbase bool `json:"-"`
}

// txWire lets Fee/Time travel as JSON numbers without
// exposing the internal fixed-point representation on Transaction
// itself (mirrors Output's wire split).
type txWire struct {
	Version      int      `json:"version"`
	Time         int64    `json:"time"`
	Fee          float64  `json:"fee"`
	PublicKey    string   `json:"public_key"`
	Inputs       []Input  `json:"inputs"`
	Outputs      []Output `json:"outputs"`
	Signature    string   `json:"id"`
	Relationship string   `json:"relationship,omitempty"`
	RequesterRID string   `json:"requester_rid,omitempty"`
	RequestedRID string   `json:"requested_rid,omitempty"`
	RID          string   `json:"rid,omitempty"`
	DHPublicKey  string   `json:"dh_public_key,omitempty"`
}

// MarshalJSON implements json.Marshaler, producing spec.md §6's
// Transaction JSON wire format.
func (t Transaction) MarshalJSON() ([]byte, error) {
	w := txWire{
		Version:      t.Version,
		Time:         t.Time,
		Fee:          t.Fee.ToFloat(),
		PublicKey:    t.PublicKey,
		Inputs:       t.Inputs,
		Outputs:      t.Outputs,
		Signature:    t.Signature,
		RequesterRID: t.RequesterRID,
		RequestedRID: t.RequestedRID,
		RID:          t.RID,
		DHPublicKey:  t.DHPublicKey,
	}
	if len(t.Relationship) > 0 {
		w.Relationship = hex.EncodeToString(t.Relationship)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var w txWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.Version = w.Version
	t.Time = w.Time
	t.Fee = amount.NewFromFloat(w.Fee)
	t.PublicKey = w.PublicKey
	t.Inputs = w.Inputs
	t.Outputs = w.Outputs
	t.Signature = w.Signature
	t.RequesterRID = w.RequesterRID
	t.RequestedRID = w.RequestedRID
	t.RID = w.RID
	t.DHPublicKey = w.DHPublicKey
	if w.Relationship != "" {
		rel, err := hex.DecodeString(w.Relationship)
		if err != nil {
			return fmt.Errorf("chain: invalid relationship payload: %w", err)
		}
		t.Relationship = rel
	}
	t.Hash = chainhash.Hash256dReversed([]byte(t.canonicalHashMessage()))
	t.Coinbase = t.computeCoinbase()
	return nil
}

// canonicalHashMessage is the deterministic message a transaction's
// identity hash and signature are computed over: every field the wire
// format carries except the signature itself, concatenated in a fixed
// order, following the source's string-concatenation signing
// convention (Block.GenerateHeader uses the same technique for
// blocks).
func (t *Transaction) canonicalHashMessage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d%d%s", t.Version, t.Time, t.PublicKey)
	for _, in := range t.Inputs {
		sb.WriteString(in.ID)
	}
	for _, out := range t.Outputs {
		fmt.Fprintf(&sb, "%s%s", out.Address, out.Value.String())
	}
	sb.WriteString(t.Fee.String())
	sb.Write(t.Relationship)
	sb.WriteString(t.RequesterRID)
	sb.WriteString(t.RequestedRID)
	sb.WriteString(t.RID)
	sb.WriteString(t.DHPublicKey)
	return sb.String()
}

// SignatureMessage returns the canonical message the transaction
// signature is computed over.
func (t *Transaction) SignatureMessage() []byte {
	return []byte(t.canonicalHashMessage())
}

// computeCoinbase reports whether this transaction matches spec.md
// §3's coinbase shape (no real inputs; the distinguishing invariant of
// spec.md §4.1 "at least one input exists" for non-coinbase is
// enforced separately in Verify).
func (t *Transaction) computeCoinbase() bool {
	return len(t.Inputs) == 0
}

// InputSource resolves a referenced input id to the output it spends.
// The chain package depends only on this interface (per SPEC_FULL's
// `BlockStore` interface layer) so transaction verification does not
// import the blockchain container directly.
type InputSource interface {
	// ResolveInput returns the output paid to publicKey's prior
	// transaction identified by id, and whether it was found.
	ResolveInput(id string, publicKey string) (Output, bool)
	// IsSpent reports whether the input has already been consumed in
	// the current best chain (excluding the transaction under
	// validation).
	IsSpent(id string, publicKey string) bool
}

// Verify validates a non-coinbase transaction per spec.md §4.1
// Transaction.verify. Coinbase transactions are validated separately
// as part of Block.Verify, since their balance invariant spans the
// whole block (block reward + all fees), not just the transaction
// itself.
func (t *Transaction) Verify(src InputSource) error {
	if t.PublicKey == "" || t.Signature == "" {
		return ruleError(ErrTxInvalid, "transaction missing public_key or signature")
	}
	pub, err := crypto.ParsePublicKeyHex(t.PublicKey)
	if err != nil {
		return ruleError(ErrTxInvalid, "transaction has malformed public_key: %v", err)
	}
	sig, err := hex.DecodeString(t.Signature)
	if err != nil {
		return ruleError(ErrTxInvalidSignature, "transaction signature is not valid hex: %v", err)
	}
	if err := crypto.Verify(pub, t.SignatureMessage(), sig); err != nil {
		return ruleError(ErrTxInvalidSignature, "transaction signature does not verify: %v", err)
	}

	if t.Coinbase {
		return nil
	}

	if len(t.Inputs) == 0 {
		return ruleError(ErrTxInvalid, "non-coinbase transaction has no inputs")
	}

	seenInputs := make(map[string]bool, len(t.Inputs))
	var totalIn amount.Amount
	for _, in := range t.Inputs {
		if seenInputs[in.ID] {
			return ruleError(ErrTxInvalid, "duplicate input %q within transaction", in.ID)
		}
		seenInputs[in.ID] = true

		out, ok := src.ResolveInput(in.ID, t.PublicKey)
		if !ok {
			return ruleError(ErrTxMissingInput, "input %q not found in best chain", in.ID)
		}
		if src.IsSpent(in.ID, t.PublicKey) {
			return ruleError(ErrTxMissingInput, "input %q already spent", in.ID)
		}
		totalIn += out.Value
	}

	var totalOut amount.Amount
	for _, out := range t.Outputs {
		totalOut += out.Value
	}

	if totalIn < totalOut+t.Fee {
		return ruleError(ErrTxNotEnoughMoney, "inputs %s less than outputs+fee %s",
			totalIn, totalOut+t.Fee)
	}
	if totalIn != totalOut+t.Fee {
		return ruleError(ErrTxTotalValueMismatch, "inputs %s do not equal outputs+fee %s",
			totalIn, totalOut+t.Fee)
	}

	return nil
}
