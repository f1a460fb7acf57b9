// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements the unconfirmed transaction pool of
// spec.md §4.6: acceptance (signature, duplicate, double-spend,
// internal-input-uniqueness checks), periodic cleaning, and periodic
// rebroadcast of stuck (including zero-fee) transactions.
package mempool

import (
	"sync"
	"time"

	"github.com/decred/dcrd/container/apbf"
	"github.com/vaultchain/vaultd/chain"
)

// ChainView is the read-only view of the committed chain the mempool
// checks inputs against, the same narrow contract chain.Transaction.Verify
// uses via chain.InputSource.
type ChainView interface {
	chain.InputSource
}

// entry is one pooled transaction plus its arrival bookkeeping.
type entry struct {
	tx         *chain.Transaction
	receivedAt int64
	seenBy     *apbf.Filter
}

// Pool is the mempool service. It is safe for concurrent use; the
// scheduler's queue-processor and mempool-cleaner loops (spec.md §4.8)
// both operate on the same Pool from the single event loop, but the
// lock lets RPC-serving goroutines read it without coordinating with
// the loop.
type Pool struct {
	mu         sync.Mutex
	byID       map[string]*entry
	chainView  ChainView
	cleanAfter time.Duration
	now        func() int64
}

// New constructs an empty Pool. now lets tests substitute a fixed
// clock; chainView resolves inputs against the committed chain.
func New(chainView ChainView, cleanAfter time.Duration, now func() int64) *Pool {
	return &Pool{
		byID:       make(map[string]*entry),
		chainView:  chainView,
		cleanAfter: cleanAfter,
		now:        now,
	}
}

// IsSpent reports whether id is already consumed by another pooled
// transaction under publicKey, satisfying chain.InputSource so a
// transaction's own verification can see mempool-pending spends as
// well as committed ones (spec.md §4.6: "no referenced input is marked
// spent either in the best chain or by another mempool entry").
func (p *Pool) IsSpent(id string, publicKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.byID {
		if e.tx.Signature == id {
			continue
		}
		for _, in := range e.tx.Inputs {
			if in.ID == id && e.tx.PublicKey == publicKey {
				return true
			}
		}
	}
	return p.chainView.IsSpent(id, publicKey)
}

// ResolveInput delegates to the committed chain view; the mempool
// itself holds no outputs, only pending spends of existing ones.
func (p *Pool) ResolveInput(id string, publicKey string) (chain.Output, bool) {
	return p.chainView.ResolveInput(id, publicKey)
}

// Accept validates and inserts tx, implementing spec.md §4.6's accept
// predicate: signature verifies, not a duplicate, no internal
// duplicate inputs, and no referenced input already spent in the best
// chain or by another pooled transaction under the same key. peerID is
// the originating peer, recorded in the transaction's arrival filter so
// rebroadcast can skip peers known to have already seen it.
func (p *Pool) Accept(tx *chain.Transaction, peerID string) error {
	p.mu.Lock()
	_, pooled := p.byID[tx.Signature]
	p.mu.Unlock()
	if pooled {
		return nil
	}

	if err := tx.Verify(p); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[tx.Signature]; exists {
		return nil
	}

	seenBy := apbf.NewFilter(1024, 3, 0.01)
	if peerID != "" {
		seenBy.Add([]byte(peerID))
	}
	p.byID[tx.Signature] = &entry{
		tx:         tx,
		receivedAt: p.now(),
		seenBy:     seenBy,
	}
	return nil
}

// MarkSeenBy records that peerID has seen the pooled transaction id,
// so a later rebroadcast pass can skip re-sending to it.
func (p *Pool) MarkSeenBy(id string, peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		e.seenBy.Add([]byte(peerID))
	}
}

// Remove drops ids from the pool, called once their transactions are
// committed into a block (consensus.Engine's Store.RemoveMempoolTransactions).
func (p *Pool) Remove(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.byID, id)
	}
}

// Transactions returns a snapshot of all pooled transactions, in no
// particular order; callers needing block-assembly ordering (fee-desc,
// time-asc) sort the result themselves, per spec.md §4.5's candidate
// block assembly rule.
func (p *Pool) Transactions() []*chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*chain.Transaction, 0, len(p.byID))
	for _, e := range p.byID {
		out = append(out, e.tx)
	}
	return out
}

// Clean drops any entry whose inputs have been spent, whose signature
// is now invalid, or which has aged past cleanAfter, per spec.md §4.6
// "periodically clean". It returns the removed transaction ids.
func (p *Pool) Clean() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var removed []string
	for id, e := range p.byID {
		if now-e.receivedAt > int64(p.cleanAfter/time.Second) {
			removed = append(removed, id)
			delete(p.byID, id)
			continue
		}
		if err := e.tx.Verify(p.chainView); err != nil {
			removed = append(removed, id)
			delete(p.byID, id)
		}
	}
	return removed
}

// Rebroadcast returns the transactions that should be resent to peer,
// i.e. every pooled transaction peer has not already been recorded as
// having seen, per spec.md §4.6 "periodic rebroadcast (including
// zero-fee) to propagate stuck transactions." The apbf filter is
// approximate: an occasional unnecessary resend is harmless, a missed
// one would stall propagation, so false positives (thinking a peer has
// seen it when it hasn't) are bounded by construction but never
// assumed to be zero.
func (p *Pool) Rebroadcast(peerID string) []*chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*chain.Transaction
	for _, e := range p.byID {
		if !e.seenBy.Contains([]byte(peerID)) {
			out = append(out, e.tx)
		}
	}
	return out
}

// Len reports how many transactions are currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
