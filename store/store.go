// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements the persistent document store of spec.md
// §6 — the `blocks`, `consensus`, `miner_transactions`, `shares`,
// `peers`, `node_status`, and `*_cache` collections — on top of an
// embedded key-value engine, the same "run your own embedded chain
// database rather than an external DB server" shape the teacher's
// `database` package takes for its block index, adapted here to an
// opaque-document contract instead of a block-index-specific one.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/vaultchain/vaultd/chain"
	"github.com/vaultchain/vaultd/mining"
)

// Collection key prefixes, one byte each so iteration ranges stay
// cheap single-byte prefixes, per spec.md §6's named collections.
const (
	prefixBlock              byte = 0x01
	prefixConsensusRecord    byte = 0x02
	prefixMempoolTransaction byte = 0x03
	prefixShare              byte = 0x04
	prefixPeer               byte = 0x05
	prefixNodeStatus         byte = 0x06
	prefixCache              byte = 0x07
	prefixMeta               byte = 0x08
)

var metaTipKey = []byte{prefixMeta, 0x01}

// Store is the embedded-KV-backed document store.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a Store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeHeight(height int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	return buf
}

func blockKey(height int64) []byte {
	return append([]byte{prefixBlock}, encodeHeight(height)...)
}

// PutBlock commits b at its own height, implementing
// consensus.Store's InsertBlock: per spec.md §4.4 "Pre-insert,
// delete any committed block at index ≥ b.index", any existing blocks
// at or above b.Index are dropped first so a retrace-driven
// reorganization leaves no orphaned tail entries.
func (s *Store) PutBlock(b *chain.Block) error {
	if err := s.DeleteBlocksFrom(b.Index); err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: marshal block %d: %w", b.Index, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Index), data)
	batch.Put(metaTipKey, encodeHeight(b.Index))
	return s.db.Write(batch, nil)
}

// InsertBlock implements consensus.Store.
func (s *Store) InsertBlock(b *chain.Block) error {
	return s.PutBlock(b)
}

// DeleteBlocksFrom removes every committed block at index ≥ height.
func (s *Store) DeleteBlocksFrom(height int64) error {
	tip, ok := s.tipHeight()
	if !ok {
		return nil
	}
	batch := new(leveldb.Batch)
	for h := height; h <= tip; h++ {
		batch.Delete(blockKey(h))
	}
	if height == 0 {
		batch.Delete(metaTipKey)
	} else if height <= tip {
		batch.Put(metaTipKey, encodeHeight(height-1))
	}
	return s.db.Write(batch, nil)
}

func (s *Store) tipHeight() (int64, bool) {
	v, err := s.db.Get(metaTipKey, nil)
	if err != nil {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(v)), true
}

// BlockAt implements chain.BlockSource.
func (s *Store) BlockAt(height int64) (*chain.Block, bool) {
	data, err := s.db.Get(blockKey(height), nil)
	if err != nil {
		return nil, false
	}
	var b chain.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false
	}
	return &b, true
}

// TipIndex implements chain.BlockSource.
func (s *Store) TipIndex() int64 {
	h, _ := s.tipHeight()
	return h
}

// Tip implements consensus.Store/mining.Store.
func (s *Store) Tip() (*chain.Block, bool) {
	h, ok := s.tipHeight()
	if !ok {
		return nil, false
	}
	return s.BlockAt(h)
}

// outputLocation is the persisted shape of one claimable output,
// indexed by the spend id so ResolveInput/IsSpent can answer in O(1)
// instead of scanning the whole chain, mirroring why a real document
// store would keep a secondary index rather than querying `blocks`
// directly for every input resolution.
type outputLocation struct {
	Output chain.Output
	Spent  bool
}

func outputKey(id, publicKey string) []byte {
	return append([]byte{prefixCache, 'o'}, []byte(id+"\x00"+publicKey)...)
}

// IndexBlockOutputs records b's outputs as claimable and marks every
// input it spends as consumed, maintaining the secondary index
// ResolveInput/IsSpent read from. Called once per block as it commits.
func (s *Store) IndexBlockOutputs(b *chain.Block) error {
	batch := new(leveldb.Batch)
	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			key := outputKey(in.ID, tx.PublicKey)
			if data, err := s.db.Get(key, nil); err == nil {
				var loc outputLocation
				if json.Unmarshal(data, &loc) == nil {
					loc.Spent = true
					if encoded, err := json.Marshal(loc); err == nil {
						batch.Put(key, encoded)
					}
				}
			}
		}
		for _, out := range tx.Outputs {
			loc := outputLocation{Output: out}
			data, err := json.Marshal(loc)
			if err != nil {
				return fmt.Errorf("store: marshal output index: %w", err)
			}
			batch.Put(outputKey(tx.Signature, tx.PublicKey), data)
		}
	}
	return s.db.Write(batch, nil)
}

// ResolveInput implements chain.InputSource.
func (s *Store) ResolveInput(id string, publicKey string) (chain.Output, bool) {
	data, err := s.db.Get(outputKey(id, publicKey), nil)
	if err != nil {
		return chain.Output{}, false
	}
	var loc outputLocation
	if json.Unmarshal(data, &loc) != nil {
		return chain.Output{}, false
	}
	return loc.Output, true
}

// IsSpent implements chain.InputSource.
func (s *Store) IsSpent(id string, publicKey string) bool {
	data, err := s.db.Get(outputKey(id, publicKey), nil)
	if err != nil {
		return false
	}
	var loc outputLocation
	if json.Unmarshal(data, &loc) != nil {
		return false
	}
	return loc.Spent
}

// consensusRecordKey orders records by (peer, index) so a retrace scan
// over one peer's candidates at ascending heights is a single
// prefix-bounded iteration, per spec.md §6 "consensus (indexed by
// (peer, id), block.hash, block.prevHash, index)".
func consensusRecordKey(peerID string, height int64) []byte {
	key := append([]byte{prefixConsensusRecord}, []byte(peerID+"\x00")...)
	return append(key, encodeHeight(height)...)
}

type consensusRecord struct {
	Block   *chain.Block
	Ignored bool
}

// PutConsensusRecord implements consensus.ConsensusRecords.Put.
func (s *Store) PutConsensusRecord(peerID string, block *chain.Block) error {
	data, err := json.Marshal(consensusRecord{Block: block})
	if err != nil {
		return fmt.Errorf("store: marshal consensus record: %w", err)
	}
	return s.db.Put(consensusRecordKey(peerID, block.Index), data, nil)
}

// MarkConsensusIgnored implements consensus.ConsensusRecords.MarkIgnored.
func (s *Store) MarkConsensusIgnored(peerID string, height int64, signature string) error {
	key := consensusRecordKey(peerID, height)
	data, err := s.db.Get(key, nil)
	if err != nil {
		return nil
	}
	var rec consensusRecord
	if json.Unmarshal(data, &rec) != nil {
		return nil
	}
	if rec.Block == nil || rec.Block.Signature != signature {
		return nil
	}
	rec.Ignored = true
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded, nil)
}

// GetConsensusRecord implements consensus.ConsensusRecords.Get.
func (s *Store) GetConsensusRecord(peerID string, height int64) (*chain.Block, bool) {
	data, err := s.db.Get(consensusRecordKey(peerID, height), nil)
	if err != nil {
		return nil, false
	}
	var rec consensusRecord
	if json.Unmarshal(data, &rec) != nil || rec.Ignored || rec.Block == nil {
		return nil, false
	}
	return rec.Block, true
}

// ConsensusRecords adapts Store's named consensus-record methods to
// consensus.ConsensusRecords' narrower Put/MarkIgnored/Get contract,
// so cmd/vaultd can wire one *Store into consensus.Engine without the
// storage layer exposing that interface's exact method names on its
// own broader API.
type ConsensusRecords struct{ *Store }

func (c ConsensusRecords) Put(peerID string, block *chain.Block) error {
	return c.PutConsensusRecord(peerID, block)
}

func (c ConsensusRecords) MarkIgnored(peerID string, height int64, signature string) error {
	return c.MarkConsensusIgnored(peerID, height, signature)
}

func (c ConsensusRecords) Get(peerID string, height int64) (*chain.Block, bool) {
	return c.GetConsensusRecord(peerID, height)
}

func mempoolKey(id string) []byte {
	return append([]byte{prefixMempoolTransaction}, []byte(id)...)
}

// PutMempoolTransaction persists a pooled transaction under the
// `miner_transactions` collection.
func (s *Store) PutMempoolTransaction(tx *chain.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("store: marshal mempool transaction: %w", err)
	}
	return s.db.Put(mempoolKey(tx.Signature), data, nil)
}

// RemoveMempoolTransactions implements consensus.Store.
func (s *Store) RemoveMempoolTransactions(ids []string) {
	batch := new(leveldb.Batch)
	for _, id := range ids {
		batch.Delete(mempoolKey(id))
	}
	_ = s.db.Write(batch, nil)
}

// MempoolTransactions implements mempool's persistence-replay path
// (loading the pool back from disk at startup).
func (s *Store) MempoolTransactions() ([]*chain.Transaction, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{prefixMempoolTransaction}), nil)
	defer iter.Release()

	var out []*chain.Transaction
	for iter.Next() {
		var tx chain.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			continue
		}
		out = append(out, &tx)
	}
	return out, iter.Error()
}

func shareKey(hash string) []byte {
	return append([]byte{prefixShare}, []byte(hash)...)
}

type shareRecord struct {
	Address string
	Hash    string
	Nonce   string
	Height  int64
	Time    int64
	Paid    bool
}

// RecordShare implements mining.ShareRecorder, persisting into the
// `shares` collection (indexed by hash per spec.md §6).
func (s *Store) RecordShare(address, hash, nonce string, height int64) error {
	data, err := json.Marshal(shareRecord{Address: address, Hash: hash, Nonce: nonce, Height: height})
	if err != nil {
		return fmt.Errorf("store: marshal share: %w", err)
	}
	return s.db.Put(shareKey(hash), data, nil)
}

// UnpaidShares implements mining.PayoutLedger, scanning the `shares`
// collection for every record not yet marked paid.
func (s *Store) UnpaidShares() ([]mining.ShareRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{prefixShare}), nil)
	defer iter.Release()

	var out []mining.ShareRecord
	for iter.Next() {
		var rec shareRecord
		if json.Unmarshal(iter.Value(), &rec) != nil || rec.Paid {
			continue
		}
		out = append(out, mining.ShareRecord{Address: rec.Address, Hash: rec.Hash, Height: rec.Height})
	}
	return out, iter.Error()
}

// MarkSharesPaid implements mining.PayoutLedger, flagging each listed
// share hash as paid so the next payout cycle skips it.
func (s *Store) MarkSharesPaid(hashes []string) error {
	batch := new(leveldb.Batch)
	for _, hash := range hashes {
		key := shareKey(hash)
		data, err := s.db.Get(key, nil)
		if err != nil {
			continue
		}
		var rec shareRecord
		if json.Unmarshal(data, &rec) != nil {
			continue
		}
		rec.Paid = true
		encoded, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		batch.Put(key, encoded)
	}
	return s.db.Write(batch, nil)
}

func peerKey(id string) []byte {
	return append([]byte{prefixPeer}, []byte(id)...)
}

// PutPeer persists peer metadata (address, role, last-seen) under the
// `peers` collection.
func (s *Store) PutPeer(id string, data []byte) error {
	return s.db.Put(peerKey(id), data, nil)
}

// GetPeer retrieves previously persisted peer metadata.
func (s *Store) GetPeer(id string) ([]byte, bool) {
	data, err := s.db.Get(peerKey(id), nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

// PutNodeStatus persists a snapshot under the `node_status` collection.
func (s *Store) PutNodeStatus(data []byte) error {
	return s.db.Put([]byte{prefixNodeStatus}, data, nil)
}

// GetNodeStatus retrieves the last persisted status snapshot.
func (s *Store) GetNodeStatus() ([]byte, bool) {
	data, err := s.db.Get([]byte{prefixNodeStatus}, nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

func cacheKey(name, key string) []byte {
	return append([]byte{prefixCache, 'c'}, []byte(name+"\x00"+key)...)
}

// PutCache writes a side-table cache entry under `*_cache`.
func (s *Store) PutCache(name, key string, data []byte) error {
	return s.db.Put(cacheKey(name, key), data, nil)
}

// GetCache reads a side-table cache entry.
func (s *Store) GetCache(name, key string) ([]byte, bool) {
	data, err := s.db.Get(cacheKey(name, key), nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

// DeleteCache drops a side-table cache entry, used by the
// cache-validator loop (spec.md §4.8) to evict entries whose
// referenced block hash no longer matches the stored block.
func (s *Store) DeleteCache(name, key string) error {
	return s.db.Delete(cacheKey(name, key), nil)
}

// IsNotFound reports whether err is the engine's not-found sentinel,
// letting callers distinguish "missing" from a real I/O error without
// importing goleveldb/errors themselves.
func IsNotFound(err error) bool {
	return err == errors.ErrNotFound
}
