// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"fmt"
	"sort"

	"github.com/vaultchain/vaultd/amount"
)

// ShareRecord is one persisted, unpaid mining share.
type ShareRecord struct {
	Address string
	Hash    string
	Height  int64
}

// PayoutLedger is the read/write surface PayoutScheduler needs beyond
// ShareRecorder: enumerating unpaid shares and marking a batch paid
// once a payout has been recorded. Source: miningpool.py's
// get_miner_payout_percentages, which reads all shares since the last
// payout and proportions a block reward across contributing
// addresses.
type PayoutLedger interface {
	ShareRecorder
	UnpaidShares() ([]ShareRecord, error)
	MarkSharesPaid(hashes []string) error
}

// PayoutScheduler implements the supplemented `pool_payer_wait` tick
// (spec.md §6 names the config option; no operation consumed it in
// the distilled spec): it reads accumulated shares and computes each
// contributing miner's proportional cut of a payout amount, per
// spec.md §4.5/§6 "shares" collection and the original's
// `get_miner_payout_percentages`. It only records the computed
// amounts; constructing and broadcasting the actual payout
// transaction is delegated to the mempool/consensus path already
// specified, via RecordPayout.
type PayoutScheduler struct {
	Ledger       PayoutLedger
	RecordPayout func(amounts map[string]amount.Amount) error
}

// NewPayoutScheduler constructs a PayoutScheduler.
func NewPayoutScheduler(ledger PayoutLedger, recordPayout func(map[string]amount.Amount) error) *PayoutScheduler {
	return &PayoutScheduler{Ledger: ledger, RecordPayout: recordPayout}
}

// Run computes and records one payout cycle's proportional amounts
// from the current unpaid share backlog, splitting total up by each
// address's share count and crediting any leftover unit (from integer
// rounding) to the address with the most shares, so the sum of payouts
// exactly equals total.
func (s *PayoutScheduler) Run(total amount.Amount) error {
	shares, err := s.Ledger.UnpaidShares()
	if err != nil {
		return fmt.Errorf("mining: list unpaid shares: %w", err)
	}
	if len(shares) == 0 {
		return nil
	}

	counts := make(map[string]int)
	addrs := make([]string, 0)
	for _, sh := range shares {
		if counts[sh.Address] == 0 {
			addrs = append(addrs, sh.Address)
		}
		counts[sh.Address]++
	}
	sort.Slice(addrs, func(i, j int) bool { return counts[addrs[i]] > counts[addrs[j]] })

	amounts := make(map[string]amount.Amount, len(addrs))
	var distributed amount.Amount
	for _, addr := range addrs {
		share := amount.Amount(int64(total) * int64(counts[addr]) / int64(len(shares)))
		amounts[addr] = share
		distributed += share
	}
	if remainder := total - distributed; remainder != 0 && len(addrs) > 0 {
		amounts[addrs[0]] += remainder
	}

	if err := s.RecordPayout(amounts); err != nil {
		return fmt.Errorf("mining: record payout: %w", err)
	}

	hashes := make([]string, len(shares))
	for i, sh := range shares {
		hashes[i] = sh.Hash
	}
	return s.Ledger.MarkSharesPaid(hashes)
}
