// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command vaultd is the full node binary: it parses configuration,
// opens the chain store, wires the consensus engine, mempool, mining
// pool, and P2P overlay into one scheduler.Node, and runs the
// cooperative loop set of spec.md §4.8 until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/vaultchain/vaultd/amount"
	"github.com/vaultchain/vaultd/chain"
	"github.com/vaultchain/vaultd/chainhash"
	"github.com/vaultchain/vaultd/chainparams"
	"github.com/vaultchain/vaultd/config"
	"github.com/vaultchain/vaultd/consensus"
	"github.com/vaultchain/vaultd/crypto"
	"github.com/vaultchain/vaultd/mempool"
	"github.com/vaultchain/vaultd/mining"
	"github.com/vaultchain/vaultd/p2p"
	"github.com/vaultchain/vaultd/scheduler"
	"github.com/vaultchain/vaultd/store"
)

// mempoolCleanAfter is how long an unconfirmed transaction may sit in
// the pool before the mempool-cleaner loop considers it stale, spec.md
// §4.6 "aged past the clean threshold".
const mempoolCleanAfter = 72 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("vaultd: %w", err)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("vaultd: %w", err)
	}
	defer closeLog()

	log.Infof("vaultd starting, network=%s datadir=%s", cfg.ActiveNetwork(), cfg.DataDir)
	chainparams.SetActiveNetwork(cfg.ActiveNetwork())

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("vaultd: %w", err)
	}
	defer db.Close()

	if _, ok := db.Tip(); !ok {
		genesis := chain.Genesis()
		if err := db.InsertBlock(genesis); err != nil {
			return fmt.Errorf("vaultd: insert genesis block: %w", err)
		}
		if err := db.IndexBlockOutputs(genesis); err != nil {
			return fmt.Errorf("vaultd: index genesis outputs: %w", err)
		}
		log.Infof("inserted genesis block %s", genesis.Hash)
	}

	minerKey, err := nodeSigningKey(cfg)
	if err != nil {
		return fmt.Errorf("vaultd: %w", err)
	}

	node := scheduler.NewNode(log, 4096)
	node.Store = db
	node.BlockReward = func(height int64) amount.Amount {
		return amount.NewFromFloat(chainparams.BlockReward(height))
	}

	pool := mempool.New(db, mempoolCleanAfter, func() int64 { return time.Now().Unix() })

	hasher := chainhash.NullHasher()
	engine := &consensus.Engine{
		Network:         cfg.ActiveNetwork(),
		Store:           db,
		Records:         store.ConsensusRecords{Store: db},
		Hasher:          hasher,
		MaxRetraceDepth: db.TipIndex(),
		OnNewBlock: func(b *chain.Block) {
			log.Infof("new tip: height=%d hash=%s", b.Index, b.Hash)
			if node.Mining != nil {
				if err := node.Mining.Refresh(); err != nil {
					log.Warnf("refresh mining candidate after new tip: %v", err)
				}
			}
		},
	}
	node.Consensus = engine
	node.Mempool = pool

	if cfg.HasMode(config.ModePool) {
		miningPool := mining.NewPool(cfg.ActiveNetwork(), db, pool, db, hasher, minerKey, 1<<16)
		node.Mining = miningPool
		node.Payouts = mining.NewPayoutScheduler(db, func(amounts map[string]amount.Amount) error {
			log.Infof("pool payout computed for %d addresses", len(amounts))
			return nil
		})
	}

	manager, err := p2p.NewManager(p2p.RoleUser, filepath.Join(cfg.DataDir, "peers"), nil)
	if err != nil {
		return fmt.Errorf("vaultd: %w", err)
	}
	node.Manager = manager
	node.Peers = manager

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(log, node.Loops(scheduler.Waits(cfg.Waits)))
	sched.Start(ctx)
	defer sched.Stop()

	manager.Start()
	defer manager.Stop()

	log.Infof("vaultd ready, tip height=%d", db.TipIndex())
	<-ctx.Done()
	log.Infof("vaultd shutting down")
	return nil
}

// nodeSigningKey loads (or, on first run, generates and persists) the
// node's secp256k1 identity used for mining and the P2P handshake's
// username signature, spec.md §3 Peer "identity (username,
// username-signature, public key)".
func nodeSigningKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	path := filepath.Join(cfg.DataDir, "node.key")
	b, err := os.ReadFile(path)
	if err == nil {
		return crypto.ParsePrivateKeyHex(string(b))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read node key: %w", err)
	}
	priv, hexKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create datadir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hexKey), 0o600); err != nil {
		return nil, fmt.Errorf("persist node key: %w", err)
	}
	return priv, nil
}

// newLogger wires a decred/slog backend onto a rotating log file (and
// stdout), the teacher's own `config.go`/`log.go` pair's convention
// for every exccd-family command.
func newLogger(cfg *config.Config) (slog.Logger, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create logdir: %w", err)
	}
	r, err := rotator.New(filepath.Join(cfg.LogDir, "vaultd.log"), 10*1024, false, 3)
	if err != nil {
		return nil, nil, fmt.Errorf("open log rotator: %w", err)
	}
	backend := slog.NewBackend(r)
	log := backend.Logger("VLTD")
	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		level = slog.LevelInfo
	}
	log.SetLevel(level)
	return log, func() { r.Close() }, nil
}
