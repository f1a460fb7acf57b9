// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config implements the node's configuration surface, the
// enumerated option set of spec.md §6, parsed from CLI flags via
// go-flags the way the rest of this lineage's tooling does (the
// teacher's own root `config.go` was not carried into this retrieval
// pack, so this follows the pattern its sibling btcd-family fork uses
// throughout its own command configs:
// `kasparov/kasparovd/config/config.go` and
// `mining/simulator/config.go`, both a `flags.NewParser(cfg,
// flags.PrintErrors|flags.HelpFlag).Parse()` one-shot parse, no
// separate ini pass).
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/vaultchain/vaultd/chainparams"
)

// Mode is one of the node's operating modes, spec.md §6 "modes ⊆
// {NODE, POOL, WEB, PROXY, DNS, SSL}".
type Mode string

const (
	ModeNode  Mode = "NODE"
	ModePool  Mode = "POOL"
	ModeWeb   Mode = "WEB"
	ModeProxy Mode = "PROXY"
	ModeDNS   Mode = "DNS"
	ModeSSL   Mode = "SSL"
)

func validMode(m Mode) bool {
	switch m {
	case ModeNode, ModePool, ModeWeb, ModeProxy, ModeDNS, ModeSSL:
		return true
	default:
		return false
	}
}

const (
	defaultAppName        = "vaultd"
	defaultConfigFilename = "vaultd.conf"
	defaultDataDirname    = "data"
	defaultLogFilename    = "vaultd.log"
	defaultErrLogFilename = "vaultd_err.log"

	defaultMaxInbound  = 125
	defaultMaxOutbound = 8
	defaultMaxMiners   = 64

	defaultPeerHost         = "0.0.0.0"
	defaultPeerPort         = 8333
	defaultServeHost        = "0.0.0.0"
	defaultServePort        = 8334
	defaultStratumPoolPort  = 3333

	defaultPeersWait          = 30 * time.Second
	defaultStatusWait         = 60 * time.Second
	defaultBlockCheckerWait   = 5 * time.Second
	defaultQueueProcessorWait = 1 * time.Second
	defaultMessageSenderWait  = 2 * time.Second
	defaultMempoolCleanerWait = 60 * time.Second
	defaultNonceProcessorWait = 1 * time.Second
	defaultCacheValidatorWait = 30 * time.Second
	defaultPoolPayerWait      = 10 * time.Minute
)

// Waits is the nine `*_wait` durations spec.md §6 enumerates.
type Waits struct {
	Peers          time.Duration `long:"peers_wait" description:"interval between peer-maintenance ticks" default:"30s"`
	Status         time.Duration `long:"status_wait" description:"interval between status snapshots" default:"1m"`
	BlockChecker   time.Duration `long:"block_checker_wait" description:"interval between block-checker ticks" default:"5s"`
	QueueProcessor time.Duration `long:"queue_processor_wait" description:"interval between queue-processor ticks" default:"1s"`
	MessageSender  time.Duration `long:"message_sender_wait" description:"interval between message-sender retry passes" default:"2s"`
	MempoolCleaner time.Duration `long:"mempool_cleaner_wait" description:"interval between mempool-cleaner sweeps" default:"1m"`
	NonceProcessor time.Duration `long:"nonce_processor_wait" description:"interval between nonce-processor ticks" default:"1s"`
	CacheValidator time.Duration `long:"cache_validator_wait" description:"interval between cache-validator sweeps" default:"30s"`
	PoolPayer      time.Duration `long:"pool_payer_wait" description:"interval between pool-payer cycles" default:"10m"`
}

// Config is the full set of recognized options, spec.md §6
// "Configuration recognized options".
type Config struct {
	Network string   `long:"network" description:"mainnet, testnet, or regnet" default:"mainnet"`
	Modes   []string `long:"modes" description:"operating modes: NODE, POOL, WEB, PROXY, DNS, SSL" default:"NODE"`

	MaxInbound  int `long:"max_inbound" description:"maximum inbound peer connections" default:"125"`
	MaxOutbound int `long:"max_outbound" description:"maximum outbound peer connections" default:"8"`
	MaxMiners   int `long:"max_miners" description:"maximum concurrent stratum miner connections" default:"64"`

	PeerHost         string `long:"peer_host" description:"address the P2P listener binds to" default:"0.0.0.0"`
	PeerPort         int    `long:"peer_port" description:"port the P2P listener binds to" default:"8333"`
	ServeHost        string `long:"serve_host" description:"address the HTTP surface binds to" default:"0.0.0.0"`
	ServePort        int    `long:"serve_port" description:"port the HTTP surface binds to" default:"8334"`
	StratumPoolPort  int    `long:"stratum_pool_port" description:"port the stratum mining endpoint binds to" default:"3333"`

	Waits Waits `group:"Scheduler waits"`

	DataDir  string `long:"datadir" description:"directory to store the chain database"`
	LogDir   string `long:"logdir" description:"directory to store log files"`
	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical" default:"info"`

	network chainparams.Network
}

func defaultHomeDir() string {
	return appDataDir(defaultAppName)
}

// Load parses CLI arguments into a Config, applying defaults and
// validating the enumerated fields (network, modes).
func Load(args []string) (*Config, error) {
	cfg := &Config{
		DataDir: filepath.Join(defaultHomeDir(), defaultDataDirname),
		LogDir:  defaultHomeDir(),
	}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	switch c.Network {
	case "mainnet":
		c.network = chainparams.Mainnet
	case "testnet":
		c.network = chainparams.Testnet
	case "regnet":
		c.network = chainparams.Regnet
	default:
		return fmt.Errorf("config: unrecognized network %q", c.Network)
	}

	if len(c.Modes) == 0 {
		c.Modes = []string{string(ModeNode)}
	}
	for _, m := range c.Modes {
		if !validMode(Mode(m)) {
			return fmt.Errorf("config: unrecognized mode %q", m)
		}
	}
	return nil
}

// ActiveNetwork returns the parsed network, valid only after Load has
// succeeded.
func (c *Config) ActiveNetwork() chainparams.Network {
	return c.network
}

// HasMode reports whether m is among the configured operating modes.
func (c *Config) HasMode(m Mode) bool {
	for _, configured := range c.Modes {
		if Mode(configured) == m {
			return true
		}
	}
	return false
}

// PeerAddr returns the P2P listener's bind address.
func (c *Config) PeerAddr() string {
	return fmt.Sprintf("%s:%d", c.PeerHost, c.PeerPort)
}

// ServeAddr returns the HTTP surface's bind address.
func (c *Config) ServeAddr() string {
	return fmt.Sprintf("%s:%d", c.ServeHost, c.ServePort)
}

// StratumAddr returns the stratum mining endpoint's bind address.
func (c *Config) StratumAddr() string {
	return fmt.Sprintf("%s:%d", c.PeerHost, c.StratumPoolPort)
}
