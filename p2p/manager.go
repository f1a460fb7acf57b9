// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/decred/dcrd/addrmgr/v2"
	"github.com/decred/dcrd/connmgr/v3"
)

// Timing constants from spec.md §5 "Cancellation": "Outbound connect
// attempts have a connect-timeout (≈1 s) and a wait-for-peers timeout
// (20 s) after which the peer is marked probable-old and deprioritized
// for 1 hour."
const (
	ConnectTimeout        = 1 * time.Second
	WaitForPeersTimeout   = 20 * time.Second
	ProbableOldDeprioritize = 1 * time.Hour
)

// Dialer opens a connection to addr, the function connmgr invokes for
// each outbound attempt.
type Dialer func(ctx context.Context, addr net.Addr) (net.Conn, error)

// Manager owns outbound connection lifecycle (per-role caps, retry
// queues, address book) for one node, grounded on addrmgr's
// discovered→tried address lifecycle and connmgr's connect-timeout +
// backoff connection requests.
type Manager struct {
	Role Role

	addrs *addrmgr.AddrManager
	conns *connmgr.ConnManager

	mu           sync.Mutex
	outbound     map[string]*Peer
	inbound      map[string]*Peer
	deprioritize map[string]time.Time
}

// NewManager constructs a Manager for a node running as role, backed
// by an address manager rooted at dataDir and a connection manager
// dialing via dial.
func NewManager(role Role, dataDir string, dial Dialer) (*Manager, error) {
	am := addrmgr.New(dataDir, net.LookupIP)

	m := &Manager{
		Role:         role,
		addrs:        am,
		outbound:     make(map[string]*Peer),
		inbound:      make(map[string]*Peer),
		deprioritize: make(map[string]time.Time),
	}

	cm, err := connmgr.New(&connmgr.Config{
		TargetOutbound: uint32(role.OutboundCap()),
		RetryDuration:  ConnectTimeout,
		GetNewAddress:  m.nextOutboundAddress,
		Dial: func(addr net.Addr) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
			defer cancel()
			return dial(ctx, addr)
		},
		OnConnection:    m.onOutboundConnected,
		OnDisconnection: m.onOutboundDisconnected,
	})
	if err != nil {
		return nil, err
	}
	m.conns = cm
	return m, nil
}

// Start begins the address manager and connection manager's
// background work.
func (m *Manager) Start() {
	m.addrs.Start()
	m.conns.Start()
}

// Stop halts both managers.
func (m *Manager) Stop() {
	m.conns.Stop()
	m.addrs.Stop()
}

// nextOutboundAddress returns the next address the address manager
// offers, or errNoAddress when that address is currently deprioritized
// per the wait-for-peers rule. It does not filter addresses by role.
func (m *Manager) nextOutboundAddress() (net.Addr, error) {
	known := m.addrs.GetAddress()
	if known == nil {
		return nil, errNoAddress
	}
	netAddr := known.NetAddress()

	m.mu.Lock()
	until, deprioritized := m.deprioritize[netAddr.IP.String()]
	m.mu.Unlock()
	if deprioritized && time.Now().Before(until) {
		return nil, errNoAddress
	}
	return &net.TCPAddr{IP: netAddr.IP, Port: int(netAddr.Port)}, nil
}

var errNoAddress = &net.AddrError{Err: "p2p: no eligible outbound address", Addr: ""}

// MarkProbableOld deprioritizes addr for ProbableOldDeprioritize,
// spec.md §5's "marked probable-old and deprioritized for 1 hour"
// consequence of a wait-for-peers timeout.
func (m *Manager) MarkProbableOld(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deprioritize[addr] = time.Now().Add(ProbableOldDeprioritize)
}

func (m *Manager) onOutboundConnected(req *connmgr.ConnReq, conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound[conn.RemoteAddr().String()] = &Peer{
		ID:      conn.RemoteAddr().String(),
		Role:    m.Role.OutboundTarget(),
		Address: conn.RemoteAddr().String(),
	}
}

func (m *Manager) onOutboundDisconnected(req *connmgr.ConnReq) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.outbound {
		if p.Role == m.Role.OutboundTarget() {
			delete(m.outbound, id)
			break
		}
	}
}

// AddInbound registers an authenticated inbound peer, enforcing the
// role's inbound acceptance rule (spec.md §4.7 link rules table).
func (m *Manager) AddInbound(p *Peer) bool {
	if !m.Role.AcceptsInboundFrom(p.Role) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound[p.ID] = p
	return true
}

// RemoveInbound drops a disconnected inbound peer's entry from the
// inbound map. It does not cancel the peer's pending RPC calls or touch
// any other map.
func (m *Manager) RemoveInbound(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inbound, id)
}

// InboundCount returns the number of currently connected inbound peers.
func (m *Manager) InboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbound)
}

// OutboundCount returns the number of currently connected outbound
// peers.
func (m *Manager) OutboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}

// Peers returns the ids of every currently connected peer, inbound and
// outbound, satisfying scheduler.PeerBroadcaster for the block-checker
// and message-sender loops (spec.md §4.8).
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inbound)+len(m.outbound))
	for id := range m.inbound {
		ids = append(ids, id)
	}
	for id := range m.outbound {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers msg to exactly the peer identified by id, satisfying
// scheduler.PeerBroadcaster.
func (m *Manager) Send(id string, msg Message) error {
	m.mu.Lock()
	p, ok := m.inbound[id]
	if !ok {
		p, ok = m.outbound[id]
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("p2p: unknown peer %s", id)
	}
	return p.Send(msg)
}

// Broadcast fans msg out to every currently connected peer, best
// effort (a send failure here is the message-sender loop's retry
// queue's concern, not Broadcast's).
func (m *Manager) Broadcast(msg Message) {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.inbound)+len(m.outbound))
	for _, p := range m.inbound {
		peers = append(peers, p)
	}
	for _, p := range m.outbound {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		_ = p.Send(msg)
	}
}
