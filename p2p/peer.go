// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2p implements the role-typed peer overlay of spec.md §4.7:
// link rules between roles, the challenge/response handshake, the
// line-delimited JSON-RPC message protocol with its per-id retry
// queue, and deterministic ServiceProvider routing.
package p2p

import (
	"fmt"

	"github.com/vaultchain/vaultd/crypto"
)

// Role identifies a peer's position in the overlay tier, spec.md §4.7.
type Role int

const (
	RoleSeed Role = iota
	RoleSeedGateway
	RoleServiceProvider
	RoleUser
)

// String satisfies fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleSeed:
		return "seed"
	case RoleSeedGateway:
		return "seed_gateway"
	case RoleServiceProvider:
		return "service_provider"
	case RoleUser:
		return "user"
	default:
		return "unknown"
	}
}

// linkRule describes one role's connection limits and allowed peer,
// the table in spec.md §4.7 ("Roles and link rules").
type linkRule struct {
	connectsTo  Role
	inboundFrom []Role
	inboundCap  int // -1 means unbounded
	outboundCap int
}

var linkRules = map[Role]linkRule{
	RoleSeed:            {connectsTo: RoleSeed, inboundFrom: []Role{RoleSeed, RoleSeedGateway}, inboundCap: -1, outboundCap: 1},
	RoleSeedGateway:     {connectsTo: RoleSeed, inboundFrom: []Role{RoleServiceProvider}, inboundCap: -1, outboundCap: 1},
	RoleServiceProvider: {connectsTo: RoleSeedGateway, inboundFrom: []Role{RoleUser}, inboundCap: -1, outboundCap: 1},
	RoleUser:            {connectsTo: RoleServiceProvider, inboundFrom: []Role{RoleUser}, inboundCap: -1, outboundCap: 1},
}

// OutboundTarget returns the role self should dial outbound to, per
// the link-rules table.
func (r Role) OutboundTarget() Role {
	return linkRules[r].connectsTo
}

// AcceptsInboundFrom reports whether self accepts an inbound
// connection claiming role other.
func (r Role) AcceptsInboundFrom(other Role) bool {
	for _, allowed := range linkRules[r].inboundFrom {
		if allowed == other {
			return true
		}
	}
	return false
}

// OutboundCap returns the number of outbound connections r is allowed
// to hold open at once (seed's own outbound cap is 1 "to another seed"
// per the table's ∞ inbound / bounded outbound shape).
func (r Role) OutboundCap() int {
	return linkRules[r].outboundCap
}

// Peer is one connected overlay participant, spec.md §3 Peer.
type Peer struct {
	ID            string
	Role          Role
	Address       string
	Username      string
	UsernameSig   string
	PublicKey     string
	Agent         string
	Authenticated bool

	Stream  *Stream
	Retries *RetryQueue
}

// Send queues msg on the peer's retry queue and writes it to the
// underlying stream, spec.md §4.7 "Outbound `params` messages are
// queued by `id` and retried up to 3 times".
func (p *Peer) Send(msg Message) error {
	if p.Retries != nil && msg.Method != "" && len(msg.Params) > 0 {
		p.Retries.Enqueue(msg)
	}
	if p.Stream == nil {
		return fmt.Errorf("p2p: peer %s has no open stream", p.ID)
	}
	return p.Stream.Send(msg)
}

// RoleSets classifies a connecting peer by checking its
// username-signature against the operator-configured seed/seed-gateway/
// service-provider sets, per spec.md §4.7 handshake step (2):
// "chooses a role class by checking whether the peer's
// username-signature appears in the configured sets ... otherwise the
// peer is a User."
type RoleSets struct {
	Seeds            map[string]bool
	SeedGateways     map[string]bool
	ServiceProviders map[string]bool
}

// ClassifyRole returns the Role a peer identifying with usernameSig
// should be treated as.
func (rs RoleSets) ClassifyRole(usernameSig string) Role {
	switch {
	case rs.Seeds[usernameSig]:
		return RoleSeed
	case rs.SeedGateways[usernameSig]:
		return RoleSeedGateway
	case rs.ServiceProviders[usernameSig]:
		return RoleServiceProvider
	default:
		return RoleUser
	}
}

// VerifyUsernameSignature checks that usernameSig is a valid ECDSA
// signature of username under the peer's claimed public key, spec.md
// §4.7 handshake step (3).
func VerifyUsernameSignature(username, usernameSig, publicKeyHex string) error {
	pub, err := crypto.ParsePublicKeyHex(publicKeyHex)
	if err != nil {
		return fmt.Errorf("p2p: malformed peer public key: %w", err)
	}
	sig, err := hexDecode(usernameSig)
	if err != nil {
		return fmt.Errorf("p2p: malformed username signature: %w", err)
	}
	if err := crypto.Verify(pub, []byte(username), sig); err != nil {
		return fmt.Errorf("p2p: username signature does not verify: %w", err)
	}
	return nil
}
