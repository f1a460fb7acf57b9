// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"crypto/sha256"
	"encoding/binary"
)

// RoutingPath is the fixed hop order a User-to-User message traverses,
// spec.md §4.7 Routing: "User → ServiceProvider → SeedGateway → Seed →
// Seed → SeedGateway → ServiceProvider → User." Each entry is stamped
// as a `source_<role>` field by the hop that forwards the message; the
// response follows the same sequence in reverse.
var RoutingPath = []Role{
	RoleUser, RoleServiceProvider, RoleSeedGateway, RoleSeed,
	RoleSeed, RoleSeedGateway, RoleServiceProvider, RoleUser,
}

// SourceField returns the `source_<role>` field name a hop of role r
// stamps onto a message it forwards.
func SourceField(r Role) string {
	return "source_" + r.String()
}

// SelectServiceProvider deterministically picks which of the available
// (non-skipped) seed gateways' downstream ServiceProvider a message
// for usernameSig should route through, per spec.md §4.7:
// "(hash(username_signature) × ⌊(now−epoch)/ttl⌋+1) mod |seed_gateways|,
// skipping gateways that are currently unavailable." gateways is the
// full configured list in stable order; unavailable entries must
// already be excluded by the caller before calling, matching the
// "skipping" language literally rather than re-deriving availability
// here.
func SelectServiceProvider(usernameSig string, now, epoch, ttl int64, gateways []string) (string, bool) {
	if len(gateways) == 0 {
		return "", false
	}
	epochWindows := (now-epoch)/ttl + 1
	h := hashUsernameSig(usernameSig)
	idx := (h * uint64(epochWindows)) % uint64(len(gateways))
	return gateways[idx], true
}

// hashUsernameSig reduces a username signature to a uint64 routing
// key via SHA-256, taking the first 8 bytes big-endian.
func hashUsernameSig(usernameSig string) uint64 {
	sum := sha256.Sum256([]byte(usernameSig))
	return binary.BigEndian.Uint64(sum[:8])
}
